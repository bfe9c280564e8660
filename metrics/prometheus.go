package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/apmcore/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	_prometheusFactoryName = "prometheus"
	_serviceName           = "apmcore-exporter"
)

// PrometheusReporterConfig contains configuration for the Prometheus reporter.
type PrometheusReporterConfig struct {
	Tag               string            `mapstructure:"tag"`               // Instance tag
	Namespace         string            `mapstructure:"namespace"`         // Metric name prefix
	ChanSize          int               `mapstructure:"chanSize"`          // Harvest queue size
	HTTPListenAddr    string            `mapstructure:"httpListenAddr"`    // Empty disables the HTTP server
	MetricPath        string            `mapstructure:"metricPath"`        // Metrics HTTP path
	UsePush           bool              `mapstructure:"usePush"`           // Enable push mode
	PushAddr          string            `mapstructure:"pushAddr"`          // Push gateway address
	PushIntervalSec   int               `mapstructure:"pushIntervalSec"`   // Push interval in seconds
	PushJobName       string            `mapstructure:"pushJobName"`       // Push job name
	ExtLabels         map[string]string `mapstructure:"extLabels"`         // Constant labels on every series
	EnableHealthCheck bool              `mapstructure:"enableHealthCheck"` // Enable health check
	HealthCheckPath   string            `mapstructure:"healthCheckPath"`   // Health check path
}

// DefaultPrometheusReporterConfig returns the reporter defaults.
func DefaultPrometheusReporterConfig() *PrometheusReporterConfig {
	return &PrometheusReporterConfig{
		Namespace:       "apm",
		ChanSize:        64,
		MetricPath:      "/metrics",
		PushIntervalSec: 15,
		PushJobName:     "apmcore",
		HealthCheckPath: "/health",
	}
}

// Validate checks the reporter configuration.
func (c *PrometheusReporterConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("prometheus namespace cannot be empty")
	}
	if c.ChanSize <= 0 {
		return fmt.Errorf("prometheus chan size must be positive, got %d", c.ChanSize)
	}
	if c.HTTPListenAddr != "" && !strings.HasPrefix(c.MetricPath, "/") {
		return fmt.Errorf("prometheus metric path must start with '/', got %q", c.MetricPath)
	}
	if c.UsePush {
		if c.PushAddr == "" {
			return errors.New("prometheus push address cannot be empty when push is enabled")
		}
		if c.PushIntervalSec <= 0 {
			return fmt.Errorf("prometheus push interval must be positive, got %d", c.PushIntervalSec)
		}
		if c.PushJobName == "" {
			return errors.New("prometheus push job name cannot be empty when push is enabled")
		}
	}
	return nil
}

type promDescs struct {
	calls     *prometheus.Desc
	total     *prometheus.Desc
	exclusive *prometheus.Desc
	min       *prometheus.Desc
	max       *prometheus.Desc
	squares   *prometheus.Desc
}

func newPromDescs(namespace string, extLabels map[string]string) promDescs {
	labels := []string{"name", "scope"}
	constLabels := make(prometheus.Labels, len(extLabels))
	for k, v := range extLabels {
		constLabels[strings.ReplaceAll(k, ".", "_")] = v
	}
	fq := func(name string) string {
		return prometheus.BuildFQName(namespace, "metric", name)
	}
	return promDescs{
		calls:     prometheus.NewDesc(fq("calls_total"), "Number of recorded calls.", labels, constLabels),
		total:     prometheus.NewDesc(fq("duration_seconds_total"), "Total call duration.", labels, constLabels),
		exclusive: prometheus.NewDesc(fq("exclusive_seconds_total"), "Total exclusive call duration.", labels, constLabels),
		min:       prometheus.NewDesc(fq("duration_min_seconds"), "Shortest recorded call.", labels, constLabels),
		max:       prometheus.NewDesc(fq("duration_max_seconds"), "Longest recorded call.", labels, constLabels),
		squares:   prometheus.NewDesc(fq("duration_squares_total"), "Sum of squared call durations in square seconds.", labels, constLabels),
	}
}

// PrometheusReporter exposes the cumulative process-wide metrics in Prometheus
// format. Harvested tables arrive through Report and are merged by a single
// goroutine; scrapes read the cumulative table through Collect.
type PrometheusReporter struct {
	cfg      *PrometheusReporterConfig
	registry *prometheus.Registry
	descs    promDescs

	tableChan chan *Table
	mu        sync.Mutex
	table     *Table

	promSvr      *http.Server
	addr         net.Addr
	pusher       *push.Pusher
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	healthStatus atomic.Int32 // 0 healthy, 1 unhealthy
	started      atomic.Bool
}

var _ prometheus.Collector = (*PrometheusReporter)(nil)

// NewPrometheusReporter creates a reporter with its own registry. Call Start to
// begin merging and serving.
func NewPrometheusReporter(cfg *PrometheusReporterConfig) (*PrometheusReporter, error) {
	if cfg == nil {
		cfg = DefaultPrometheusReporterConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	x := &PrometheusReporter{
		cfg:       cfg,
		registry:  prometheus.NewRegistry(),
		descs:     newPromDescs(cfg.Namespace, cfg.ExtLabels),
		tableChan: make(chan *Table, cfg.ChanSize),
		table:     NewTable(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if err := x.registry.Register(x); err != nil {
		cancel()
		return nil, fmt.Errorf("register prometheus collector: %w", err)
	}
	return x, nil
}

// FactoryName identifies the plugin implementation.
func (x *PrometheusReporter) FactoryName() string {
	return _prometheusFactoryName
}

// Registry returns the registry the reporter's collector is registered with.
func (x *PrometheusReporter) Registry() *prometheus.Registry {
	return x.registry
}

// Handler returns the HTTP handler serving the registry.
func (x *PrometheusReporter) Handler() http.Handler {
	return promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{})
}

// Addr returns the address of the HTTP server, or nil when it is disabled.
func (x *PrometheusReporter) Addr() net.Addr {
	return x.addr
}

// Report enqueues a harvested table. It never blocks the harvest cycle.
func (x *PrometheusReporter) Report(t *Table) {
	select {
	case x.tableChan <- t:
	default:
		x.healthStatus.Store(1)
		log.Error().Int("entries", t.Len()).Msg("prometheus reporter chan full")
	}
}

// Start launches the merge goroutine, the HTTP server and the pusher.
func (x *PrometheusReporter) Start() error {
	if !x.started.CompareAndSwap(false, true) {
		return nil
	}
	x.startAggregate()
	if x.cfg.HTTPListenAddr != "" {
		if err := x.startHTTPSvr(); err != nil {
			return err
		}
	}
	if x.cfg.UsePush {
		x.startPusher()
	}
	return nil
}

// Flush merges every table already reported. Intended for shutdown and tests.
func (x *PrometheusReporter) Flush() {
	for {
		select {
		case t := <-x.tableChan:
			x.merge(t)
		default:
			return
		}
	}
}

// Stop shuts the reporter down, merging whatever is still queued.
func (x *PrometheusReporter) Stop() {
	if x.cancel != nil {
		x.cancel()
		x.cancel = nil
	}
	x.wg.Wait()
	x.Flush()

	if x.promSvr != nil {
		if err := x.promSvr.Close(); err != nil {
			log.Error().Err(err).Msg("stop prometheus http server")
		}
		x.promSvr = nil
	}
}

func (x *PrometheusReporter) startAggregate() {
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		log.Info().Msg("prometheus collector begin")
		for {
			select {
			case t := <-x.tableChan:
				x.merge(t)
			case <-x.ctx.Done():
				log.Info().Msg("prometheus collector shutdown")
				return
			}
		}
	}()
}

func (x *PrometheusReporter) merge(t *Table) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.table.Merge(t); err != nil {
		log.Error().Err(err).Msg("prometheus merge")
	}
}

// startHTTPSvr serves the metrics path and, optionally, the health check.
func (x *PrometheusReporter) startHTTPSvr() error {
	l, err := net.Listen("tcp", x.cfg.HTTPListenAddr)
	if err != nil {
		return fmt.Errorf("prometheus listen %s: %w", x.cfg.HTTPListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(x.cfg.MetricPath, x.Handler())
	if x.cfg.EnableHealthCheck {
		mux.HandleFunc(x.cfg.HealthCheckPath, x.healthCheckHandler)
		log.Info().Str("path", x.cfg.HealthCheckPath).Msg("health check endpoint enabled")
	}

	x.promSvr = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	x.addr = l.Addr()
	go func(svr *http.Server) {
		if err := svr.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prometheus http server")
		}
	}(x.promSvr)
	log.Info().Str("addr", l.Addr().String()).Str("path", x.cfg.MetricPath).Msg("prometheus http start listen on")
	return nil
}

func (x *PrometheusReporter) startPusher() {
	x.pusher = push.New(x.cfg.PushAddr, x.cfg.PushJobName).Gatherer(x.registry)
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		log.Info().Str("addr", x.cfg.PushAddr).Msg("prometheus pusher started")
		t := time.NewTicker(time.Second * time.Duration(x.cfg.PushIntervalSec))
		defer t.Stop()
		for {
			select {
			case <-x.ctx.Done():
				log.Info().Msg("prometheus pusher end")
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(x.ctx, time.Second*5)
				if err := x.pusher.PushContext(ctx); err != nil {
					log.Error().Err(err).Msg("prometheus push")
				}
				cancel()
			}
		}
	}()
}

// healthCheckHandler reports unhealthy once a harvest had to be dropped or the
// queue is nearly full.
func (x *PrometheusReporter) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	usage := float64(len(x.tableChan)) / float64(cap(x.tableChan))
	status, code := "healthy", http.StatusOK
	if x.healthStatus.Load() != 0 || usage > 0.9 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"timestamp":  time.Now().Format(time.RFC3339),
		"service":    _serviceName,
		"chan_usage": usage,
	})
}

// Describe implements prometheus.Collector.
func (x *PrometheusReporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- x.descs.calls
	ch <- x.descs.total
	ch <- x.descs.exclusive
	ch <- x.descs.min
	ch <- x.descs.max
	ch <- x.descs.squares
}

// Collect implements prometheus.Collector.
func (x *PrometheusReporter) Collect(ch chan<- prometheus.Metric) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for k, s := range x.table.All() {
		v := s.Values()
		ch <- prometheus.MustNewConstMetric(x.descs.calls, prometheus.CounterValue, v[0], k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(x.descs.total, prometheus.CounterValue, v[1], k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(x.descs.exclusive, prometheus.CounterValue, v[2], k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(x.descs.min, prometheus.GaugeValue, v[3], k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(x.descs.max, prometheus.GaugeValue, v[4], k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(x.descs.squares, prometheus.CounterValue, v[5], k.Name, k.Scope)
	}
}
