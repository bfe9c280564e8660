// Package apmcore assembles the metrics-aggregation core of an APM agent:
// transactions build segment trees, recorders turn them into metrics tables,
// and a process-wide aggregator merges those tables and hands them to
// reporter plugins on every harvest.
package apmcore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/linchenxuan/apmcore/config"
	"github.com/linchenxuan/apmcore/log"
	"github.com/linchenxuan/apmcore/metrics"
	"github.com/linchenxuan/apmcore/metrics/prometheus"
	"github.com/linchenxuan/apmcore/plugin"
	"github.com/linchenxuan/apmcore/tracing"
)

// Agent holds every long-lived component of the core.
type Agent struct {
	cfg           *config.Config
	Logger        *log.AgentLogger
	PluginManager *plugin.Manager
	Aggregator    *metrics.Aggregator

	stopOnce sync.Once
	stopErr  error
}

// New validates cfg, installs the logger as the process default, sets up the
// configured reporter plugins and attaches them to a fresh aggregator.
// Extra factories are registered next to the built-in Prometheus reporter.
// A nil cfg means config.Default().
func New(cfg *config.Config, factories ...plugin.Factory) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 1. Logger
	logger, err := log.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log.SetDefaultLogger(logger)
	cfg.Tracing.ApplyWarnLimit()

	// 2. Plugins
	pm := plugin.NewManager()
	pm.RegisterFactory(prometheus.NewFactory())
	for _, f := range factories {
		pm.RegisterFactory(f)
	}
	if err := pm.SetupPlugins(cfg.Plugins); err != nil {
		pm.DestroyAll()
		resetLogger(logger)
		return nil, fmt.Errorf("setup plugins: %w", err)
	}

	// 3. Aggregator fed to every reporter plugin
	agg := metrics.NewAggregator(cfg.Aggregator)
	reporters := 0
	for _, p := range pm.Plugins(plugin.Reporter) {
		r, ok := p.(metrics.Reporter)
		if !ok {
			log.Warn().Str("plugin", p.FactoryName()).Msg("reporter plugin does not implement metrics.Reporter")
			continue
		}
		agg.AddReporter(r)
		reporters++
	}

	a := &Agent{
		cfg:           cfg,
		Logger:        logger,
		PluginManager: pm,
		Aggregator:    agg,
	}

	logger.Info().
		Int("reporters", reporters).
		Int("queueSize", cfg.Aggregator.QueueSize).
		Dur("harvestInterval", cfg.Aggregator.HarvestInterval).
		Msg("apmcore agent initialized")
	return a, nil
}

// Config returns the configuration the agent was built with.
func (a *Agent) Config() *config.Config {
	return a.cfg
}

// Start launches the aggregator's merge and harvest loop.
func (a *Agent) Start(ctx context.Context) {
	a.Aggregator.Start(ctx)
}

// NewTransaction opens a transaction using the agent's tracing caps whose
// table is submitted to the aggregator when it ends. opts may override both.
func (a *Agent) NewTransaction(opts ...tracing.Option) *tracing.Transaction {
	base := []tracing.Option{
		tracing.WithConfig(a.cfg.Tracing),
		tracing.WithSink(a.Aggregator),
	}
	return tracing.NewTransaction(append(base, opts...)...)
}

// Harvest merges everything already submitted and reports it.
func (a *Agent) Harvest(ctx context.Context) (*metrics.Table, error) {
	if err := a.Aggregator.Flush(ctx); err != nil {
		return nil, err
	}
	return a.Aggregator.Harvest(), nil
}

type flusher interface {
	Flush()
}

// Stop closes the aggregator, runs a final harvest, flushes and destroys the
// reporter plugins and releases the logger. Later calls return the first
// result.
func (a *Agent) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.Logger.Info().Msg("apmcore agent shutting down")

		a.Aggregator.Close()
		final := a.Aggregator.Harvest()

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range a.PluginManager.Plugins(plugin.Reporter) {
			f, ok := p.(flusher)
			if !ok {
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return fmt.Errorf("flush %s: %w", p.FactoryName(), err)
				}
				f.Flush()
				return nil
			})
		}
		a.stopErr = g.Wait()

		a.PluginManager.DestroyAll()
		a.Logger.Info().
			Int("finalEntries", final.Len()).
			Int64("dropped", a.Aggregator.Dropped()).
			Msg("apmcore agent stopped")
		resetLogger(a.Logger)
	})
	return a.stopErr
}

// resetLogger puts a stderr logger back as the default before closing l, so
// late log calls never hit a closed file.
func resetLogger(l *log.AgentLogger) {
	log.SetDefaultLogger(log.New(os.Stderr, log.InfoLevel))
	if err := l.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close agent logger: %v\n", err)
	}
}
