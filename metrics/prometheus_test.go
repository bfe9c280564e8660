package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusReporterCollect(t *testing.T) {
	rep, err := NewPrometheusReporter(&PrometheusReporterConfig{
		Namespace: "apm",
		ChanSize:  4,
		ExtLabels: map[string]string{"service": "checkout"},
	})
	require.NoError(t, err)

	first := NewTable()
	require.NoError(t, first.Record("Datastore/all", "", ms(30), ms(2)))
	require.NoError(t, first.Record("Datastore/statement/MongoDB/users/find", "WebTransaction/NormalizedUri/*", ms(30), ms(2)))
	second := NewTable()
	require.NoError(t, second.Record("Datastore/all", "", ms(10), ms(10)))

	rep.Report(first)
	rep.Report(second)
	rep.Flush()

	assert.Equal(t, 12, testutil.CollectAndCount(rep))
	assert.Equal(t, 2, testutil.CollectAndCount(rep, "apm_metric_calls_total"))

	body := scrape(t, rep.Handler())
	assert.Contains(t, body, `apm_metric_calls_total{name="Datastore/all",scope="",service="checkout"} 2`)
	assert.Contains(t, body, `apm_metric_duration_seconds_total{name="Datastore/all",scope="",service="checkout"} 0.04`)
	assert.Contains(t, body, `apm_metric_duration_min_seconds{name="Datastore/all",scope="",service="checkout"} 0.01`)
	assert.Contains(t, body, `apm_metric_duration_max_seconds{name="Datastore/all",scope="",service="checkout"} 0.03`)
	assert.Contains(t, body, `scope="WebTransaction/NormalizedUri/*"`)
}

func TestPrometheusReporterServesHTTP(t *testing.T) {
	cfg := DefaultPrometheusReporterConfig()
	cfg.HTTPListenAddr = "127.0.0.1:0"
	cfg.EnableHealthCheck = true
	rep, err := NewPrometheusReporter(cfg)
	require.NoError(t, err)
	require.NoError(t, rep.Start())
	defer rep.Stop()

	tbl := NewTable()
	require.NoError(t, tbl.Record("Datastore/all", "", ms(5), ms(5)))
	rep.Report(tbl)

	base := "http://" + rep.Addr().String()
	want := `apm_metric_calls_total{name="Datastore/all",scope=""} 1`
	assert.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK && strings.Contains(string(body), want)
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/health", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPrometheusReporterChanFull(t *testing.T) {
	rep, err := NewPrometheusReporter(&PrometheusReporterConfig{Namespace: "apm", ChanSize: 1, HealthCheckPath: "/health"})
	require.NoError(t, err)

	rep.Report(NewTable())
	rep.Report(NewTable())

	rec := httptest.NewRecorder()
	rep.healthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPrometheusReporterConfigValidate(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*PrometheusReporterConfig)
		expectErr bool
	}{
		{name: "defaults", mutate: func(*PrometheusReporterConfig) {}},
		{name: "empty namespace", mutate: func(c *PrometheusReporterConfig) { c.Namespace = "" }, expectErr: true},
		{name: "zero chan", mutate: func(c *PrometheusReporterConfig) { c.ChanSize = 0 }, expectErr: true},
		{name: "bad path", mutate: func(c *PrometheusReporterConfig) { c.HTTPListenAddr = ":0"; c.MetricPath = "metrics" }, expectErr: true},
		{name: "push without addr", mutate: func(c *PrometheusReporterConfig) { c.UsePush = true }, expectErr: true},
		{name: "push ok", mutate: func(c *PrometheusReporterConfig) { c.UsePush = true; c.PushAddr = "http://gw:9091" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultPrometheusReporterConfig()
			tc.mutate(cfg)
			if tc.expectErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
