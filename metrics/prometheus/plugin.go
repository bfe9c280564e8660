// Package prometheus registers the Prometheus reporter as a plugin factory.
package prometheus

import (
	"fmt"

	"github.com/linchenxuan/apmcore/log"
	"github.com/linchenxuan/apmcore/metrics"
	"github.com/linchenxuan/apmcore/plugin"
)

type factory struct{}

// NewFactory returns the factory for the "prometheus" reporter plugin.
func NewFactory() plugin.Factory {
	return &factory{}
}

// Type returns the plugin type.
func (f *factory) Type() plugin.Type {
	return plugin.Reporter
}

// Name returns the name of the plugin implementation.
func (f *factory) Name() string {
	return "prometheus"
}

// ConfigType returns the reporter defaults; the manager decodes the configured
// values on top of them using mapstructure.
func (f *factory) ConfigType() any {
	return metrics.DefaultPrometheusReporterConfig()
}

// Setup creates and starts a reporter.
func (f *factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*metrics.PrometheusReporterConfig)
	if !ok {
		return nil, fmt.Errorf("prometheus setup: unexpected config type %T", cfgAny)
	}

	p, err := metrics.NewPrometheusReporter(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		p.Stop()
		return nil, err
	}
	return p, nil
}

// Destroy stops a reporter created by Setup.
func (f *factory) Destroy(p plugin.Plugin) {
	prom, ok := p.(*metrics.PrometheusReporter)
	if !ok {
		log.Error().Str("type", fmt.Sprintf("%T", p)).Msg("prometheus destroy: unexpected plugin")
		return
	}
	prom.Stop()
}
