// Package config loads the agent configuration from a file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/linchenxuan/apmcore/log"
	"github.com/linchenxuan/apmcore/metrics"
	"github.com/linchenxuan/apmcore/tracing"
)

// EnvPrefix prefixes environment overrides, e.g. APMCORE_LOG_LEVEL=debug.
const EnvPrefix = "APMCORE"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the whole agent configuration.
type Config struct {
	Log        log.LogCfg               `mapstructure:"log"`
	Tracing    tracing.Config           `mapstructure:"tracing"`
	Aggregator metrics.AggregatorConfig `mapstructure:"aggregator"`
	// Plugins is keyed by plugin type, then by factory name. Each leaf is
	// decoded by the plugin manager into the factory's config type.
	Plugins map[string]any `mapstructure:"plugins"`
}

// Default returns the configuration used when nothing is supplied.
func Default() *Config {
	return &Config{
		Log:        *log.DefaultLogCfg(),
		Tracing:    tracing.DefaultConfig(),
		Aggregator: metrics.DefaultAggregatorConfig(),
		Plugins:    map[string]any{},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: log: %v", ErrInvalidConfig, err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("%w: tracing: %v", ErrInvalidConfig, err)
	}
	if err := c.Aggregator.Validate(); err != nil {
		return fmt.Errorf("%w: aggregator: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Load reads the file at path (YAML, TOML or JSON, chosen by extension) on
// top of the defaults, then applies APMCORE_* environment overrides. An
// empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v)
}

// Parse is Load for in-memory content; format is "yaml", "toml" or "json".
func Parse(data []byte, format string) (*Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment lookups only resolve keys viper already knows about.
	def := Default()
	v.SetDefault("log.path", def.Log.LogPath)
	v.SetDefault("log.level", def.Log.LogLevel.String())
	v.SetDefault("log.fileAppender", def.Log.FileAppender)
	v.SetDefault("log.consoleAppender", def.Log.ConsoleAppender)
	v.SetDefault("log.enabledCallerInfo", def.Log.EnabledCallerInfo)
	v.SetDefault("log.callerSkip", def.Log.CallerSkip)
	v.SetDefault("tracing.maxDepth", def.Tracing.MaxDepth)
	v.SetDefault("tracing.maxSegments", def.Tracing.MaxSegments)
	v.SetDefault("tracing.warnsPerSecond", def.Tracing.WarnsPerSecond)
	v.SetDefault("tracing.warnBurst", def.Tracing.WarnBurst)
	v.SetDefault("aggregator.queueSize", def.Aggregator.QueueSize)
	v.SetDefault("aggregator.harvestInterval", def.Aggregator.HarvestInterval.String())
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToLevelHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
		Result: cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("create config decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]any{}
	}
	return cfg, nil
}

// stringToLevelHookFunc accepts level names such as "debug" or "WARNING".
func stringToLevelHookFunc() mapstructure.DecodeHookFuncType {
	levelType := reflect.TypeOf(log.Level(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != levelType {
			return data, nil
		}
		return log.ParseLevel(data.(string)), nil
	}
}
