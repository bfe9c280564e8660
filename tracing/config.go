package tracing

import (
	"errors"

	"golang.org/x/time/rate"
)

// Config holds the advisory caps applied to every segment tree
// Both caps are guards against pathological instrumentation, never blocking waits
type Config struct {
	MaxDepth       int     `mapstructure:"maxDepth"`       // Deepest level visited by Walk, root is depth 0, 0 means unlimited
	MaxSegments    int     `mapstructure:"maxSegments"`    // Segments a single trace may hold including the root, 0 means unlimited
	WarnsPerSecond float64 `mapstructure:"warnsPerSecond"` // Sustained rate of structural warnings written to the log
	WarnBurst      int     `mapstructure:"warnBurst"`      // Warnings allowed in a burst before throttling starts
}

// DefaultConfig returns the caps used when the host configures nothing
func DefaultConfig() Config {
	return Config{
		MaxDepth:       128,
		MaxSegments:    10000,
		WarnsPerSecond: 1,
		WarnBurst:      10,
	}
}

// Validate checks the configuration for internal consistency
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return errors.New("maxDepth must not be negative")
	}
	if c.MaxSegments < 0 {
		return errors.New("maxSegments must not be negative")
	}
	if c.WarnsPerSecond < 0 {
		return errors.New("warnsPerSecond must not be negative")
	}
	if c.WarnBurst < 0 {
		return errors.New("warnBurst must not be negative")
	}
	return nil
}

// _warnLimiter throttles structural warnings shared by every trace in the process
var _warnLimiter = rate.NewLimiter(rate.Limit(DefaultConfig().WarnsPerSecond), DefaultConfig().WarnBurst)

// SetWarnLimit reconfigures the process-wide warning throttle
// A zero rate with a zero burst silences structural warnings entirely
func SetWarnLimit(perSecond float64, burst int) {
	_warnLimiter.SetLimit(rate.Limit(perSecond))
	_warnLimiter.SetBurst(burst)
}

// ApplyWarnLimit installs the warning throttle described by c
func (c Config) ApplyWarnLimit() {
	SetWarnLimit(c.WarnsPerSecond, c.WarnBurst)
}
