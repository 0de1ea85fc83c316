// Package retry provides the backoff policy used to pace queue resends.
package retry

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/taptrack/internal/config"
)

// Policy encapsulates retry/backoff settings for transient send failures.
// It is immutable after construction.
type Policy struct {
	Mode          config.RetryBackoffMode // fixed|linear|exponential
	Initial       time.Duration           // base delay
	Max           time.Duration           // cap for growth
	WarnThreshold int                     // retry count past which resends are logged as warnings
}

// DefaultPolicy returns a sensible default policy (linear, 1s initial, 30s cap, warn at 5).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, WarnThreshold: 5}
}

// FromConfig builds a policy from the sync config; zero/invalid values fall back to defaults.
func FromConfig(sc config.SyncConfig) Policy {
	return NewPolicy(sc.Backoff, sc.BackoffInitial, sc.BackoffMax, sc.RetryWarnThreshold)
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, warnThreshold int) Policy {
	p := DefaultPolicy()
	if warnThreshold >= 0 {
		p.WarnThreshold = warnThreshold
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	if mode != "" {
		switch mode {
		case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
			p.Mode = mode
		default:
			// unknown -> keep default
		}
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		if retryCount > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Exceeded reports whether a record's retry count has passed the warning threshold.
// Records past the threshold are never dropped; callers only escalate log severity.
func (p Policy) Exceeded(retryCount int) bool {
	return retryCount > p.WarnThreshold
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.WarnThreshold < 0 {
		return fmt.Errorf("warn threshold cannot be negative")
	}
	return nil
}
