package supervisor

import "time"

// Decision is the fallback policy verdict for one health tick.
type Decision int

const (
	// DecisionNone means no action: the stream is stable, or is already
	// at the lowest quality.
	DecisionNone Decision = iota
	// DecisionThrottledWait means a recent downgrade still throttles
	// further action; the session should wait out a backoff and re-check.
	DecisionThrottledWait
	// DecisionDegrade means the stream should downgrade to SD and
	// reconnect.
	DecisionDegrade
	// DecisionPausedBackoff means the downgrade tripped the failure
	// limit: downgrade, then pause in backoff before reconnecting.
	DecisionPausedBackoff
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionThrottledWait:
		return "throttled_wait"
	case DecisionDegrade:
		return "degrade"
	case DecisionPausedBackoff:
		return "paused_backoff"
	default:
		return "unknown"
	}
}

const (
	// DefaultDegradeThrottle is the minimum spacing between permanent
	// quality downgrades on one stream.
	DefaultDegradeThrottle = 60 * time.Second
	// DefaultMaxFailures is the downgrade count that trips a paused
	// backoff instead of an immediate reconnect.
	DefaultMaxFailures = 3
)

// PolicyInput is the per-tick state the fallback policy decides on.
type PolicyInput struct {
	Now                 time.Time
	Unstable            bool
	HQEnabled           bool
	LastDegrade         time.Time // zero if never degraded
	ConsecutiveFailures int       // downgrades so far, before this tick
}

// FallbackPolicy decides how a session reacts to instability. It is a pure
// function of its input; the session owns all the state it reads.
type FallbackPolicy struct {
	Throttle    time.Duration
	MaxFailures int
}

// DefaultFallbackPolicy returns the production policy.
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{
		Throttle:    DefaultDegradeThrottle,
		MaxFailures: DefaultMaxFailures,
	}
}

// Decide maps the current health state to an action. SD is the quality
// floor: unstable SD streams yield DecisionNone and simply stay monitored.
// A zero LastDegrade never throttles.
func (p FallbackPolicy) Decide(in PolicyInput) Decision {
	if !in.Unstable || !in.HQEnabled {
		return DecisionNone
	}
	if !in.LastDegrade.IsZero() && in.Now.Sub(in.LastDegrade) < p.Throttle {
		return DecisionThrottledWait
	}
	if in.ConsecutiveFailures+1 >= p.MaxFailures {
		return DecisionPausedBackoff
	}
	return DecisionDegrade
}
