package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFallbackPolicyDecide(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultFallbackPolicy()

	tests := []struct {
		name string
		in   PolicyInput
		want Decision
	}{
		{
			name: "stable stream does nothing",
			in:   PolicyInput{Now: now, Unstable: false, HQEnabled: true},
			want: DecisionNone,
		},
		{
			name: "unstable sd stream stays put",
			in:   PolicyInput{Now: now, Unstable: true, HQEnabled: false},
			want: DecisionNone,
		},
		{
			name: "first instability degrades immediately",
			in:   PolicyInput{Now: now, Unstable: true, HQEnabled: true},
			want: DecisionDegrade,
		},
		{
			name: "recent degrade throttles",
			in: PolicyInput{
				Now: now, Unstable: true, HQEnabled: true,
				LastDegrade: now.Add(-30 * time.Second),
			},
			want: DecisionThrottledWait,
		},
		{
			name: "degrade allowed once throttle window passed",
			in: PolicyInput{
				Now: now, Unstable: true, HQEnabled: true,
				LastDegrade: now.Add(-61 * time.Second),
			},
			want: DecisionDegrade,
		},
		{
			name: "throttle boundary is exclusive",
			in: PolicyInput{
				Now: now, Unstable: true, HQEnabled: true,
				LastDegrade: now.Add(-DefaultDegradeThrottle),
			},
			want: DecisionDegrade,
		},
		{
			name: "third failure pauses",
			in: PolicyInput{
				Now: now, Unstable: true, HQEnabled: true,
				LastDegrade:         now.Add(-2 * time.Minute),
				ConsecutiveFailures: 2,
			},
			want: DecisionPausedBackoff,
		},
		{
			name: "zero last degrade never throttles",
			in: PolicyInput{
				Now: now, Unstable: true, HQEnabled: true,
				LastDegrade: time.Time{},
			},
			want: DecisionDegrade,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.in))
		})
	}
}

func TestFallbackPolicyMonotonic(t *testing.T) {
	// Once the throttle window has passed, waiting longer never flips the
	// decision back to a wait.
	p := DefaultFallbackPolicy()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-p.Throttle)
	for i := 0; i < 10; i++ {
		in := PolicyInput{
			Now:         now.Add(time.Duration(i) * time.Minute),
			Unstable:    true,
			HQEnabled:   true,
			LastDegrade: last,
		}
		assert.Equal(t, DecisionDegrade, p.Decide(in))
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "none", DecisionNone.String())
	assert.Equal(t, "throttled_wait", DecisionThrottledWait.String())
	assert.Equal(t, "degrade", DecisionDegrade.String())
	assert.Equal(t, "paused_backoff", DecisionPausedBackoff.String())
}
