package supervisor

import "time"

const (
	// DefaultDropHorizon is how far back drop events count toward
	// instability.
	DefaultDropHorizon = 5 * time.Second
	// DefaultDropThreshold is the number of drops within the horizon that
	// marks a stream unstable.
	DefaultDropThreshold = 10
)

// DropWindow tracks decoder drop events over a sliding time horizon. It is
// owned by a single session goroutine and is not safe for concurrent use.
type DropWindow struct {
	horizon   time.Duration
	threshold int
	stamps    []time.Time
}

// NewDropWindow returns a window with the given horizon and threshold.
// Non-positive values fall back to the defaults.
func NewDropWindow(horizon time.Duration, threshold int) *DropWindow {
	if horizon <= 0 {
		horizon = DefaultDropHorizon
	}
	if threshold <= 0 {
		threshold = DefaultDropThreshold
	}
	return &DropWindow{horizon: horizon, threshold: threshold}
}

// Record adds a drop observation at the given time.
func (w *DropWindow) Record(now time.Time) {
	w.stamps = append(w.stamps, now)
}

// Prune discards observations older than the horizon. Pruning is
// idempotent: repeated calls with the same clock reading are no-ops.
func (w *DropWindow) Prune(now time.Time) {
	cutoff := now.Add(-w.horizon)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Len returns the number of retained observations.
func (w *DropWindow) Len() int {
	return len(w.stamps)
}

// Unstable prunes and reports whether the retained drop count has reached
// the threshold.
func (w *DropWindow) Unstable(now time.Time) bool {
	w.Prune(now)
	return len(w.stamps) >= w.threshold
}

// Reset discards all observations.
func (w *DropWindow) Reset() {
	w.stamps = w.stamps[:0]
}
