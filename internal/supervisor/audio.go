package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/quadwatch/quadwatch/internal/logger"
	"github.com/quadwatch/quadwatch/internal/metrics"
)

// NoFocus means no session holds audio focus.
const NoFocus = -1

const (
	// focusSettleDelay lets the decoder settle after the pre-kick mute
	// before volume is raised again.
	focusSettleDelay = 150 * time.Millisecond
	// kickConfirmDelay is the wait between raising the volume and reading
	// it back.
	kickConfirmDelay = 50 * time.Millisecond
	kickAttempts     = 7
	kickBudget       = 500 * time.Millisecond
)

// FocusArbiter enforces the audio exclusivity rule: at most one session is
// audible at any time, all others stay muted. Focus changes are serialized
// by the arbiter's own lock and never touch session lifecycle state, so a
// slow decoder volume call cannot stall the monitor loops.
type FocusArbiter struct {
	mu      sync.Mutex
	focused int
	log     logger.Logger
}

// NewFocusArbiter returns an arbiter with no session focused.
func NewFocusArbiter(log logger.Logger) *FocusArbiter {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &FocusArbiter{focused: NoFocus, log: log}
}

// Focused returns the index holding audio focus, or NoFocus.
func (a *FocusArbiter) Focused() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.focused
}

// SetFocus mutes every audio-capable session except index, then kicks the
// focused decoder's audio until it confirms the raised volume. Sessions
// without a live handle are skipped; they come up muted anyway.
func (a *FocusArbiter) SetFocus(ctx context.Context, index int, sessions []*Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var target *Session
	for _, sess := range sessions {
		if sess == nil || !sess.AudioEnabled() {
			continue
		}
		if sess.index == index {
			target = sess
			continue
		}
		a.setVolume(sess, 0)
	}
	if target != nil {
		a.kick(ctx, target)
	}
	a.focused = index
	metrics.IncFocusChange()
	a.log.WithField("camera", index).Info("audio focus changed")
}

// ClearFocus mutes every audio-capable session. Silence is the default.
func (a *FocusArbiter) ClearFocus(sessions []*Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sess := range sessions {
		if sess == nil || !sess.AudioEnabled() {
			continue
		}
		a.setVolume(sess, 0)
	}
	if a.focused != NoFocus {
		a.focused = NoFocus
		a.log.Info("audio focus cleared")
	}
}

// Reset forgets the focus without touching any decoder. Used when sessions
// are being torn down and the handles are already gone.
func (a *FocusArbiter) Reset() {
	a.mu.Lock()
	a.focused = NoFocus
	a.mu.Unlock()
}

func (a *FocusArbiter) setVolume(sess *Session, percent int) {
	h := sess.playbackHandle()
	if h == nil {
		return
	}
	if err := h.SetVolume(percent); err != nil {
		a.log.WithError(err).WithField("camera", sess.index).Debug("volume set failed")
	}
}

// kick works around decoders that ignore the first unmute after a focus
// change: drop to zero, settle, then raise and confirm within a bounded
// number of attempts and a hard time budget.
func (a *FocusArbiter) kick(ctx context.Context, sess *Session) {
	h := sess.playbackHandle()
	if h == nil {
		return
	}
	if err := h.SetVolume(0); err != nil {
		a.log.WithError(err).WithField("camera", sess.index).Debug("pre-kick mute failed")
	}
	if !sleepCtx(ctx, focusSettleDelay) {
		return
	}

	deadline := time.Now().Add(kickBudget)
	retries := 0
	for attempt := 0; attempt < kickAttempts; attempt++ {
		if attempt > 0 {
			retries++
		}
		if err := h.SetVolume(100); err != nil {
			a.log.WithError(err).WithField("camera", sess.index).Debug("audio kick attempt failed")
		}
		if !sleepCtx(ctx, kickConfirmDelay) {
			break
		}
		if v, err := h.Volume(); err == nil && v >= 100 {
			break
		}
		if time.Now().After(deadline) {
			a.log.WithField("camera", sess.index).Warn("audio kick unconfirmed within budget")
			break
		}
	}
	metrics.AddKickRetries(sess.camera, retries)
}
