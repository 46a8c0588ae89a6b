package supervisor

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quadwatch/quadwatch/internal/backoff"
	"github.com/quadwatch/quadwatch/internal/config"
	apperrors "github.com/quadwatch/quadwatch/internal/errors"
	"github.com/quadwatch/quadwatch/internal/logger"
	"github.com/quadwatch/quadwatch/internal/metrics"
	"github.com/quadwatch/quadwatch/internal/player"
)

const (
	connectAttempts        = 3
	connectBackoffInitial  = time.Second
	probeTimeout           = time.Second
	playTimeout            = 7 * time.Second
	resolutionAttempts     = 5
	resolutionPollInterval = 500 * time.Millisecond
	degradeBackoffInitial  = 15 * time.Second
	degradeBackoffMax      = 2 * time.Minute
)

// SessionOptions carries the collaborators one session needs. Backend is
// required, everything else has a working zero value.
type SessionOptions struct {
	Backend            player.Backend
	Surface            player.Surface
	Status             StatusSink
	Publisher          StatusPublisher
	OnDegrade          func(index int)
	Policy             FallbackPolicy
	FallbackResolution player.Resolution
	Logger             logger.Logger
}

// Session supervises one camera slot through its whole lifecycle: connect
// with retries, startup verification, health monitoring, quality fallback
// and teardown. All lifecycle state is written by the single Run goroutine;
// readers get consistent views through Snapshot.
type Session struct {
	index    int
	camera   string
	cfg      config.StreamConfig
	disabled bool

	backend     player.Backend
	surface     player.Surface
	status      StatusSink
	publisher   StatusPublisher
	onDegrade   func(index int)
	policy      FallbackPolicy
	fallbackRes player.Resolution
	log         logger.Logger

	hq atomic.Bool

	// dial is the probe dialer, replaceable in tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)

	ready     chan struct{}
	readyOnce sync.Once

	// window and degradeBackoff are only touched by the Run goroutine.
	window         *DropWindow
	degradeBackoff backoff.Strategy

	mu          sync.Mutex
	state       State
	statusText  string
	resolution  player.Resolution
	runID       string
	failures    int
	drops       int
	lastDegrade time.Time
	updatedAt   time.Time
	handle      player.Handle
}

// NewSession builds a session for one camera slot. enabled is the slot's
// URL-resolution verdict: a slot whose URL is empty or deduplicated away
// stays Disabled for the session's lifetime.
func NewSession(cfg config.StreamConfig, enabled bool, opts SessionOptions) *Session {
	if opts.Status == nil {
		opts.Status = NopStatusSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}
	if opts.Policy.Throttle == 0 {
		opts.Policy = DefaultFallbackPolicy()
	}
	s := &Session{
		index:          cfg.Index,
		camera:         strconv.Itoa(cfg.Index),
		cfg:            cfg,
		disabled:       !enabled,
		backend:        opts.Backend,
		surface:        opts.Surface,
		status:         opts.Status,
		publisher:      opts.Publisher,
		onDegrade:      opts.OnDegrade,
		policy:         opts.Policy,
		fallbackRes:    opts.FallbackResolution,
		log:            opts.Logger.WithField("camera", cfg.Index),
		ready:          make(chan struct{}),
		dial:           net.DialTimeout,
		window:         NewDropWindow(0, 0),
		degradeBackoff: backoff.NewExponentialExact(degradeBackoffInitial, degradeBackoffMax, 2, 0),
	}
	s.hq.Store(cfg.HQEnabled)
	return s
}

// Ready is closed once the first connect cycle resolved, successfully or
// not. Disabled slots are ready immediately.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) signalReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// HQEnabled reports the live quality flag, which may be lower than the
// configured one after a fallback.
func (s *Session) HQEnabled() bool {
	return s.hq.Load()
}

// AudioEnabled reports whether this slot participates in audio focus.
func (s *Session) AudioEnabled() bool {
	return s.cfg.AudioEnabled
}

// Snapshot returns a consistent point-in-time view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := config.QualityStandard
	if s.hq.Load() {
		q = config.QualityHigh
	}
	return Snapshot{
		Index:               s.index,
		IP:                  s.cfg.IP,
		State:               s.state,
		StatusText:          s.statusText,
		Quality:             q,
		HQEnabled:           s.hq.Load(),
		AudioEnabled:        s.cfg.AudioEnabled,
		Resolution:          s.resolution,
		DropsInWindow:       s.drops,
		ConsecutiveFailures: s.failures,
		RunID:               s.runID,
		UpdatedAt:           s.updatedAt,
	}
}

// playbackHandle returns the live decoder handle, nil outside playback.
// The handle's volume operations are safe to call concurrently with the
// session goroutine.
func (s *Session) playbackHandle() player.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) url() string {
	q := config.QualityStandard
	if s.hq.Load() {
		q = config.QualityHigh
	}
	return s.cfg.URLForQuality(q)
}

// Run drives the session until the context is cancelled or the session
// reaches a terminal state. It must be called exactly once.
func (s *Session) Run(ctx context.Context) {
	defer s.signalReady()
	if s.disabled {
		s.setState(StateDisabled, StatusTextDisabled)
		s.status.HideControl(s.index)
		return
	}
	for {
		s.setState(StateConnecting, StatusTextLoading)
		s.status.HideControl(s.index)
		h, err := s.connect(ctx)
		s.signalReady()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(err)
			return
		}
		s.attach(h)
		s.enterPlaying(ctx, h)
		reconnect := s.monitor(ctx, h)
		s.detach()
		s.teardown(h)
		if !reconnect || ctx.Err() != nil {
			return
		}
	}
}

// connect runs the bounded retry loop: a TCP reachability probe followed by
// a decoder startup, with a doubling delay between attempts.
func (s *Session) connect(ctx context.Context) (player.Handle, error) {
	delay := connectBackoffInitial
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		metrics.IncConnectAttempt(s.camera)
		h, err := s.connectOnce(ctx, attempt == connectAttempts)
		if err == nil {
			s.mu.Lock()
			s.runID = uuid.New().String()
			s.mu.Unlock()
			return h, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		metrics.IncConnectFailure(s.camera, failureReason(err))
		s.log.WithError(err).WithField("attempt", attempt).Warn("connect attempt failed")
		if attempt == connectAttempts {
			break
		}
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, lastErr
}

func (s *Session) connectOnce(ctx context.Context, final bool) (player.Handle, error) {
	if err := s.probe(); err != nil {
		if final {
			return nil, apperrors.WrapConnectError(err, "rtsp port unreachable")
		}
		s.log.WithError(err).Warn("rtsp port unreachable, trying decoder anyway")
	}
	h, err := s.backend.Create(ctx, s.url(), s.surface)
	if err != nil {
		return nil, apperrors.WrapConnectError(err, "decoder create failed")
	}
	if err := h.Play(); err != nil {
		s.teardown(h)
		return nil, apperrors.WrapConnectError(err, "decoder start failed")
	}

	timer := time.NewTimer(playTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.teardown(h)
			return nil, ctx.Err()
		case ev := <-h.Events():
			switch ev.Type {
			case player.EventPlaying:
				return h, nil
			case player.EventError, player.EventEnded:
				s.teardown(h)
				return nil, apperrors.WrapConnectError(ev.Err, "decoder exited during startup")
			}
		case <-timer.C:
			s.teardown(h)
			return nil, apperrors.NewConnectTimeoutError("no playback within startup deadline")
		}
	}
}

// probe checks TCP reachability of the camera's streaming port before the
// decoder is spawned. The result is advisory on early attempts and only
// fails the connect on the last one, so a camera with a filtered control
// port still gets the decoder tried.
func (s *Session) probe() error {
	addr := net.JoinHostPort(s.cfg.IP, strconv.Itoa(config.RTSPPort))
	start := time.Now()
	conn, err := s.dial("tcp", addr, probeTimeout)
	if err != nil {
		return err
	}
	conn.Close()
	s.log.WithField("latency", time.Since(start)).Debug("rtsp port reachable")
	return nil
}

// enterPlaying mutes the fresh decoder, records the decoded resolution,
// falling back to the configured default when the decoder does not report
// one in time, and arms the health window.
func (s *Session) enterPlaying(ctx context.Context, h player.Handle) {
	// Every stream starts silent. Only the focus arbiter raises volume,
	// so a reconnect cannot break the one-audible-session rule.
	if err := h.SetVolume(0); err != nil {
		s.log.WithError(err).Debug("initial mute failed")
	}
	s.setState(StatePlaying, "")
	res := s.fallbackRes
	for i := 0; i < resolutionAttempts; i++ {
		if r, ok := h.Resolution(); ok && r.Width > 0 {
			res = r
			break
		}
		if !sleepCtx(ctx, resolutionPollInterval) {
			return
		}
	}
	s.window.Reset()
	s.mu.Lock()
	s.resolution = res
	s.drops = 0
	s.mu.Unlock()
	s.log.WithField("resolution", res.String()).Info("stream playing")
	s.status.ShowControl(s.index, ControlFullscreen)
	s.publishSnapshot()
}

// monitor is the long-lived health loop. It returns true when the session
// should reconnect (after a quality downgrade) and false on terminal
// failure or cancellation.
func (s *Session) monitor(ctx context.Context, h player.Handle) bool {
	s.setState(StateMonitoring, "")
	s.degradeBackoff.Reset()

	ticker := time.NewTicker(s.backend.MonitorTick())
	defer ticker.Stop()
	sampleEvery := s.backend.SampleEvery()
	lastSample := time.Now()

	for {
		select {
		case <-ctx.Done():
			return false
		case ev := <-h.Events():
			if ev.Type == player.EventError || ev.Type == player.EventEnded {
				s.fail(apperrors.WrapRuntimeError(ev.Err, "decoder exited during playback"))
				return false
			}
		case now := <-ticker.C:
			if now.Sub(lastSample) >= sampleEvery {
				lastSample = now
				idle, err := h.Idle()
				if err != nil {
					s.fail(apperrors.WrapRuntimeError(err, "decoder health check failed"))
					return false
				}
				if idle {
					s.recordDrop(now)
				}
			}

			unstable := s.window.Unstable(now)
			s.mu.Lock()
			s.drops = s.window.Len()
			in := PolicyInput{
				Now:                 now,
				Unstable:            unstable,
				HQEnabled:           s.hq.Load(),
				LastDegrade:         s.lastDegrade,
				ConsecutiveFailures: s.failures,
			}
			s.mu.Unlock()

			switch s.policy.Decide(in) {
			case DecisionNone:
			case DecisionThrottledWait:
				metrics.IncThrottledWait(s.camera)
				s.setState(StateDegrading, StatusTextWaitingUnstable)
				d, _ := s.degradeBackoff.NextDelay()
				s.log.WithField("delay", d.String()).Info("degrade throttled, waiting")
				if !sleepCtx(ctx, d) {
					return false
				}
				s.setState(StateMonitoring, "")
			case DecisionDegrade:
				s.degrade(now)
				return true
			case DecisionPausedBackoff:
				s.degrade(now)
				metrics.IncPausedBackoff(s.camera)
				s.setState(StateRetrying, StatusTextPausedUnstable)
				d, _ := s.degradeBackoff.NextDelay()
				s.log.WithField("delay", d.String()).Warn("repeated instability, pausing before reconnect")
				if !sleepCtx(ctx, d) {
					return false
				}
				s.window.Reset()
				s.mu.Lock()
				s.failures = 0
				s.drops = 0
				s.mu.Unlock()
				return true
			}
		}
	}
}

func (s *Session) recordDrop(now time.Time) {
	s.window.Record(now)
	metrics.IncDrop(s.camera)
	s.log.WithField("drops_in_window", s.window.Len()).Debug("playback drop detected")
}

// degrade flips the live quality flag to SD and notifies the owner so the
// change can be persisted. The reconnect itself happens in the Run loop.
func (s *Session) degrade(now time.Time) {
	s.hq.Store(false)
	s.mu.Lock()
	s.lastDegrade = now
	s.failures++
	s.mu.Unlock()
	metrics.IncDegrade(s.camera)
	s.setState(StateDegrading, StatusTextLoading)
	s.log.Warn("stream unstable, downgrading to sd")
	if s.onDegrade != nil {
		s.onDegrade(s.index)
	}
}

func (s *Session) fail(err error) {
	s.log.WithError(err).Error("stream failed")
	s.setState(StateFailed, StatusTextFailed)
	s.status.HideControl(s.index)
}

func (s *Session) attach(h player.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *Session) detach() {
	s.mu.Lock()
	s.handle = nil
	s.mu.Unlock()
}

func (s *Session) teardown(h player.Handle) {
	if err := h.Stop(); err != nil {
		s.log.WithError(apperrors.WrapTeardownError(err, "decoder stop failed")).Warn("teardown error")
	}
	h.Release()
}

func (s *Session) setState(state State, text string) {
	s.mu.Lock()
	s.state = state
	s.statusText = text
	s.updatedAt = time.Now()
	s.mu.Unlock()
	metrics.SetSessionState(s.camera, string(state), AllStates)
	s.status.ReportStatus(s.index, text)
	s.publishSnapshot()
}

func (s *Session) publishSnapshot() {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(s.Snapshot()); err != nil {
		s.log.WithError(err).Debug("status publish failed")
	}
}

func failureReason(err error) string {
	if ae, ok := apperrors.GetAppError(err); ok {
		return string(ae.Type)
	}
	return "unknown"
}

// sleepCtx sleeps for d unless the context ends first. It returns false
// when interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
