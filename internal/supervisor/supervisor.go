package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quadwatch/quadwatch/internal/config"
	apperrors "github.com/quadwatch/quadwatch/internal/errors"
	"github.com/quadwatch/quadwatch/internal/logger"
	"github.com/quadwatch/quadwatch/internal/metrics"
	"github.com/quadwatch/quadwatch/internal/player"
	"github.com/quadwatch/quadwatch/internal/ptz"
)

// shutdownWait bounds how long Stop waits for session goroutines. Each
// teardown is itself bounded by the backend shutdown timeout.
const shutdownWait = 10 * time.Second

// Options carries the supervisor's collaborators. Backend is required; the
// rest degrade gracefully when absent.
type Options struct {
	Backend            player.Backend
	Surfaces           [config.NumCameras]player.Surface
	Status             StatusSink
	Store              ConfigStore
	Publisher          StatusPublisher
	PTZ                *ptz.Serializer
	Policy             FallbackPolicy
	FallbackResolution player.Resolution
	Logger             logger.Logger
}

// Supervisor owns the four stream sessions and everything that crosses
// session boundaries: startup and shutdown ordering, reconfiguration,
// audio focus and PTZ routing.
type Supervisor struct {
	backend     player.Backend
	surfaces    [config.NumCameras]player.Surface
	status      StatusSink
	store       ConfigStore
	publisher   StatusPublisher
	ptz         *ptz.Serializer
	policy      FallbackPolicy
	fallbackRes player.Resolution
	log         logger.Logger

	arbiter *FocusArbiter

	mu       sync.Mutex
	cfgs     [config.NumCameras]config.StreamConfig
	sessions [config.NumCameras]*Session
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// New builds a supervisor for the given per-slot stream configs. Sessions
// are not started until Start.
func New(cfgs [config.NumCameras]config.StreamConfig, opts Options) *Supervisor {
	if opts.Status == nil {
		opts.Status = NopStatusSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}
	if opts.Policy.Throttle == 0 {
		opts.Policy = DefaultFallbackPolicy()
	}
	return &Supervisor{
		backend:     opts.Backend,
		surfaces:    opts.Surfaces,
		status:      opts.Status,
		store:       opts.Store,
		publisher:   opts.Publisher,
		ptz:         opts.PTZ,
		policy:      opts.Policy,
		fallbackRes: opts.FallbackResolution,
		log:         opts.Logger,
		arbiter:     NewFocusArbiter(opts.Logger),
		cfgs:        cfgs,
	}
}

// Start launches all sessions and blocks until every one of them settled
// its first connect cycle, or the context ends.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.startLocked(ctx, s.cfgs)
	sessions := s.sessions
	s.mu.Unlock()

	for _, sess := range sessions {
		select {
		case <-sess.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log.Info("all sessions settled")
	return nil
}

// startLocked builds and launches sessions for cfgs. Caller holds s.mu.
func (s *Supervisor) startLocked(ctx context.Context, cfgs [config.NumCameras]config.StreamConfig) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cfgs = cfgs
	urls := config.ResolveURLs(cfgs)

	// OnDegrade closes over this generation's sessions rather than
	// reading them through s.mu, so a session persisting its downgrade
	// never contends with a Stop or Reconfigure holding the lock.
	var gen [config.NumCameras]*Session
	for i := 0; i < config.NumCameras; i++ {
		gen[i] = NewSession(cfgs[i], urls[i] != "", SessionOptions{
			Backend:            s.backend,
			Surface:            s.surfaces[i],
			Status:             s.status,
			Publisher:          s.publisher,
			OnDegrade:          func(index int) { s.persistQuality(gen, cfgs, index) },
			Policy:             s.policy,
			FallbackResolution: s.fallbackRes,
			Logger:             s.log,
		})
	}
	for i := 0; i < config.NumCameras; i++ {
		s.sessions[i] = gen[i]
		s.wg.Add(1)
		sess := gen[i]
		go func() {
			defer s.wg.Done()
			sess.Run(runCtx)
		}()
	}
	s.running = true
}

// Stop tears all sessions down and waits a bounded time for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.mu.Unlock()
	s.log.Info("supervisor stopped")
}

// stopLocked cancels the sessions and waits for their goroutines. Caller
// holds s.mu; the wait itself runs without touching shared state.
func (s *Supervisor) stopLocked() {
	s.cancel()
	s.running = false
	s.arbiter.Reset()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownWait):
		s.log.Warn("session shutdown timed out")
	}

	if s.publisher != nil {
		for i := 0; i < config.NumCameras; i++ {
			if err := s.publisher.Remove(i); err != nil {
				s.log.WithError(err).Debug("registry cleanup failed")
			}
		}
	}
}

// Reconfigure restarts all sessions under a new configuration. When the
// effective per-slot configs are unchanged it is a no-op, so persisting a
// quality downgrade does not bounce the sessions when the config file
// watcher reloads the change we just wrote.
func (s *Supervisor) Reconfigure(ctx context.Context, cfgs [config.NumCameras]config.StreamConfig) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor not running")
	}
	if cfgs == s.effectiveConfigsLocked() {
		s.mu.Unlock()
		s.log.Debug("reconfigure skipped, effective config unchanged")
		return nil
	}
	s.log.Info("configuration changed, restarting sessions")
	s.stopLocked()
	if s.ptz != nil {
		s.ptz.Reset()
	}
	s.startLocked(ctx, cfgs)
	sessions := s.sessions
	s.mu.Unlock()

	for _, sess := range sessions {
		select {
		case <-sess.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// effectiveConfigsLocked returns the configured slots with the live
// quality flags applied. Caller holds s.mu.
func (s *Supervisor) effectiveConfigsLocked() [config.NumCameras]config.StreamConfig {
	out := s.cfgs
	for i, sess := range s.sessions {
		if sess != nil {
			out[i].HQEnabled = sess.HQEnabled()
		}
	}
	return out
}

// persistQuality writes the live quality flags of one session generation
// through the config store. Called from a session goroutine on permanent
// downgrade; best-effort, and deliberately lock-free with respect to the
// supervisor so it cannot stall a concurrent Stop or Reconfigure.
func (s *Supervisor) persistQuality(sessions [config.NumCameras]*Session, cfgs [config.NumCameras]config.StreamConfig, index int) {
	if s.store == nil {
		return
	}
	var hq [config.NumCameras]bool
	for i, sess := range sessions {
		if sess != nil {
			hq[i] = sess.HQEnabled()
		} else {
			hq[i] = cfgs[i].HQEnabled
		}
	}
	if err := s.store.PersistHQ(hq); err != nil {
		s.log.WithError(err).WithField("camera", index).Error("persisting quality downgrade failed")
	}
}

// SetFocus gives one session the audio focus. Only a slot with live
// playback can take focus.
func (s *Supervisor) SetFocus(ctx context.Context, index int) error {
	sess, err := s.session(index)
	if err != nil {
		return err
	}
	if sess.playbackHandle() == nil {
		return apperrors.NewConflictError("session has no active playback")
	}
	s.arbiter.SetFocus(ctx, index, s.sessionSlice())
	return nil
}

// ClearFocus mutes everything and releases audio focus.
func (s *Supervisor) ClearFocus() {
	s.arbiter.ClearFocus(s.sessionSlice())
}

// Focus returns the index holding audio focus, or NoFocus.
func (s *Supervisor) Focus() int {
	return s.arbiter.Focused()
}

// StartPTZ dispatches a continuous move on the focused camera. PTZ is only
// routed while a camera holds focus.
func (s *Supervisor) StartPTZ(ctx context.Context, dir ptz.Direction) error {
	if s.ptz == nil {
		return apperrors.NewServiceDownError("ptz")
	}
	if !dir.Valid() {
		return apperrors.NewValidationError("unknown ptz direction")
	}
	idx := s.arbiter.Focused()
	if idx == NoFocus {
		metrics.IncPTZRejected("no_focus")
		return apperrors.NewConflictError("no camera holds focus")
	}
	s.ptz.StartMove(ctx, s.ptzTarget(idx), dir)
	return nil
}

// StopPTZ ends a continuous move on the focused camera.
func (s *Supervisor) StopPTZ(ctx context.Context, dir ptz.Direction) error {
	if s.ptz == nil {
		return apperrors.NewServiceDownError("ptz")
	}
	if !dir.Valid() {
		return apperrors.NewValidationError("unknown ptz direction")
	}
	idx := s.arbiter.Focused()
	if idx == NoFocus {
		return apperrors.NewConflictError("no camera holds focus")
	}
	s.ptz.StopMove(ctx, s.ptzTarget(idx), dir)
	return nil
}

func (s *Supervisor) ptzTarget(index int) ptz.Target {
	s.mu.Lock()
	cfg := s.cfgs[index]
	s.mu.Unlock()
	return ptz.Target{
		Index:    index,
		IP:       cfg.IP,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

// Running reports whether sessions are live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshots returns a point-in-time view of every session.
func (s *Supervisor) Snapshots() []Snapshot {
	sessions := s.sessionSlice()
	out := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		if sess != nil {
			out = append(out, sess.Snapshot())
		}
	}
	return out
}

// SessionSnapshot returns the view of one session.
func (s *Supervisor) SessionSnapshot(index int) (Snapshot, error) {
	sess, err := s.session(index)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Supervisor) session(index int) (*Session, error) {
	if index < 0 || index >= config.NumCameras {
		return nil, apperrors.NewValidationError("camera index out of range")
	}
	s.mu.Lock()
	sess := s.sessions[index]
	s.mu.Unlock()
	if sess == nil {
		return nil, apperrors.NewNotFoundError("session")
	}
	return sess, nil
}

func (s *Supervisor) sessionSlice() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, config.NumCameras)
	copy(out, s.sessions[:])
	return out
}
