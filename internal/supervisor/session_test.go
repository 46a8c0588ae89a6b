package supervisor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadwatch/quadwatch/internal/backoff"
	"github.com/quadwatch/quadwatch/internal/config"
	"github.com/quadwatch/quadwatch/internal/player"
)

// fakeHandle is an in-memory decoder handle.
type fakeHandle struct {
	mu       sync.Mutex
	events   chan player.Event
	volume   int
	idle     bool
	res      player.Resolution
	failSets int
	stopped  bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		events: make(chan player.Event, 4),
		volume: 50,
		res:    player.Resolution{Width: 1920, Height: 1080},
	}
}

func (h *fakeHandle) Play() error {
	h.events <- player.Event{Type: player.EventPlaying}
	return nil
}

func (h *fakeHandle) Events() <-chan player.Event { return h.events }

func (h *fakeHandle) Resolution() (player.Resolution, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.res, h.res.Width > 0
}

func (h *fakeHandle) SetVolume(percent int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if percent > 0 && h.failSets > 0 {
		h.failSets--
		return nil
	}
	h.volume = percent
	return nil
}

func (h *fakeHandle) Volume() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume, nil
}

func (h *fakeHandle) Idle() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.idle, nil
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *fakeHandle) Release() {}

func (h *fakeHandle) setIdle(idle bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idle = idle
}

// fakeBackend hands out fakeHandles and records the stream URLs it saw.
type fakeBackend struct {
	mu        sync.Mutex
	urls      []string
	handles   []*fakeHandle
	createErr error
	idle      bool
	noRes     bool
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Create(ctx context.Context, url string, surface player.Surface) (player.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	h := newFakeHandle()
	h.idle = b.idle
	if b.noRes {
		h.res = player.Resolution{}
	}
	b.urls = append(b.urls, url)
	b.handles = append(b.handles, h)
	return h, nil
}

func (b *fakeBackend) MonitorTick() time.Duration { return 10 * time.Millisecond }
func (b *fakeBackend) SampleEvery() time.Duration { return 0 }

func (b *fakeBackend) setIdle(idle bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idle = idle
}

func (b *fakeBackend) urlList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.urls))
	copy(out, b.urls)
	return out
}

func (b *fakeBackend) handle(i int) *fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.handles) {
		return nil
	}
	return b.handles[i]
}

// recordingSink captures status reports per slot.
type recordingSink struct {
	mu       sync.Mutex
	statuses map[int][]string
	controls map[int]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		statuses: make(map[int][]string),
		controls: make(map[int]bool),
	}
}

func (s *recordingSink) ReportStatus(index int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[index] = append(s.statuses[index], text)
}

func (s *recordingSink) ShowControl(index int, kind ControlKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[index] = true
}

func (s *recordingSink) HideControl(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[index] = false
}

func (s *recordingSink) lastStatus(index int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := s.statuses[index]
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (s *recordingSink) sawStatus(index int, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.statuses[index] {
		if got == text {
			return true
		}
	}
	return false
}

func (s *recordingSink) controlShown(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls[index]
}

func okDial(network, addr string, timeout time.Duration) (net.Conn, error) {
	c1, c2 := net.Pipe()
	c2.Close()
	return c1, nil
}

func failDial(network, addr string, timeout time.Duration) (net.Conn, error) {
	return nil, fmt.Errorf("connect %s: connection refused", addr)
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		Index:        0,
		IP:           "10.0.0.5",
		Username:     "a",
		Password:     "b",
		HQEnabled:    true,
		AudioEnabled: true,
	}
}

func startSession(t *testing.T, cfg config.StreamConfig, enabled bool, backend player.Backend, sink StatusSink, onDegrade func(int)) (*Session, context.CancelFunc, chan struct{}) {
	t.Helper()
	sess := NewSession(cfg, enabled, SessionOptions{
		Backend:   backend,
		Status:    sink,
		OnDegrade: onDegrade,
	})
	sess.dial = okDial
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()
	return sess, cancel, done
}

func waitState(t *testing.T, sess *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.Snapshot().State == want
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func TestSessionDisabledSlot(t *testing.T) {
	sink := newRecordingSink()
	sess, cancel, done := startSession(t, config.StreamConfig{Index: 0}, false, &fakeBackend{}, sink, nil)
	defer cancel()

	<-sess.Ready()
	<-done

	snap := sess.Snapshot()
	assert.Equal(t, StateDisabled, snap.State)
	assert.Equal(t, StatusTextDisabled, snap.StatusText)
	assert.Equal(t, StatusTextDisabled, sink.lastStatus(0))
	assert.False(t, sink.controlShown(0))
}

func TestSessionConnectsAndMonitors(t *testing.T) {
	backend := &fakeBackend{}
	sink := newRecordingSink()
	sess, cancel, done := startSession(t, testStreamConfig(), true, backend, sink, nil)

	<-sess.Ready()
	waitState(t, sess, StateMonitoring)

	snap := sess.Snapshot()
	assert.Equal(t, config.QualityHigh, snap.Quality)
	assert.Equal(t, player.Resolution{Width: 1920, Height: 1080}, snap.Resolution)
	assert.NotEmpty(t, snap.RunID)
	assert.True(t, sink.controlShown(0))

	urls := backend.urlList()
	require.Len(t, urls, 1)
	assert.Equal(t, "rtsp://a:b@10.0.0.5:554/stream1", urls[0])

	cancel()
	<-done
	assert.True(t, backend.handle(0).stopped)
}

func TestSessionFallbackResolution(t *testing.T) {
	// The decoder never reports a size, so the poll gives up and the
	// configured fallback is assumed.
	backend := &fakeBackend{noRes: true}
	sess := NewSession(testStreamConfig(), true, SessionOptions{
		Backend:            backend,
		FallbackResolution: player.Resolution{Width: 2304, Height: 1296},
	})
	sess.dial = okDial
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	<-sess.Ready()
	waitState(t, sess, StateMonitoring)
	assert.Equal(t, player.Resolution{Width: 2304, Height: 1296}, sess.Snapshot().Resolution)
}

func TestSessionDegradesOnInstability(t *testing.T) {
	backend := &fakeBackend{idle: true}
	sink := newRecordingSink()
	var degraded []int
	var mu sync.Mutex
	sess, cancel, _ := startSession(t, testStreamConfig(), true, backend, sink, func(index int) {
		mu.Lock()
		degraded = append(degraded, index)
		mu.Unlock()
	})
	defer cancel()

	<-sess.Ready()

	// The idle decoder racks up drops until the window trips and the
	// session reconnects at the standard quality.
	require.Eventually(t, func() bool {
		return len(backend.urlList()) >= 2
	}, 10*time.Second, 10*time.Millisecond, "session never reconnected")

	urls := backend.urlList()
	assert.Equal(t, "rtsp://a:b@10.0.0.5:554/stream1", urls[0])
	assert.Equal(t, "rtsp://a:b@10.0.0.5:554/stream2", urls[1])

	waitState(t, sess, StateMonitoring)
	snap := sess.Snapshot()
	assert.False(t, snap.HQEnabled)
	assert.Equal(t, config.QualityStandard, snap.Quality)
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	mu.Lock()
	assert.Equal(t, []int{0}, degraded)
	mu.Unlock()

	// The SD stream keeps dropping but never degrades further.
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, backend.urlList(), 2)
	assert.Equal(t, StateMonitoring, sess.Snapshot().State)
}

func TestSessionRunIDChangesPerConnect(t *testing.T) {
	backend := &fakeBackend{idle: true}
	sess, cancel, _ := startSession(t, testStreamConfig(), true, backend, newRecordingSink(), nil)
	defer cancel()

	<-sess.Ready()
	first := sess.Snapshot().RunID
	require.NotEmpty(t, first)

	require.Eventually(t, func() bool {
		id := sess.Snapshot().RunID
		return id != "" && id != first
	}, 10*time.Second, 10*time.Millisecond, "run id never rotated")
}

func TestSessionConnectFailure(t *testing.T) {
	backend := &fakeBackend{createErr: fmt.Errorf("no decoder")}
	sink := newRecordingSink()
	sess, cancel, done := startSession(t, testStreamConfig(), true, backend, sink, nil)
	defer cancel()

	<-done
	snap := sess.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, StatusTextFailed, snap.StatusText)
	assert.Equal(t, StatusTextFailed, sink.lastStatus(0))
	assert.False(t, sink.controlShown(0))
}

func TestSessionFailsWhenDecoderDies(t *testing.T) {
	backend := &fakeBackend{}
	sink := newRecordingSink()
	sess, cancel, done := startSession(t, testStreamConfig(), true, backend, sink, nil)
	defer cancel()

	<-sess.Ready()
	waitState(t, sess, StateMonitoring)

	backend.handle(0).events <- player.Event{Type: player.EventEnded}
	<-done

	snap := sess.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.True(t, backend.handle(0).stopped)
}

func TestSessionSnapshotHidesCredentials(t *testing.T) {
	sess := NewSession(testStreamConfig(), true, SessionOptions{Backend: &fakeBackend{}})
	snap := sess.Snapshot()
	assert.Equal(t, "10.0.0.5", snap.IP)
	for _, field := range []string{snap.StatusText, snap.RunID, string(snap.State)} {
		assert.False(t, strings.Contains(field, "a:b"))
	}
}

func TestSessionStartsMuted(t *testing.T) {
	backend := &fakeBackend{}
	sess, cancel, _ := startSession(t, testStreamConfig(), true, backend, newRecordingSink(), nil)
	defer cancel()

	<-sess.Ready()
	waitState(t, sess, StateMonitoring)

	// A fresh decoder comes up at its own default volume; the session
	// must silence it before anything else. Only the focus arbiter may
	// raise it.
	v, err := backend.handle(0).Volume()
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestSessionConnectsDespiteProbeFailure(t *testing.T) {
	backend := &fakeBackend{}
	sess := NewSession(testStreamConfig(), true, SessionOptions{Backend: backend})
	sess.dial = failDial
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	<-sess.Ready()
	waitState(t, sess, StateMonitoring)

	// The unreachable control port is advisory: the decoder still got
	// the stream on the first attempt.
	urls := backend.urlList()
	require.Len(t, urls, 1)
	assert.Equal(t, "rtsp://a:b@10.0.0.5:554/stream1", urls[0])
}

func TestSessionProbeFatalOnFinalAttempt(t *testing.T) {
	backend := &fakeBackend{createErr: fmt.Errorf("no decoder")}
	sess := NewSession(testStreamConfig(), true, SessionOptions{Backend: backend})
	sess.dial = failDial
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	<-done
	assert.Equal(t, StateFailed, sess.Snapshot().State)
	// Attempts one and two still reach the decoder; the third fails on
	// the probe alone.
	assert.Len(t, backend.urlList(), 2)
}

// unstableSession builds a session against an idle decoder with fast
// pause delays and a downgrade callback that restores the high-quality
// flag, the way a config reload re-enabling hq would. That keeps repeated
// instability flowing into the policy instead of stopping at the SD floor.
func unstableSession(t *testing.T, policy FallbackPolicy, backend *fakeBackend, sink StatusSink) (*Session, context.CancelFunc) {
	t.Helper()
	var sess *Session
	sess = NewSession(testStreamConfig(), true, SessionOptions{
		Backend:   backend,
		Status:    sink,
		Policy:    policy,
		OnDegrade: func(int) { sess.hq.Store(true) },
	})
	sess.dial = okDial
	sess.degradeBackoff = backoff.NewExponentialExact(20*time.Millisecond, 40*time.Millisecond, 2, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go sess.Run(ctx)
	<-sess.Ready()
	return sess, cancel
}

func TestSessionThrottledWaitHoldsQuality(t *testing.T) {
	backend := &fakeBackend{idle: true}
	sink := newRecordingSink()
	sess, cancel := unstableSession(t, FallbackPolicy{Throttle: time.Minute, MaxFailures: 99}, backend, sink)
	defer cancel()

	// First instability downgrades and reconnects; the second lands
	// inside the throttle window and only waits.
	require.Eventually(t, func() bool {
		return sink.sawStatus(0, StatusTextWaitingUnstable)
	}, 10*time.Second, 10*time.Millisecond, "throttled wait never reported")

	waitState(t, sess, StateMonitoring)
	assert.True(t, sess.Snapshot().HQEnabled)
	// One downgrade, one reconnect. The throttle holds everything after.
	assert.Len(t, backend.urlList(), 2)
	assert.Equal(t, 1, sess.Snapshot().ConsecutiveFailures)
}

func TestSessionPausedBackoffResetsFailures(t *testing.T) {
	backend := &fakeBackend{idle: true}
	sink := newRecordingSink()
	sess, cancel := unstableSession(t, FallbackPolicy{Throttle: time.Millisecond, MaxFailures: 2}, backend, sink)
	defer cancel()

	// The second downgrade trips the failure limit and pauses.
	require.Eventually(t, func() bool {
		return sink.sawStatus(0, StatusTextPausedUnstable)
	}, 10*time.Second, 10*time.Millisecond, "paused backoff never reported")

	// Let the paused reconnect come up against a healthy decoder.
	backend.setIdle(false)

	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return snap.State == StateMonitoring && snap.ConsecutiveFailures == 0
	}, 10*time.Second, 10*time.Millisecond, "failure count not reset after pause")

	assert.GreaterOrEqual(t, len(backend.urlList()), 3)
	assert.Equal(t, 0, sess.Snapshot().DropsInWindow)
}
