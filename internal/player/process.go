package player

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quadwatch/quadwatch/internal/logger"
)

const (
	// DefaultShutdownTimeout bounds how long Stop waits for the player
	// process to exit before killing it.
	DefaultShutdownTimeout = 5 * time.Second

	// startupPollInterval is how often the startup watcher samples process
	// activity while waiting for playback to begin.
	startupPollInterval = 100 * time.Millisecond

	// startupWatchLimit bounds the startup watcher itself; the session
	// applies its own (shorter) play timeout.
	startupWatchLimit = 10 * time.Second

	// mixer unmute retries, the sink can lag the process start
	unmuteAttempts      = 5
	unmuteRetryInterval = 500 * time.Millisecond
)

// ProcessOptions configures the out-of-process player backend.
type ProcessOptions struct {
	// Command is the player binary. Args may contain {url} and {surface}
	// placeholders; when no {url} placeholder is present the stream URL is
	// appended as the final argument.
	Command string
	Args    []string

	// Mixer controls audio for the spawned process, addressed by pid.
	Mixer Mixer

	ShutdownTimeout time.Duration
}

// ProcessBackend runs one external CLI player process per stream. Playback
// health is inferred from process CPU activity because the player gives no
// direct decode feedback.
type ProcessBackend struct {
	opts ProcessOptions
	log  logger.Logger
}

// NewProcessBackend creates the process-player backend.
func NewProcessBackend(opts ProcessOptions, log logger.Logger) *ProcessBackend {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &ProcessBackend{
		opts: opts,
		log:  log.WithField("component", "process_player"),
	}
}

// Name implements Backend.
func (b *ProcessBackend) Name() string { return "process" }

// MonitorTick implements Backend. Process sampling is coarse, so the monitor
// runs slower than an in-process decoder would allow.
func (b *ProcessBackend) MonitorTick() time.Duration { return 2 * time.Second }

// SampleEvery implements Backend.
func (b *ProcessBackend) SampleEvery() time.Duration { return 4 * time.Second }

// Create implements Backend. The process is not started until Play.
func (b *ProcessBackend) Create(ctx context.Context, url string, surface Surface) (Handle, error) {
	if url == "" {
		return nil, fmt.Errorf("empty stream url")
	}

	args := make([]string, 0, len(b.opts.Args)+1)
	sawURL := false
	for _, a := range b.opts.Args {
		if strings.Contains(a, "{url}") {
			sawURL = true
			a = strings.ReplaceAll(a, "{url}", url)
		}
		if strings.Contains(a, "{surface}") {
			a = strings.ReplaceAll(a, "{surface}", fmt.Sprint(surface))
		}
		args = append(args, a)
	}
	if !sawURL {
		args = append(args, url)
	}

	h := &processHandle{
		cmd:             exec.Command(b.opts.Command, args...),
		mixer:           b.opts.Mixer,
		log:             b.log,
		events:          make(chan Event, 4),
		waitDone:        make(chan struct{}),
		shutdownTimeout: b.opts.ShutdownTimeout,
	}
	return h, nil
}

// processHandle is one live player process.
type processHandle struct {
	cmd             *exec.Cmd
	mixer           Mixer
	log             logger.Logger
	events          chan Event
	waitDone        chan struct{}
	shutdownTimeout time.Duration

	pid          int
	playingSent  atomic.Bool
	terminalSent atomic.Bool
	stopping     atomic.Bool
	stopOnce     sync.Once
	stopErr      error

	mu          sync.Mutex
	started     bool
	lastJiffies uint64
	sampled     bool
	volume      int
}

// Play starts the player process and watches it for startup and exit.
func (h *processHandle) Play() error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("player already started")
	}
	h.started = true
	h.mu.Unlock()

	if err := h.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player process: %w", err)
	}
	h.pid = h.cmd.Process.Pid
	h.log = h.log.WithField("pid", h.pid)
	h.log.Debug("Player process started")

	go h.waitLoop()
	go h.startupWatch()
	return nil
}

// waitLoop reaps the process and converts its exit into a terminal event,
// unless teardown initiated the exit.
func (h *processHandle) waitLoop() {
	err := h.cmd.Wait()
	close(h.waitDone)

	if h.stopping.Load() {
		return
	}
	if err != nil {
		h.emitTerminal(Event{Type: EventError, Err: err})
		return
	}
	h.emitTerminal(Event{Type: EventEnded})
}

// startupWatch polls for CPU activity and emits Playing on the first sign of
// decode work.
func (h *processHandle) startupWatch() {
	deadline := time.Now().Add(startupWatchLimit)
	var base uint64
	haveBase := false

	for time.Now().Before(deadline) {
		if h.stopping.Load() || h.terminalSent.Load() {
			return
		}
		j, err := procCPUJiffies(h.pid)
		if err != nil {
			// Process already gone; waitLoop reports the terminal event.
			return
		}
		if !haveBase {
			base, haveBase = j, true
		} else if j > base {
			if h.playingSent.CompareAndSwap(false, true) {
				h.emit(Event{Type: EventPlaying})
			}
			return
		}
		time.Sleep(startupPollInterval)
	}
}

func (h *processHandle) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.log.WithField("event", ev.Type).Warn("Dropping player event, channel full")
	}
}

func (h *processHandle) emitTerminal(ev Event) {
	if h.terminalSent.CompareAndSwap(false, true) {
		h.emit(ev)
	}
}

// Events implements Handle.
func (h *processHandle) Events() <-chan Event { return h.events }

// Resolution implements Handle. The external player never reports one.
func (h *processHandle) Resolution() (Resolution, bool) {
	return Resolution{}, false
}

// Idle implements Handle: true when the process burned no CPU since the
// previous sample.
func (h *processHandle) Idle() (bool, error) {
	j, err := procCPUJiffies(h.pid)
	if err != nil {
		return false, fmt.Errorf("failed to sample player activity: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.sampled {
		h.lastJiffies, h.sampled = j, true
		return false, nil
	}
	idle := j == h.lastJiffies
	h.lastJiffies = j
	return idle, nil
}

// SetVolume implements Handle through the external mixer. Unmuting retries
// while the sink is not yet visible to the mixer; muting does not, a sink
// that is not there yet is already silent.
func (h *processHandle) SetVolume(percent int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	if percent <= 0 {
		sink, err := h.mixer.SinkForPID(ctx, h.pid)
		if err != nil {
			return err
		}
		if err := h.mixer.SetMute(ctx, sink, true); err != nil {
			return err
		}
		if err := h.mixer.SetVolume(ctx, sink, 0); err != nil {
			return err
		}
		h.setCachedVolume(0)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < unmuteAttempts; attempt++ {
		sink, err := h.mixer.SinkForPID(ctx, h.pid)
		if err == nil {
			if err := h.mixer.SetMute(ctx, sink, false); err != nil {
				return err
			}
			if err := h.mixer.SetVolume(ctx, sink, percent); err != nil {
				return err
			}
			h.setCachedVolume(percent)
			return nil
		}
		lastErr = err
		if attempt < unmuteAttempts-1 {
			time.Sleep(unmuteRetryInterval)
		}
	}
	return fmt.Errorf("failed to unmute after %d attempts: %w", unmuteAttempts, lastErr)
}

func (h *processHandle) setCachedVolume(v int) {
	h.mu.Lock()
	h.volume = v
	h.mu.Unlock()
}

// Volume implements Handle. The mixer has no cheap readback, so this
// reports the last volume successfully applied.
func (h *processHandle) Volume() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume, nil
}

// Stop implements Handle: terminate, bounded wait, then kill.
func (h *processHandle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopping.Store(true)

		h.mu.Lock()
		started := h.started
		h.mu.Unlock()
		if !started || h.cmd.Process == nil {
			return
		}

		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Already exited.
			return
		}

		select {
		case <-h.waitDone:
			h.log.Debug("Player process terminated")
			return
		case <-time.After(h.shutdownTimeout):
		}

		h.log.Warn("Player process did not terminate in time, killing")
		if err := h.cmd.Process.Kill(); err != nil {
			h.stopErr = fmt.Errorf("failed to kill player process: %w", err)
			return
		}
		select {
		case <-h.waitDone:
		case <-time.After(time.Second):
			h.stopErr = fmt.Errorf("player process survived kill")
		}
	})
	return h.stopErr
}

// Release implements Handle.
func (h *processHandle) Release() {
	// Stop owns all resources; Release exists for symmetry with decoder
	// backends that hold instances beyond the playback handle.
	_ = h.Stop()
}
