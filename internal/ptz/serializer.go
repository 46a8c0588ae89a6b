package ptz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quadwatch/quadwatch/internal/config"
	"github.com/quadwatch/quadwatch/internal/logger"
	"github.com/quadwatch/quadwatch/internal/metrics"
)

const (
	// moveSpeed is the continuous-move velocity on the requested axis.
	moveSpeed = 0.1

	// moveHold is how long a press drives the camera before the serializer
	// stops or pulses it.
	moveHold = time.Second

	// pulseSpeed and pulseHold define the tiny reversed nudge that damps
	// horizontal overshoot. The sign alternates per click so the nudges
	// cancel out over time.
	pulseSpeed = 0.001
	pulseHold  = 100 * time.Millisecond
)

// Serializer dispatches PTZ commands one at a time. A single mutex orders
// command sequences system-wide because the camera control connections are
// not assumed thread-safe, even across different cameras. All failures are
// swallowed: PTZ is best-effort and never disturbs a stream session.
type Serializer struct {
	resolver Resolver
	port     int
	log      logger.Logger

	// moveMu serializes whole command sequences (move, hold, stop).
	moveMu sync.Mutex

	// cache holds one resolved mover per camera IP.
	cacheMu sync.Mutex
	cache   map[string]Mover

	// busy blocks overlapping presses; moving tracks button hold state.
	// Both are written from the UI-event path and read from move
	// goroutines.
	busy   atomic.Bool
	moving atomic.Bool

	// clickCounts alternate the pulse-stop direction per camera slot.
	clickCounts [config.NumCameras]atomic.Int64
}

// NewSerializer creates a PTZ command serializer.
func NewSerializer(resolver Resolver, port int, log logger.Logger) *Serializer {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Serializer{
		resolver: resolver,
		port:     port,
		log:      log.WithField("component", "ptz"),
		cache:    make(map[string]Mover),
	}
}

// StartMove begins a continuous move on button press. It is a no-op when the
// target has no IP or another move sequence is still in flight.
func (s *Serializer) StartMove(ctx context.Context, t Target, dir Direction) {
	if !dir.Valid() || t.IP == "" {
		metrics.IncPTZRejected("no_target")
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		metrics.IncPTZRejected("busy")
		return
	}

	if dir.horizontal() {
		s.clickCounts[t.Index].Add(1)
	}
	s.moving.Store(true)

	go s.moveLoop(ctx, t, dir)
}

// StopMove ends a move on button release: unconditional stop, then release
// the busy flag so the next press goes through.
func (s *Serializer) StopMove(ctx context.Context, t Target, dir Direction) {
	s.moving.Store(false)
	if t.IP != "" {
		if m := s.mover(ctx, t); m != nil {
			if err := m.Stop(ctx); err != nil {
				s.log.WithError(err).WithField("camera", t.Index).Debug("PTZ stop failed")
			} else {
				metrics.IncPTZCommand("stop")
			}
		}
	}
	s.busy.Store(false)
}

// Reset drops all cached movers and parity counters. Called on full
// reconfiguration, when cameras may have changed address or credentials.
func (s *Serializer) Reset() {
	s.cacheMu.Lock()
	s.cache = make(map[string]Mover)
	s.cacheMu.Unlock()
	for i := range s.clickCounts {
		s.clickCounts[i].Store(0)
	}
}

// moveLoop runs one press's command sequence on its own goroutine, fully
// inside the global PTZ lock. The busy flag is released on every path.
func (s *Serializer) moveLoop(ctx context.Context, t Target, dir Direction) {
	defer s.busy.Store(false)

	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	m := s.mover(ctx, t)
	if m == nil {
		return
	}

	if err := m.ContinuousMove(ctx, velocityFor(dir)); err != nil {
		s.log.WithError(err).WithField("camera", t.Index).Debug("PTZ move failed")
		return
	}
	metrics.IncPTZCommand(string(dir))

	if !sleepCtx(ctx, moveHold) {
		_ = m.Stop(ctx)
		return
	}

	if dir.horizontal() {
		// Continuous pans overshoot; stop them with a tiny reversed tilt
		// nudge whose sign alternates per click.
		s.pulseStop(ctx, m, t.Index)
		return
	}

	if s.moving.Load() {
		if err := m.Stop(ctx); err != nil {
			s.log.WithError(err).WithField("camera", t.Index).Debug("PTZ stop failed")
		}
	}
}

func (s *Serializer) pulseStop(ctx context.Context, m Mover, index int) {
	tilt := pulseSpeed
	if s.clickCounts[index].Load()%2 == 0 {
		tilt = -pulseSpeed
	}
	if err := m.ContinuousMove(ctx, Velocity{Tilt: tilt}); err != nil {
		s.log.WithError(err).WithField("camera", index).Debug("PTZ pulse failed")
		return
	}
	sleepCtx(ctx, pulseHold)
	if err := m.Stop(ctx); err != nil {
		s.log.WithError(err).WithField("camera", index).Debug("PTZ pulse stop failed")
	}
	metrics.IncPTZCommand("pulse_stop")
}

// mover returns the cached motion service for the target camera, resolving
// it on first use. Returns nil when the camera has no reachable PTZ service.
func (s *Serializer) mover(ctx context.Context, t Target) Mover {
	s.cacheMu.Lock()
	if m, ok := s.cache[t.IP]; ok {
		s.cacheMu.Unlock()
		return m
	}
	s.cacheMu.Unlock()

	m, err := s.resolver.Resolve(ctx, t.IP, s.port, t.Username, t.Password)
	if err != nil || m == nil {
		if err != nil {
			s.log.WithError(err).WithField("ip", t.IP).Debug("PTZ resolve failed")
		}
		return nil
	}

	s.cacheMu.Lock()
	s.cache[t.IP] = m
	s.cacheMu.Unlock()
	return m
}

func velocityFor(dir Direction) Velocity {
	switch dir {
	case DirectionLeft:
		return Velocity{Pan: -moveSpeed}
	case DirectionRight:
		return Velocity{Pan: moveSpeed}
	case DirectionUp:
		return Velocity{Tilt: moveSpeed}
	case DirectionDown:
		return Velocity{Tilt: -moveSpeed}
	}
	return Velocity{}
}

// sleepCtx sleeps for d unless the context ends first. Reports whether the
// full duration elapsed.
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
