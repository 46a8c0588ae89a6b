// Package player abstracts the video decoder/renderer collaborator. The
// supervisor core drives sessions through the Backend and Handle interfaces
// and stays agnostic of whether the decoder runs in-process or as an
// external player process.
package player

import (
	"context"
	"fmt"
	"time"
)

// EventType identifies a decoder lifecycle signal.
type EventType string

const (
	// EventPlaying signals the decoder reached steady playback.
	EventPlaying EventType = "playing"
	// EventError signals a fatal decoder error.
	EventError EventType = "error"
	// EventEnded signals the stream ended or the decoder exited.
	EventEnded EventType = "ended"
)

// Event is an asynchronous signal from the decoder.
type Event struct {
	Type EventType
	Err  error
}

// Resolution is the reported video frame size.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Surface is the opaque render target supplied by the embedding UI. The
// core only hands it through to the backend.
type Surface interface{}

// Handle is one live decoder connection. A session owns at most one handle
// at a time; ownership transfers to teardown on stop.
type Handle interface {
	// Play starts playback. Lifecycle signals arrive on Events.
	Play() error

	// Events delivers Playing/Error/Ended signals. The channel is never
	// closed; terminal events are delivered at most once.
	Events() <-chan Event

	// Resolution reports the decoded frame size, false while unknown.
	Resolution() (Resolution, bool)

	// SetVolume sets the audio volume, 0..100.
	SetVolume(percent int) error

	// Volume reports the current audio volume, 0..100.
	Volume() (int, error)

	// Idle reports whether the decoder showed no decode activity since
	// the previous call. Used by the monitor loop to detect drops.
	Idle() (bool, error)

	// Stop terminates playback and releases the decoder resource. It is
	// idempotent and bounded: it must return within the backend shutdown
	// timeout even if the decoder has to be killed.
	Stop() error

	// Release frees anything left after Stop. Safe to call repeatedly.
	Release()
}

// Backend creates decoder connections and describes the monitoring cadence
// appropriate for its signal quality.
type Backend interface {
	Name() string

	// Create opens a decoder connection for the stream URL bound to the
	// given render surface. Playback is not started.
	Create(ctx context.Context, url string, surface Surface) (Handle, error)

	// MonitorTick is the period of the session monitor loop.
	MonitorTick() time.Duration

	// SampleEvery is the minimum interval between idle samples.
	SampleEvery() time.Duration
}
