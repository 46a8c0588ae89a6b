package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrSinkNotFound is returned when the mixer has no sink input owned by the
// requested process yet. The audio pipeline of a freshly started player can
// take a moment to register with the mixer.
var ErrSinkNotFound = errors.New("no mixer sink input for process")

// Mixer controls per-process audio through an external audio mixer, with
// sink inputs addressed by their owning process id.
type Mixer interface {
	SinkForPID(ctx context.Context, pid int) (string, error)
	SetMute(ctx context.Context, sink string, mute bool) error
	SetVolume(ctx context.Context, sink string, percent int) error
}

// CommandRunner runs an external command and returns its stdout. Split out
// so mixer behaviour is testable without a sound server.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PactlMixer drives a PulseAudio-compatible mixer via the pactl CLI.
type PactlMixer struct {
	run CommandRunner
}

// NewPactlMixer creates a mixer backed by the pactl binary.
func NewPactlMixer() *PactlMixer {
	return &PactlMixer{run: execRunner}
}

// NewPactlMixerWithRunner creates a mixer with a custom command runner.
func NewPactlMixerWithRunner(run CommandRunner) *PactlMixer {
	return &PactlMixer{run: run}
}

// SinkForPID finds the sink input whose owning-process attribute matches pid.
func (m *PactlMixer) SinkForPID(ctx context.Context, pid int) (string, error) {
	out, err := m.run(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return "", fmt.Errorf("failed to list sink inputs: %w", err)
	}

	needle := fmt.Sprintf("application.process.id = %q", strconv.Itoa(pid))
	current := ""
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "Sink Input #"); ok {
			current = after
			continue
		}
		if strings.Contains(line, needle) && current != "" {
			return current, nil
		}
	}
	return "", ErrSinkNotFound
}

// SetMute mutes or unmutes a sink input.
func (m *PactlMixer) SetMute(ctx context.Context, sink string, mute bool) error {
	flag := "0"
	if mute {
		flag = "1"
	}
	if _, err := m.run(ctx, "pactl", "set-sink-input-mute", sink, flag); err != nil {
		return fmt.Errorf("failed to set mute on sink %s: %w", sink, err)
	}
	return nil
}

// SetVolume sets a sink input volume in percent.
func (m *PactlMixer) SetVolume(ctx context.Context, sink string, percent int) error {
	if _, err := m.run(ctx, "pactl", "set-sink-input-volume", sink, fmt.Sprintf("%d%%", percent)); err != nil {
		return fmt.Errorf("failed to set volume on sink %s: %w", sink, err)
	}
	return nil
}
