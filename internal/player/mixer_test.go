package player

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sinkInputListing = `Sink Input #12
	Driver: protocol-native.c
	Client: 40
	Properties:
		application.name = "VLC media player"
		application.process.id = "4242"

Sink Input #31
	Driver: protocol-native.c
	Client: 55
	Properties:
		application.name = "VLC media player"
		application.process.id = "9001"
`

type recordedCommand struct {
	name string
	args []string
}

func recordingRunner(out []byte, err error) (CommandRunner, *[]recordedCommand) {
	var calls []recordedCommand
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, recordedCommand{name: name, args: args})
		return out, err
	}
	return run, &calls
}

func TestSinkForPID(t *testing.T) {
	run, calls := recordingRunner([]byte(sinkInputListing), nil)
	m := NewPactlMixerWithRunner(run)

	sink, err := m.SinkForPID(context.Background(), 9001)
	require.NoError(t, err)
	assert.Equal(t, "31", sink)

	require.Len(t, *calls, 1)
	assert.Equal(t, "pactl", (*calls)[0].name)
	assert.Equal(t, []string{"list", "sink-inputs"}, (*calls)[0].args)
}

func TestSinkForPIDUnknownProcess(t *testing.T) {
	run, _ := recordingRunner([]byte(sinkInputListing), nil)
	m := NewPactlMixerWithRunner(run)

	_, err := m.SinkForPID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSinkNotFound)
}

func TestSinkForPIDCommandFailure(t *testing.T) {
	run, _ := recordingRunner(nil, fmt.Errorf("pactl not installed"))
	m := NewPactlMixerWithRunner(run)

	_, err := m.SinkForPID(context.Background(), 9001)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSinkNotFound)
}

func TestSetMuteArgs(t *testing.T) {
	run, calls := recordingRunner(nil, nil)
	m := NewPactlMixerWithRunner(run)

	require.NoError(t, m.SetMute(context.Background(), "31", true))
	require.NoError(t, m.SetMute(context.Background(), "31", false))

	require.Len(t, *calls, 2)
	assert.Equal(t, []string{"set-sink-input-mute", "31", "1"}, (*calls)[0].args)
	assert.Equal(t, []string{"set-sink-input-mute", "31", "0"}, (*calls)[1].args)
}

func TestSetVolumeArgs(t *testing.T) {
	run, calls := recordingRunner(nil, nil)
	m := NewPactlMixerWithRunner(run)

	require.NoError(t, m.SetVolume(context.Background(), "12", 100))

	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"set-sink-input-volume", "12", "100%"}, (*calls)[0].args)
}
