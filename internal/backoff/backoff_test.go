package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialExactDoubles(t *testing.T) {
	b := NewExponentialExact(15*time.Second, 2*time.Minute, 2, 0)

	want := []time.Duration{
		15 * time.Second,
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		120 * time.Second, // capped
	}
	for i, expected := range want {
		delay, ok := b.NextDelay()
		require.True(t, ok, "delay %d", i)
		assert.Equal(t, expected, delay, "delay %d", i)
	}
}

func TestExponentialMaxRetries(t *testing.T) {
	b := NewExponentialExact(time.Second, 10*time.Second, 2, 2)

	_, ok := b.NextDelay()
	require.True(t, ok)
	_, ok = b.NextDelay()
	require.True(t, ok)

	delay, ok := b.NextDelay()
	assert.False(t, ok)
	assert.Zero(t, delay)
}

func TestExponentialReset(t *testing.T) {
	b := NewExponentialExact(time.Second, time.Minute, 2, 1)

	delay, ok := b.NextDelay()
	require.True(t, ok)
	assert.Equal(t, time.Second, delay)
	_, ok = b.NextDelay()
	require.False(t, ok)

	b.Reset()

	delay, ok = b.NextDelay()
	require.True(t, ok)
	assert.Equal(t, time.Second, delay)
}

func TestExponentialJitterStaysInBounds(t *testing.T) {
	b := NewExponential(time.Second, time.Minute, 2, 0)

	delay, ok := b.NextDelay()
	require.True(t, ok)
	assert.GreaterOrEqual(t, delay, 800*time.Millisecond)
	assert.LessOrEqual(t, delay, 1200*time.Millisecond)
}

func TestFixedDelay(t *testing.T) {
	f := NewFixed(5*time.Second, 2)

	delay, ok := f.NextDelay()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)

	delay, ok = f.NextDelay()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)

	_, ok = f.NextDelay()
	assert.False(t, ok)

	f.Reset()
	_, ok = f.NextDelay()
	assert.True(t, ok)
}
