package ptz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMover struct {
	mu    sync.Mutex
	moves []Velocity
	stops int
}

func (m *fakeMover) ContinuousMove(ctx context.Context, v Velocity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, v)
	return nil
}

func (m *fakeMover) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *fakeMover) snapshot() ([]Velocity, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Velocity, len(m.moves))
	copy(out, m.moves)
	return out, m.stops
}

type fakeResolver struct {
	mu       sync.Mutex
	movers   map[string]*fakeMover
	resolves int
	err      error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{movers: make(map[string]*fakeMover)}
}

func (r *fakeResolver) Resolve(ctx context.Context, ip string, port int, username, password string) (Mover, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolves++
	if r.err != nil {
		return nil, r.err
	}
	m, ok := r.movers[ip]
	if !ok {
		m = &fakeMover{}
		r.movers[ip] = m
	}
	return m, nil
}

func (r *fakeResolver) resolveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolves
}

func testTarget() Target {
	return Target{Index: 0, IP: "10.0.0.5", Username: "a", Password: "b"}
}

// waitIdle blocks until the serializer released its busy flag.
func waitIdle(t *testing.T, s *Serializer) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !s.busy.Load()
	}, 5*time.Second, 10*time.Millisecond, "serializer never went idle")
}

func TestStartMoveIgnoresBadTargets(t *testing.T) {
	resolver := newFakeResolver()
	s := NewSerializer(resolver, 2020, nil)

	s.StartMove(context.Background(), Target{Index: 0}, DirectionLeft)
	s.StartMove(context.Background(), testTarget(), Direction("sideways"))

	assert.Equal(t, 0, resolver.resolveCount())
	assert.False(t, s.busy.Load())
}

func TestStartMoveRejectsOverlap(t *testing.T) {
	resolver := newFakeResolver()
	s := NewSerializer(resolver, 2020, nil)
	ctx := context.Background()

	s.StartMove(ctx, testTarget(), DirectionLeft)
	// Second press while the first sequence is in flight is dropped.
	s.StartMove(ctx, testTarget(), DirectionLeft)
	waitIdle(t, s)

	moves, stops := resolver.movers["10.0.0.5"].snapshot()
	// One press: move plus its pulse-stop nudge, nothing from the second.
	require.Len(t, moves, 2)
	assert.Equal(t, Velocity{Pan: -moveSpeed}, moves[0])
	assert.Equal(t, 1, stops)
	assert.EqualValues(t, 1, s.clickCounts[0].Load())
}

func TestHorizontalPulseParityAlternates(t *testing.T) {
	resolver := newFakeResolver()
	s := NewSerializer(resolver, 2020, nil)
	ctx := context.Background()

	s.StartMove(ctx, testTarget(), DirectionLeft)
	waitIdle(t, s)
	s.StartMove(ctx, testTarget(), DirectionRight)
	waitIdle(t, s)

	moves, stops := resolver.movers["10.0.0.5"].snapshot()
	require.Len(t, moves, 4)
	pulse1, pulse2 := moves[1], moves[3]
	assert.Zero(t, pulse1.Pan)
	assert.Zero(t, pulse2.Pan)
	assert.InDelta(t, pulseSpeed, pulse1.Tilt, pulseSpeed/10)
	assert.InDelta(t, -pulseSpeed, pulse2.Tilt, pulseSpeed/10)
	assert.Equal(t, 2, stops)
}

func TestVerticalMoveStopsAfterHold(t *testing.T) {
	resolver := newFakeResolver()
	s := NewSerializer(resolver, 2020, nil)

	s.StartMove(context.Background(), testTarget(), DirectionUp)
	waitIdle(t, s)

	moves, stops := resolver.movers["10.0.0.5"].snapshot()
	require.Len(t, moves, 1)
	assert.Equal(t, Velocity{Tilt: moveSpeed}, moves[0])
	assert.Equal(t, 1, stops)
	// Vertical moves never touch the parity counter.
	assert.EqualValues(t, 0, s.clickCounts[0].Load())
}

func TestStopMoveReleasesBusy(t *testing.T) {
	resolver := newFakeResolver()
	s := NewSerializer(resolver, 2020, nil)
	ctx := context.Background()

	s.StartMove(ctx, testTarget(), DirectionUp)
	s.StopMove(ctx, testTarget(), DirectionUp)
	assert.False(t, s.moving.Load())
	waitIdle(t, s)
	assert.False(t, s.busy.Load())

	_, stops := resolver.movers["10.0.0.5"].snapshot()
	assert.GreaterOrEqual(t, stops, 1)
}

func TestResolverFailureDisablesMotion(t *testing.T) {
	resolver := newFakeResolver()
	resolver.err = fmt.Errorf("no ptz service")
	s := NewSerializer(resolver, 2020, nil)

	s.StartMove(context.Background(), testTarget(), DirectionUp)
	waitIdle(t, s)
	assert.Empty(t, resolver.movers)
}

func TestResetDropsMoverCache(t *testing.T) {
	resolver := newFakeResolver()
	s := NewSerializer(resolver, 2020, nil)
	ctx := context.Background()

	s.StartMove(ctx, testTarget(), DirectionLeft)
	waitIdle(t, s)
	require.Equal(t, 1, resolver.resolveCount())
	require.EqualValues(t, 1, s.clickCounts[0].Load())

	s.Reset()
	assert.EqualValues(t, 0, s.clickCounts[0].Load())

	s.StartMove(ctx, testTarget(), DirectionUp)
	waitIdle(t, s)
	assert.Equal(t, 2, resolver.resolveCount())
}

func TestVelocityFor(t *testing.T) {
	assert.Equal(t, Velocity{Pan: -moveSpeed}, velocityFor(DirectionLeft))
	assert.Equal(t, Velocity{Pan: moveSpeed}, velocityFor(DirectionRight))
	assert.Equal(t, Velocity{Tilt: moveSpeed}, velocityFor(DirectionUp))
	assert.Equal(t, Velocity{Tilt: -moveSpeed}, velocityFor(DirectionDown))
}
