package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Strategy defines the retry delay strategy interface
type Strategy interface {
	// NextDelay returns the next delay duration and whether to continue retrying
	NextDelay() (time.Duration, bool)
	// Reset resets the strategy to initial state
	Reset()
}

// Exponential implements exponential backoff with optional jitter
type Exponential struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int     // 0 means unlimited
	Jitter       float64 // fraction of spread around the delay, 0 disables

	currentDelay time.Duration
	retryCount   int
	mu           sync.Mutex
}

// NewExponential creates a new exponential backoff strategy with ±20% jitter.
func NewExponential(initialDelay, maxDelay time.Duration, multiplier float64, maxRetries int) *Exponential {
	return &Exponential{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		MaxRetries:   maxRetries,
		Jitter:       0.2,
		currentDelay: initialDelay,
	}
}

// NewExponentialExact creates an exponential backoff strategy without jitter,
// for delays that are part of an observable contract.
func NewExponentialExact(initialDelay, maxDelay time.Duration, multiplier float64, maxRetries int) *Exponential {
	b := NewExponential(initialDelay, maxDelay, multiplier, maxRetries)
	b.Jitter = 0
	return b
}

// NextDelay returns the next delay with exponential growth
func (e *Exponential) NextDelay() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.MaxRetries > 0 && e.retryCount >= e.MaxRetries {
		return 0, false
	}

	delay := e.currentDelay
	if e.Jitter > 0 {
		spread := 1 - e.Jitter + (2 * e.Jitter * rand.Float64())
		delay = time.Duration(float64(delay) * spread)
	}

	// Update for next iteration
	e.currentDelay = time.Duration(float64(e.currentDelay) * e.Multiplier)
	if e.currentDelay > e.MaxDelay {
		e.currentDelay = e.MaxDelay
	}
	e.retryCount++

	return delay, true
}

// Reset resets the backoff strategy
func (e *Exponential) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentDelay = e.InitialDelay
	e.retryCount = 0
}

// Fixed implements a constant-delay strategy
type Fixed struct {
	Delay      time.Duration
	MaxRetries int

	retryCount int
	mu         sync.Mutex
}

// NewFixed creates a new fixed-delay strategy
func NewFixed(delay time.Duration, maxRetries int) *Fixed {
	return &Fixed{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// NextDelay returns the fixed delay
func (f *Fixed) NextDelay() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.MaxRetries > 0 && f.retryCount >= f.MaxRetries {
		return 0, false
	}

	f.retryCount++
	return f.Delay, true
}

// Reset resets the backoff strategy
func (f *Fixed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryCount = 0
}
