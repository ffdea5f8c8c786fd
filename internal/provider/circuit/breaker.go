// Package circuit provides circuit breaker functionality for provider calls.
// It prevents cascade failures by failing fast once the provider's error
// rate crosses a threshold.
package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed means the circuit is operating normally
	StateClosed State = iota
	// StateOpen means the circuit is tripped and calls are blocked
	StateOpen
	// StateHalfOpen means the circuit is testing if the provider has recovered
	StateHalfOpen
)

// String returns the state as a string
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker behavior
type Config struct {
	// MinSamples is the minimum number of observed calls before the
	// failure rate is evaluated
	MinSamples int
	// FailureRateThreshold opens the circuit when the observed failure
	// rate reaches this fraction (0..1]
	FailureRateThreshold float64
	// WindowSize is how many recent call outcomes are considered
	WindowSize int
	// ResetTimeout is how long the circuit stays open before half-opening
	// to probe recovery
	ResetTimeout time.Duration
}

// DefaultConfig returns the standard provider-guard configuration.
func DefaultConfig() Config {
	return Config{
		MinSamples:           5,
		FailureRateThreshold: 0.5,
		WindowSize:           10,
		ResetTimeout:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern over a sliding window of
// call outcomes.
type Breaker struct {
	mu sync.RWMutex

	config Config
	state  State
	name   string

	// Sliding window of recent outcomes, true = failure
	window []bool
	head   int
	filled int

	openedAt              time.Time
	halfOpenProbeInFlight bool

	// Statistics
	totalFailures  int64
	totalSuccesses int64
	totalTrips     int64
	lastError      error
}

// NewBreaker creates a new circuit breaker with the given configuration
func NewBreaker(name string, config Config) *Breaker {
	if config.MinSamples <= 0 {
		config.MinSamples = 5
	}
	if config.FailureRateThreshold <= 0 || config.FailureRateThreshold > 1 {
		config.FailureRateThreshold = 0.5
	}
	if config.WindowSize < config.MinSamples {
		config.WindowSize = config.MinSamples * 2
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
		name:   name,
		window: make([]bool, config.WindowSize),
	}
}

// Allow checks if a call should be allowed.
// Note: this may transition open to half-open once the reset timeout has
// elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openedAt) >= b.config.ResetTimeout {
			b.state = StateHalfOpen
			b.halfOpenProbeInFlight = true
			log.Info().
				Str("breaker", b.name).
				Str("state", "half-open").
				Msg("Circuit breaker transitioning to half-open for probe")
			return true
		}
		return false

	case StateHalfOpen:
		// Allow one probe at a time
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		return true

	default:
		return true
	}
}

// RecordSuccess records a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.observe(false)

	if b.state == StateHalfOpen {
		b.halfOpenProbeInFlight = false
		b.state = StateClosed
		b.resetWindow()
		log.Info().
			Str("breaker", b.name).
			Str("state", "closed").
			Msg("Circuit breaker recovered and closed")
	}
}

// RecordFailure records a failed call
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastError = err
	b.observe(true)

	switch b.state {
	case StateClosed:
		if b.filled >= b.config.MinSamples && b.failureRate() >= b.config.FailureRateThreshold {
			b.trip(err)
		}

	case StateHalfOpen:
		// A failed probe reopens the circuit for another reset period
		b.halfOpenProbeInFlight = false
		b.trip(err)
	}
}

func (b *Breaker) observe(failure bool) {
	b.window[b.head] = failure
	b.head = (b.head + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
}

func (b *Breaker) failureRate() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.head = 0
	b.filled = 0
}

func (b *Breaker) trip(err error) {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.halfOpenProbeInFlight = false
	b.totalTrips++

	log.Warn().
		Str("breaker", b.name).
		Float64("failureRate", b.failureRate()).
		Int("samples", b.filled).
		Err(err).
		Msg("Circuit breaker tripped")
}

// Reset restores the breaker to the closed state with an empty window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.resetWindow()
	b.halfOpenProbeInFlight = false
	b.lastError = nil

	log.Info().Str("breaker", b.name).Msg("Circuit breaker reset")
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOpen returns true if the circuit is open (blocking calls)
func (b *Breaker) IsOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateOpen
}

// Status is a snapshot of the breaker's current condition.
type Status struct {
	Name           string        `json:"name"`
	State          string        `json:"state"`
	FailureRate    float64       `json:"failure_rate"`
	Samples        int           `json:"samples"`
	TotalFailures  int64         `json:"total_failures"`
	TotalSuccesses int64         `json:"total_successes"`
	TotalTrips     int64         `json:"total_trips"`
	LastError      string        `json:"last_error,omitempty"`
	TimeUntilRetry time.Duration `json:"time_until_retry_ms,omitempty"`
}

// GetStatus returns the current status of the circuit breaker
func (b *Breaker) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := Status{
		Name:           b.name,
		State:          b.state.String(),
		FailureRate:    b.failureRate(),
		Samples:        b.filled,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		TotalTrips:     b.totalTrips,
	}
	if b.lastError != nil {
		status.LastError = b.lastError.Error()
	}
	if b.state == StateOpen {
		retryIn := b.config.ResetTimeout - time.Since(b.openedAt)
		if retryIn > 0 {
			status.TimeUntilRetry = retryIn
		}
	}
	return status
}
