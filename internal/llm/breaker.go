package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is in open state and
// rejects requests to prevent hammering an unavailable provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds the configuration for a provider circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 3.
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning
	// to half-open. Default: 30 seconds.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes required in half-open
	// state to close the circuit again. Default: 2.
	HalfOpenMaxSuccesses uint32
}

// Breaker wraps gobreaker to protect provider calls. When closed, requests
// pass through. After MaxFailures consecutive failures the circuit opens and
// rejects all requests until Timeout elapses, then allows test requests in
// half-open state.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker with default configuration.
func NewBreaker(name string) *Breaker {
	return NewBreakerWithConfig(name, BreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewBreakerWithConfig creates a circuit breaker with custom configuration.
func NewBreakerWithConfig(name string, config BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0, // never clear counts periodically
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the circuit breaker. If the circuit is open it
// returns ErrCircuitOpen immediately; a cancelled context fails before fn
// runs.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State returns the current breaker state: "closed", "open" or "half-open".
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
