package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is wrapped by every call the breaker rejects without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes a breaker guarding one downstream channel API.
type BreakerConfig struct {
	Name string

	// HalfOpenProbes is how many trial calls pass while half-open.
	HalfOpenProbes uint32
	// ResetInterval clears the closed-state counts; 0 never clears them.
	ResetInterval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration

	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32

	// Counts reports whether err should count against the breaker.
	// When nil every error counts.
	Counts func(err error) bool

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns the settings used for storefront APIs
func DefaultBreakerConfig(name string) *BreakerConfig {
	return &BreakerConfig{
		Name:                name,
		HalfOpenProbes:      1,
		ResetInterval:       time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// Breaker is a gobreaker circuit breaker that logs transitions
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	counts func(error) bool
	logger *slog.Logger
}

// NewBreaker builds a breaker from config. A nil logger uses slog.Default.
func NewBreaker(config *BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	counts := config.Counts
	if counts == nil {
		counts = func(error) bool { return true }
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenProbes,
		Interval:    config.ResetInterval,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= config.ConsecutiveFailures {
				return true
			}
			return c.Requests >= config.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if config.OnStateChange != nil {
				config.OnStateChange(name, from, to)
			}
		},
	}

	return &Breaker{
		cb:     gobreaker.NewCircuitBreaker(settings),
		name:   config.Name,
		counts: counts,
		logger: logger,
	}
}

// Call runs fn through b and returns its typed result. Errors rejected by the
// breaker's Counts filter are returned to the caller but recorded as successes.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var ignored error

	result, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn(ctx)
		if err != nil && !b.counts(err) {
			ignored = err
			return nil, nil
		}
		return v, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.logger.WarnContext(ctx, "Circuit breaker rejected call", "name", b.name, "state", b.cb.State().String())
		return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	case err != nil:
		return zero, err
	case ignored != nil:
		return zero, ignored
	}

	v, _ := result.(T)
	return v, nil
}

// State returns the current state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// Counts returns the counts for the current generation
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// StateValue maps a state onto the circuit_breaker_state gauge: 0 closed, 1 half-open, 2 open.
func StateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
