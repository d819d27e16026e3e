// Package circuitbreaker keeps one breaker per provider so a failing
// downstream (SES, SNS, listing API) fails fast instead of eating every
// item's time budget.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/dispatch"
	"github.com/lalithlochan/autopilot/internal/metrics"
)

// State mirrors gobreaker's state so callers don't import it.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

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

// ErrCircuitOpen is returned when a breaker rejects the call. It always
// comes wrapped together with dispatch.ErrUnavailable.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the settings applied to every breaker in a Set.
type Config struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32

	// RecoveryTimeout is how long to stay open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests uint32
}

func DefaultConfig() Config {
	return Config{
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Counts is a snapshot of one breaker.
type Counts struct {
	State                State
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Set lazily creates a breaker per provider name. It implements
// dispatch.Guard.
type Set struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Set {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	return &Set{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Execute runs fn through the breaker for name. Permanent errors pass
// through without counting as failures: a bad payload says nothing about
// provider health.
func (s *Set) Execute(name string, fn func() error) error {
	cb := s.get(name)

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Warn("circuit breaker rejected call",
			zap.String("breaker", name),
			zap.String("state", fromGobreaker(cb.State()).String()),
		)
		return fmt.Errorf("%w: %s: %w", ErrCircuitOpen, name, dispatch.ErrUnavailable)
	}
	return err
}

// State reports the current state for name. Unknown names are closed.
func (s *Set) State(name string) State {
	s.mu.Lock()
	cb, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return fromGobreaker(cb.State())
}

// Stats returns a snapshot for every breaker created so far.
func (s *Set) Stats() map[string]Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Counts, len(s.breakers))
	for name, cb := range s.breakers {
		c := cb.Counts()
		out[name] = Counts{
			State:                fromGobreaker(cb.State()),
			Requests:             c.Requests,
			TotalFailures:        c.TotalFailures,
			ConsecutiveFailures:  c.ConsecutiveFailures,
			ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		}
	}
	return out
}

func (s *Set) get(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[name]; ok {
		return cb
	}

	maxFailures := s.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.cfg.HalfOpenMaxRequests,
		Timeout:     s.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || dispatch.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", fromGobreaker(from).String()),
				zap.String("to", fromGobreaker(to).String()),
			)
			metrics.SetBreakerState(name, int(fromGobreaker(to)))
		},
	})
	s.breakers[name] = cb
	metrics.SetBreakerState(name, int(StateClosed))

	s.logger.Info("circuit breaker created",
		zap.String("name", name),
		zap.Uint32("max_failures", s.cfg.MaxFailures),
		zap.Duration("recovery_timeout", s.cfg.RecoveryTimeout),
	)
	return cb
}

func fromGobreaker(st gobreaker.State) State {
	switch st {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

var _ dispatch.Guard = (*Set)(nil)
