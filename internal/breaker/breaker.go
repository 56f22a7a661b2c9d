// Package breaker implements a per-(service, operation) circuit breaker
// and a generic ExecuteGuarded entry point that closes over a shared
// registry, giving every adapter call site the same guard without a
// per-adapter decorator.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"go.uber.org/zap"
)

// State is the circuit breaker's three-valued state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config controls a single breaker's thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultAdapterConfig is the default configuration for adapter operations.
func DefaultAdapterConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: 30 * time.Second}
}

// DefaultServiceConfig is the default configuration for generic service
// dependencies.
func DefaultServiceConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: 60 * time.Second}
}

// Func is the guarded operation signature.
type Func func(ctx context.Context) (interface{}, error)

// Fallback is invoked when the breaker fails fast.
type Fallback func(ctx context.Context, err error) (interface{}, error)

// Breaker is a per-(service, operation) state machine. All state
// mutations are serialized under mu; this is the critical section spec'd
// for the circuit.
type Breaker struct {
	service   string
	operation string
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Sink

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureAt   time.Time
	lastSuccessAt   time.Time
	nextAttemptTime time.Time
	halfOpenInFlight bool
}

func newBreaker(service, operation string, cfg Config, log *logger.Logger, m *metrics.Sink) *Breaker {
	return &Breaker{
		service:   service,
		operation: operation,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		state:     StateClosed,
	}
}

// Snapshot returns a read-only copy of the breaker's current state.
func (b *Breaker) Snapshot() CircuitStateSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitStateSnapshot{
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureAt:   b.lastFailureAt,
		LastSuccessAt:   b.lastSuccessAt,
		NextAttemptTime: b.nextAttemptTime,
	}
}

// CircuitStateSnapshot mirrors core.CircuitState for read-only inspection
// without importing the core package from breaker (breaker sits below
// core in the dependency graph).
type CircuitStateSnapshot struct {
	State           string
	FailureCount    int
	SuccessCount    int
	LastFailureAt   time.Time
	LastSuccessAt   time.Time
	NextAttemptTime time.Time
}

// admit decides whether a call may proceed. In HALF_OPEN it admits
// exactly one in-flight probe, deferring every other caller to fail-fast.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().Before(b.nextAttemptTime) {
			return false
		}
		b.transitionTo(StateHalfOpen)
		b.successCount = 0
		b.halfOpenInFlight = true
		return true
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSuccessAt = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	case StateHalfOpen:
		b.halfOpenInFlight = false
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureAt = time.Now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.halfOpenInFlight = false
		b.transitionTo(StateOpen)
	}
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(next State) {
	prev := b.state
	b.state = next
	switch next {
	case StateOpen:
		b.nextAttemptTime = time.Now().Add(b.cfg.RecoveryTimeout)
		b.failureCount = 0
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	}
	if prev != next {
		if b.logger != nil {
			b.logger.Info("circuit breaker state transition",
				zap.String("service", b.service),
				zap.String("operation", b.operation),
				zap.String("from", prev.String()),
				zap.String("to", next.String()),
			)
		}
		if b.metrics != nil {
			b.metrics.ObserveBreakerTransition(b.service, b.operation, prev.String(), next.String())
		}
	}
}

// Reset manually transitions the breaker to CLOSED and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.halfOpenInFlight = false
}

// Execute runs fn if the breaker admits the call, recording the outcome.
// When the breaker fails fast it returns a CIRCUIT_BREAKER_OPEN error
// (invoking fallback, if provided, instead). Every outcome, including a
// fail-fast, is reported to the metrics sink under (service, operation).
func (b *Breaker) Execute(ctx context.Context, fn Func, fallback Fallback) (interface{}, error) {
	if !b.admit() {
		err := apperrors.CircuitBreakerOpen(b.service, b.operation)
		if b.metrics != nil {
			b.metrics.ObserveAdapterCall(b.service, b.operation, "circuit_open", time.Duration(0))
		}
		if fallback != nil {
			return fallback(ctx, err)
		}
		return nil, err
	}

	start := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.ObserveAdapterCall(b.service, b.operation, outcomeLabel(err), elapsed)
	}

	if err != nil {
		b.recordFailure()
		return result, err
	}
	b.recordSuccess()
	return result, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Registry is a name-keyed map of breakers, built with a
// double-checked-locking GetOrCreate pattern.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *logger.Logger
	metrics  *metrics.Sink
}

// NewRegistry builds an empty Registry. m may be nil, in which case
// breakers created from it report no metrics.
func NewRegistry(log *logger.Logger, m *metrics.Sink) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), logger: log, metrics: m}
}

func registryKey(service, operation string) string {
	return service + "::" + operation
}

// GetOrCreate returns the breaker for (service, operation), creating it
// with cfg on first use.
func (r *Registry) GetOrCreate(service, operation string, cfg Config) *Breaker {
	key := registryKey(service, operation)

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = newBreaker(service, operation, cfg, r.logger, r.metrics)
	r.breakers[key] = b
	return b
}

// Get returns the breaker for (service, operation) if it exists.
func (r *Registry) Get(service, operation string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[registryKey(service, operation)]
	return b, ok
}

// All returns a snapshot of every registered breaker's state, keyed by
// "service::operation".
func (r *Registry) All() map[string]CircuitStateSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]CircuitStateSnapshot, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.Snapshot()
	}
	return out
}

// ExecuteGuarded resolves (or creates) the breaker for (service, operation)
// from reg and runs fn through it, invoking fallback on fail-fast instead
// of a per-operation wrapper type.
func ExecuteGuarded(reg *Registry, service, operation string, cfg Config, ctx context.Context, fn Func, fallback Fallback) (interface{}, error) {
	b := reg.GetOrCreate(service, operation, cfg)
	return b.Execute(ctx, fn, fallback)
}
