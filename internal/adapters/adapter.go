// Package adapters implements the uniform upstream-aggregator capability:
// Quote, BuildTransaction, SimulateTransaction, IsHealthy. Concrete
// adapters translate one provider's wire format into internal/core's
// adapter-agnostic shapes and never retry internally; retry and isolation
// are delegated to the circuit breaker and the coalescer.
package adapters

import (
	"context"

	"github.com/DimaJoyti/dex-router/internal/core"
)

// DefaultTimeout is the default per-request adapter timeout, in
// milliseconds. NewJupiterAdapter and NewSignedAdapter apply the same
// 3-second default themselves when their config leaves Timeout unset.
const DefaultTimeout = 3000

// Adapter is the capability every upstream provider implements.
type Adapter interface {
	Name() string
	Quote(ctx context.Context, req core.QuoteRequest) (core.NormalizedQuote, error)
	BuildTransaction(ctx context.Context, req core.BuildTransactionRequest) (core.BuildTransactionResult, error)
	SimulateTransaction(ctx context.Context, transactionBlob, userPublicKey string) (core.SimulationResult, error)
	IsHealthy(ctx context.Context) bool
}

// Registry resolves adapters by provider name so the route engine and
// swap executor never hardcode a per-provider switch.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from a set of adapters, keyed by their
// own Name().
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// Get resolves an adapter by provider name.
func (r *Registry) Get(provider string) (Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}
