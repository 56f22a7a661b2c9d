// Package coalesce implements GetWithCoalescing: the cache-aside primitive
// that collapses N concurrent identical factory invocations into one,
// replacing an advisory, non-atomic get-then-set check with a single
// owned in-flight slot per key.
package coalesce

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/cache"
	"github.com/DimaJoyti/dex-router/pkg/logger"
)

// Factory produces the value for a cache miss. It is invoked at most once
// per key across the process for a given burst of concurrent callers.
type Factory[T any] func(ctx context.Context) (T, error)

// flightEntry is the type-erased view of an in-flight single-flight group
// that the sweep loop operates on without knowing the value type.
type flightEntry interface {
	startedAt() time.Time
	failIfPending(err error) bool
}

// inFlight is one single-flight entry: a group of waiters collapsed onto
// one factory invocation.
type inFlight[T any] struct {
	done     chan struct{}
	result   T
	err      error
	started  time.Time
	waiters  int32
	mu       sync.Mutex
	finished bool
}

func newInFlight[T any]() *inFlight[T] {
	return &inFlight[T]{done: make(chan struct{}), started: time.Now(), waiters: 1}
}

func (f *inFlight[T]) startedAt() time.Time { return f.started }

func (f *inFlight[T]) failIfPending(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return false
	}
	f.finished = true
	f.err = err
	close(f.done)
	return true
}

func (f *inFlight[T]) complete(result T, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return
	}
	f.finished = true
	f.result, f.err = result, err
	close(f.done)
}

func (f *inFlight[T]) wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-f.done:
		if f.err != nil {
			return zero, f.err
		}
		return f.result, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// staleAfter bounds how long an in-flight entry may live before the sweep
// removes it, guarding against a leaked slot from a caller that never
// observed its own completion.
const staleAfter = 10 * time.Minute

// Coalescer layers an in-flight single-flight map over a cache.Cache. The
// map is untyped because one process-wide registry serves every cache-key
// namespace (quote:, route:, provider_quote:, token:); each call site
// recovers its concrete type via Go generics.
type Coalescer struct {
	cacheImpl cache.Cache
	metrics   *metrics.Sink
	logger    *logger.Logger

	mu       sync.Mutex
	inflight map[string]flightEntry

	stopSweep chan struct{}
}

// New builds a Coalescer over c, starting its stale-entry sweep.
func New(c cache.Cache, m *metrics.Sink, log *logger.Logger) *Coalescer {
	co := &Coalescer{
		cacheImpl: c,
		metrics:   m,
		logger:    log,
		inflight:  make(map[string]flightEntry),
		stopSweep: make(chan struct{}),
	}
	go co.sweepLoop()
	return co
}

// Close stops the background sweep.
func (c *Coalescer) Close() {
	close(c.stopSweep)
}

func (c *Coalescer) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepStale()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Coalescer) sweepStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, entry := range c.inflight {
		if now.Sub(entry.startedAt()) > staleAfter {
			entry.failIfPending(apperrors.ExternalServiceError(key, staleAfter))
			delete(c.inflight, key)
		}
	}
}

// cacheTypeLabel returns the first ':'-delimited segment of key, used as
// the cache-type label for metrics.
func cacheTypeLabel(key string) string {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx]
	}
	return key
}

// GetWithCoalescing resolves key against c in four steps:
//  1. cache hit -> return it (counted as hit).
//  2. an in-flight entry exists for key -> subscribe and wait for the
//     same result (counted as coalesced duplicate).
//  3. otherwise become the single-flight leader: run factory under
//     coalesceTimeout; on success, write to cache with ttl (skipped when
//     ttl<=0 or the result is the zero value); publish to all waiters;
//     remove the entry.
//  4. a factory failure propagates to all waiters; the sole leader (no
//     other caller joined) is permitted one fresh retry attempt.
func GetWithCoalescing[T any](ctx context.Context, c *Coalescer, key string, coalesceTimeout, ttl time.Duration, factory Factory[T]) (T, error) {
	var zero T
	label := cacheTypeLabel(key)

	var cached T
	if hit, err := c.cacheImpl.Get(ctx, key, &cached); err != nil {
		c.logger.WarnMap("cache read failed, falling through to coalescing", map[string]interface{}{"key": key, "error": err.Error()})
	} else if hit {
		c.metrics.ObserveCacheHit(label)
		return cached, nil
	}
	c.metrics.ObserveCacheMiss(label)

	c.mu.Lock()
	if existing, ok := c.inflight[key]; ok {
		typed, ok := existing.(*inFlight[T])
		c.mu.Unlock()
		if !ok {
			// A different value type was registered under this key by
			// another call site; treat as a fresh, uncoalesced attempt.
			return runFresh(ctx, c, key, label, coalesceTimeout, ttl, factory)
		}
		atomic.AddInt32(&typed.waiters, 1)
		c.metrics.ObserveCoalesced(label)
		return typed.wait(ctx)
	}

	entry := newInFlight[T]()
	c.inflight[key] = entry
	c.mu.Unlock()

	runFactoryInto(ctx, c, key, label, coalesceTimeout, ttl, factory, entry)

	result, err := entry.wait(ctx)
	if err != nil && atomic.LoadInt32(&entry.waiters) == 1 {
		return runFresh(ctx, c, key, label, coalesceTimeout, ttl, factory)
	}
	if err != nil {
		return zero, err
	}
	return result, nil
}

// runFresh runs factory as a brand-new, uncoalesced single-flight attempt
// (used for the leader's one-time fallback retry after its own attempt
// failed with no joined waiters).
func runFresh[T any](ctx context.Context, c *Coalescer, key, label string, coalesceTimeout, ttl time.Duration, factory Factory[T]) (T, error) {
	entry := newInFlight[T]()

	c.mu.Lock()
	c.inflight[key] = entry
	c.mu.Unlock()

	runFactoryInto(ctx, c, key, label, coalesceTimeout, ttl, factory, entry)
	return entry.wait(ctx)
}

func runFactoryInto[T any](ctx context.Context, c *Coalescer, key, label string, coalesceTimeout, ttl time.Duration, factory Factory[T], entry *inFlight[T]) {
	factoryCtx, cancel := context.WithTimeout(detach(ctx), coalesceTimeout)
	defer cancel()

	result, err := factory(factoryCtx)
	if err != nil && factoryCtx.Err() == context.DeadlineExceeded {
		err = apperrors.ExternalServiceError(key, coalesceTimeout)
	}

	c.mu.Lock()
	delete(c.inflight, key)
	waiters := atomic.LoadInt32(&entry.waiters)
	c.mu.Unlock()

	if err == nil && ttl > 0 && !isZero(result) {
		if setErr := c.cacheImpl.Set(context.Background(), key, result, ttl); setErr != nil {
			c.logger.WarnMap("failed to cache coalesced result", map[string]interface{}{"key": key, "error": setErr.Error()})
		}
	}

	entry.complete(result, err)
	c.metrics.ObserveCoalesceGroup(label, int(waiters), time.Since(entry.startedAt()))
}

// isZero reports whether v is its type's zero value, used to implement
// the "null/undefined results are not cached" guarantee without requiring
// T to be comparable (NormalizedQuote and friends hold slices).
func isZero[T any](v T) bool {
	return reflect.ValueOf(&v).Elem().IsZero()
}

// detach returns a context that carries ctx's values but ignores its
// cancellation, so a cancelled inbound request does not abort a factory
// that other waiters still depend on (a cancelled waiter does not cancel
// the factory).
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct{ parent context.Context }

func (detachedContext) Deadline() (time.Time, bool)          { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}                { return nil }
func (detachedContext) Err() error                           { return nil }
func (d detachedContext) Value(key interface{}) interface{}  { return d.parent.Value(key) }
