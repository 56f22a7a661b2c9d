package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DimaJoyti/dex-router/internal/adapters"
	"github.com/DimaJoyti/dex-router/internal/breaker"
	"github.com/DimaJoyti/dex-router/internal/coalesce"
	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/pkg/cache"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name    string
	delay   time.Duration
	quote   core.NormalizedQuote
	failErr error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Quote(ctx context.Context, req core.QuoteRequest) (core.NormalizedQuote, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failErr != nil {
		return core.NormalizedQuote{}, f.failErr
	}
	q := f.quote
	q.Provider = f.name
	return q, nil
}

func (f *fakeAdapter) BuildTransaction(ctx context.Context, req core.BuildTransactionRequest) (core.BuildTransactionResult, error) {
	return core.BuildTransactionResult{}, nil
}

func (f *fakeAdapter) SimulateTransaction(ctx context.Context, blob, userKey string) (core.SimulationResult, error) {
	return core.SimulationResult{}, nil
}

func (f *fakeAdapter) IsHealthy(ctx context.Context) bool { return true }

type fakeStore struct {
	mu      sync.Mutex
	records []core.QuoteRecord
}

func (s *fakeStore) SaveQuote(ctx context.Context, record core.QuoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func newTestEngine(t *testing.T, fakeAdapters ...adapters.Adapter) (*Engine, *cache.MemoryCache, *fakeStore) {
	t.Helper()
	mc := cache.NewMemoryCache()
	log := logger.NewDevelopment("test")
	m := metrics.New()
	co := coalesce.New(mc, m, log)
	reg := adapters.NewRegistry(fakeAdapters...)
	breakers := breaker.NewRegistry(log, m)
	store := &fakeStore{}
	engine := New(reg, breakers, co, mc, store, m, log, Config{})
	return engine, mc, store
}

func TestFindBestRoute_PicksHigherOutputByDefault(t *testing.T) {
	adapterA := &fakeAdapter{name: "a", delay: 5 * time.Millisecond, quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(145_670_000),
	}}
	adapterB := &fakeAdapter{name: "b", delay: 10 * time.Millisecond, quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(145_500_000),
	}}
	engine, _, store := newTestEngine(t, adapterA, adapterB)

	req := core.QuoteRequest{InputMint: "SOL", OutputMint: "USDC", Amount: decimal.NewFromInt(1_000_000_000), SlippageBps: 50}
	resp, err := engine.FindBestRoute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "a", resp.Best.Provider)
	require.Len(t, resp.Alternatives, 1)
	assert.Equal(t, "b", resp.Alternatives[0].Provider)
	assert.NotEmpty(t, resp.QuoteID)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.records, 1)
}

func TestFindBestRoute_FavorLowLatencyPrefersFaster(t *testing.T) {
	adapterA := &fakeAdapter{name: "a", delay: 120 * time.Millisecond, quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(145_670_000),
	}}
	adapterB := &fakeAdapter{name: "b", delay: 5 * time.Millisecond, quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(140_000_000),
	}}
	engine, _, _ := newTestEngine(t, adapterA, adapterB)

	req := core.QuoteRequest{
		InputMint: "SOL", OutputMint: "USDC", Amount: decimal.NewFromInt(1_000_000_000),
		SlippageBps: 50, FavorLowLatency: true,
	}
	resp, err := engine.FindBestRoute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Best.Provider)
}

func TestFindBestRoute_TolerantOfPartialAdapterFailure(t *testing.T) {
	good := &fakeAdapter{name: "good", quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(100_000_000),
	}}
	bad := &fakeAdapter{name: "bad", failErr: errors.New("upstream down")}
	engine, _, _ := newTestEngine(t, good, bad)

	req := core.QuoteRequest{InputMint: "SOL", OutputMint: "USDC", Amount: decimal.NewFromInt(1_000_000_000), SlippageBps: 50}
	resp, err := engine.FindBestRoute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Best.Provider)
	assert.Empty(t, resp.Alternatives)
}

func TestFindBestRoute_AllAdaptersFailingReturnsRouteCalculationFailed(t *testing.T) {
	bad := &fakeAdapter{name: "bad", failErr: errors.New("upstream down")}
	engine, _, _ := newTestEngine(t, bad)

	req := core.QuoteRequest{InputMint: "SOL", OutputMint: "USDC", Amount: decimal.NewFromInt(1_000_000_000), SlippageBps: 50}
	_, err := engine.FindBestRoute(context.Background(), req)
	require.Error(t, err)
}

func TestFindBestRoute_DiscardsZeroAmountQuote(t *testing.T) {
	zero := &fakeAdapter{name: "zero", quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.Zero,
	}}
	good := &fakeAdapter{name: "good", quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(100_000_000),
	}}
	engine, _, _ := newTestEngine(t, zero, good)

	req := core.QuoteRequest{InputMint: "SOL", OutputMint: "USDC", Amount: decimal.NewFromInt(1_000_000_000), SlippageBps: 50}
	resp, err := engine.FindBestRoute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Best.Provider)
}

func TestFindBestRoute_RepeatedCallWithinWindowReportsFullCacheHitRatio(t *testing.T) {
	good := &fakeAdapter{name: "good", quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(100_000_000),
	}}
	engine, _, _ := newTestEngine(t, good)

	req := core.QuoteRequest{InputMint: "SOL", OutputMint: "USDC", Amount: decimal.NewFromInt(1_000_000_000), SlippageBps: 50}

	first, err := engine.FindBestRoute(context.Background(), req)
	require.NoError(t, err)

	second, err := engine.FindBestRoute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1.0, second.CacheHitRatio)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.QuoteID, second.QuoteID)
}

func TestGetQuote_CoalescesIdenticalRequests(t *testing.T) {
	slow := &fakeAdapter{name: "slow", delay: 20 * time.Millisecond, quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(100_000_000),
	}}
	engine, _, _ := newTestEngine(t, slow)

	req := core.QuoteRequest{InputMint: "SOL", OutputMint: "USDC", Amount: decimal.NewFromInt(1_000_000_000), SlippageBps: 50}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.GetQuote(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for _, e := range errs {
		require.NoError(t, e)
	}
}
