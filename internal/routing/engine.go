package routing

import (
	"context"
	"sort"
	"time"

	"github.com/DimaJoyti/dex-router/internal/adapters"
	"github.com/DimaJoyti/dex-router/internal/breaker"
	"github.com/DimaJoyti/dex-router/internal/coalesce"
	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/cache"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	quoteCoalesceTimeout    = 10 * time.Second
	routeCoalesceTimeout    = 8 * time.Second
	providerCoalesceTimeout = 5 * time.Second
	providerQuoteTTL        = 15 * time.Second
)

// QuoteStore persists the best quote of every successful route
// calculation. Persistence failures must never fail the route itself.
type QuoteStore interface {
	SaveQuote(ctx context.Context, record core.QuoteRecord) error
}

// Engine implements GetQuote/FindBestRoute: fan-out across adapters,
// weighted scoring and ranking against a fixed weighted-sum formula.
type Engine struct {
	adapters   *adapters.Registry
	breakers   *breaker.Registry
	coalescer  *coalesce.Coalescer
	cacheImpl  cache.Cache
	store      QuoteStore
	metrics    *metrics.Sink
	logger     *logger.Logger
	weights    Weights
	envelopes  Envelopes
	breakerCfg breaker.Config
}

// Config configures an Engine.
type Config struct {
	Weights       Weights
	Envelopes     Envelopes
	BreakerConfig breaker.Config
}

// New builds an Engine. store may be nil, in which case quote
// persistence is skipped entirely.
func New(reg *adapters.Registry, breakers *breaker.Registry, co *coalesce.Coalescer, cacheImpl cache.Cache, store QuoteStore, m *metrics.Sink, log *logger.Logger, cfg Config) *Engine {
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	envelopes := cfg.Envelopes
	if envelopes == (Envelopes{}) {
		envelopes = DefaultEnvelopes()
	}
	breakerCfg := cfg.BreakerConfig
	if breakerCfg == (breaker.Config{}) {
		breakerCfg = breaker.DefaultAdapterConfig()
	}
	return &Engine{
		adapters:   reg,
		breakers:   breakers,
		coalescer:  co,
		cacheImpl:  cacheImpl,
		store:      store,
		metrics:    m,
		logger:     log.Named("routing"),
		weights:    weights,
		envelopes:  envelopes,
		breakerCfg: breakerCfg,
	}
}

// GetQuote is the public entry point: it coalesces identical full
// requests (including slippage) before delegating to FindBestRoute.
func (e *Engine) GetQuote(ctx context.Context, req core.QuoteRequest) (core.RouteResponse, error) {
	key := quoteKey(req.InputMint, req.OutputMint, req.Amount.String(), req.SlippageBps)
	return coalesce.GetWithCoalescing(ctx, e.coalescer, key, quoteCoalesceTimeout, 0, func(ctx context.Context) (core.RouteResponse, error) {
		return e.FindBestRoute(ctx, req)
	})
}

// FindBestRoute fans out to every configured adapter, scores and ranks
// the surviving quotes, and persists the winner best-effort. The route
// cache itself is read and written inside calculate, not by the
// coalescer, so a cache hit can report cacheHitRatio=1.0 instead of
// whatever ratio the original calculation happened to observe; the
// coalescer key here (suffixed, distinct from the cache key) only
// collapses concurrent identical calls into one.
func (e *Engine) FindBestRoute(ctx context.Context, req core.QuoteRequest) (core.RouteResponse, error) {
	start := time.Now()
	key := routeKey(req.InputMint, req.OutputMint, req.Amount.String())
	flightKey := key + ":flight"

	response, err := coalesce.GetWithCoalescing(ctx, e.coalescer, flightKey, routeCoalesceTimeout, 0, func(ctx context.Context) (core.RouteResponse, error) {
		return e.calculate(ctx, key, req)
	})
	if err != nil {
		return core.RouteResponse{}, err
	}

	response.RequestID = uuid.New().String()
	response.TotalResponseTime = time.Since(start)
	e.metrics.ObserveRouteLatency(response.CacheHitRatio == 1.0, response.TotalResponseTime)
	return response, nil
}

func (e *Engine) calculate(ctx context.Context, key string, req core.QuoteRequest) (core.RouteResponse, error) {
	var cached core.RouteResponse
	if hit, err := e.cacheImpl.Get(ctx, key, &cached); err != nil {
		e.logger.WarnMap("route cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	} else if hit {
		cached.CacheHitRatio = 1.0
		return cached, nil
	}

	all := e.adapters.All()
	if len(all) == 0 {
		return core.RouteResponse{}, apperrors.RouteCalculationFailed("no adapters configured")
	}

	type quoteOutcome struct {
		quote        core.NormalizedQuote
		responseTime time.Duration
		isCached     bool
		err          error
	}

	results := make(chan quoteOutcome, len(all))
	for _, adapter := range all {
		go func(a adapters.Adapter) {
			pKey := providerQuoteKey(a.Name(), req.InputMint, req.OutputMint, req.Amount.String(), req.SlippageBps)
			cached, _ := e.cacheImpl.Has(ctx, pKey)

			start := time.Now()
			quote, err := coalesce.GetWithCoalescing(ctx, e.coalescer, pKey, providerCoalesceTimeout, providerQuoteTTL, func(ctx context.Context) (core.NormalizedQuote, error) {
				raw, err := breaker.ExecuteGuarded(e.breakers, a.Name(), "quote", e.breakerCfg, ctx, func(ctx context.Context) (interface{}, error) {
					return a.Quote(ctx, req)
				}, nil)
				if err != nil {
					return core.NormalizedQuote{}, err
				}
				return raw.(core.NormalizedQuote), nil
			})
			elapsed := time.Since(start)
			if err != nil {
				e.logger.WarnMap("adapter quote failed", map[string]interface{}{"provider": a.Name(), "error": err.Error()})
			}
			results <- quoteOutcome{quote: quote, responseTime: elapsed, isCached: cached, err: err}
		}(adapter)
	}

	ranked := make([]core.RankedQuote, 0, len(all))
	cacheHits := 0
	for i := 0; i < len(all); i++ {
		outcome := <-results
		if outcome.err != nil {
			continue
		}
		if !isWellFormed(outcome.quote) {
			e.logger.WarnMap("discarding malformed quote", map[string]interface{}{"provider": outcome.quote.Provider})
			continue
		}
		if outcome.isCached {
			cacheHits++
		}
		score := Score(outcome.quote, outcome.responseTime, e.weights, e.envelopes)
		ranked = append(ranked, core.RankedQuote{
			Quote:        outcome.quote,
			Provider:     outcome.quote.Provider,
			ResponseTime: outcome.responseTime,
			Score:        score,
			IsCached:     outcome.isCached,
		})
	}

	if len(ranked) == 0 {
		return core.RouteResponse{}, apperrors.RouteCalculationFailed("no adapter produced a usable quote")
	}

	rank(ranked, req.FavorLowLatency)

	maxAlternatives := req.MaxAlternatives
	if maxAlternatives <= 0 {
		maxAlternatives = core.DefaultMaxAlternatives
	}
	alternatives := ranked[1:]
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}

	best := ranked[0]
	response := core.RouteResponse{
		Best:          best,
		Alternatives:  alternatives,
		CacheHitRatio: float64(cacheHits) / float64(len(all)),
	}

	quoteID := e.persistBestEffort(ctx, best, req.SlippageBps)
	response.QuoteID = quoteID

	if err := e.cacheImpl.Set(ctx, key, response, core.RouteExpiration); err != nil {
		e.logger.WarnMap("route cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	return response, nil
}

// rank orders ranked quotes by the active policy metric descending,
// breaking ties by provider name for determinism.
func rank(ranked []core.RankedQuote, favorLowLatency bool) {
	sort.SliceStable(ranked, func(i, j int) bool {
		mi, mj := rankingMetric(ranked[i], favorLowLatency), rankingMetric(ranked[j], favorLowLatency)
		if mi != mj {
			return mi > mj
		}
		return ranked[i].Provider < ranked[j].Provider
	})
}

// isWellFormed discards zero-amount quotes and route plans whose step
// amounts don't telescope end-to-end.
func isWellFormed(q core.NormalizedQuote) bool {
	if q.OutAmount.IsZero() || q.InAmount.IsZero() {
		return false
	}
	if len(q.RoutePlan) == 0 {
		return true
	}
	cursor := q.RoutePlan[0].InAmount
	if !cursor.Equal(q.InAmount) {
		return false
	}
	for i, step := range q.RoutePlan {
		if i > 0 && !step.InAmount.Equal(q.RoutePlan[i-1].OutAmount) {
			return false
		}
	}
	last := q.RoutePlan[len(q.RoutePlan)-1]
	return last.OutAmount.Equal(q.OutAmount)
}

func (e *Engine) persistBestEffort(ctx context.Context, best core.RankedQuote, slippageBps int) string {
	id := uuid.New().String()
	if e.store == nil {
		return id
	}

	now := time.Now()
	efficiency := best.Score.TotalScore
	reliability := best.Score.Reliability
	record := core.QuoteRecord{
		ID:             id,
		Provider:       best.Provider,
		InputMint:      best.Quote.InputMint,
		OutputMint:     best.Quote.OutputMint,
		InAmount:       best.Quote.InAmount,
		OutAmount:      best.Quote.OutAmount,
		SlippageBps:    slippageBps,
		PriceImpactPct: best.Quote.PriceImpactPct,
		RoutePlan:      best.Quote.RoutePlan,
		PlatformFee:    best.Quote.PlatformFee,
		GasEstimate:    best.Quote.GasEstimate,
		ResponseTimeMs: best.ResponseTime.Milliseconds(),
		IsCached:       best.IsCached,
		CreatedAt:      now,
		ExpiresAt:      now.Add(core.RouteExpiration),
		EfficiencyScore: &efficiency,
		ReliabilityScore: &reliability,
	}

	if err := e.store.SaveQuote(ctx, record); err != nil {
		e.logger.Warn("quote persistence failed", zap.String("quoteId", id), zap.Error(err))
	}
	return id
}
