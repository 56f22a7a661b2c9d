package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DimaJoyti/dex-router/internal/adapters"
	"github.com/DimaJoyti/dex-router/internal/breaker"
	"github.com/DimaJoyti/dex-router/internal/coalesce"
	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/internal/routing"
	"github.com/DimaJoyti/dex-router/internal/swap"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/cache"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserPublicKey = "So11111111111111111111111111111111111111112"

type stubAdapter struct {
	name        string
	quote       core.NormalizedQuote
	buildResult core.BuildTransactionResult
	simResult   core.SimulationResult
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Quote(ctx context.Context, req core.QuoteRequest) (core.NormalizedQuote, error) {
	q := a.quote
	q.Provider = a.name
	return q, nil
}

func (a *stubAdapter) BuildTransaction(ctx context.Context, req core.BuildTransactionRequest) (core.BuildTransactionResult, error) {
	return a.buildResult, nil
}

func (a *stubAdapter) SimulateTransaction(ctx context.Context, blob, userKey string) (core.SimulationResult, error) {
	return a.simResult, nil
}

func (a *stubAdapter) IsHealthy(ctx context.Context) bool { return true }

type memQuoteStore struct {
	mu      sync.Mutex
	records map[string]core.QuoteRecord
}

func newMemQuoteStore() *memQuoteStore {
	return &memQuoteStore{records: make(map[string]core.QuoteRecord)}
}

func (s *memQuoteStore) SaveQuote(ctx context.Context, record core.QuoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *memQuoteStore) GetQuote(ctx context.Context, id string) (core.QuoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return core.QuoteRecord{}, apperrors.RouteNotFound(id)
	}
	return record, nil
}

type memSwapStore struct {
	mu      sync.Mutex
	records map[string]core.SwapTransactionRecord
}

func newMemSwapStore() *memSwapStore {
	return &memSwapStore{records: make(map[string]core.SwapTransactionRecord)}
}

func (s *memSwapStore) CreateSwap(ctx context.Context, record core.SwapTransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *memSwapStore) GetSwap(ctx context.Context, id string) (core.SwapTransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return core.SwapTransactionRecord{}, apperrors.RouteNotFound(id)
	}
	return record, nil
}

func (s *memSwapStore) UpdateSwapStatus(ctx context.Context, id string, status core.SwapStatus, txHash, errorCode, errorMessage *string, executionTimeMs *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return apperrors.RouteNotFound(id)
	}
	record.Status = status
	if txHash != nil {
		record.TxHash = txHash
	}
	record.ErrorCode = errorCode
	record.ErrorMessage = errorMessage
	if executionTimeMs != nil {
		record.ExecutionTimeMs = executionTimeMs
	}
	s.records[id] = record
	return nil
}

func newTestRouter(t *testing.T, adapter *stubAdapter) (*gin.Engine, *memQuoteStore, *memSwapStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewDevelopment("httpapi-test")
	mc := cache.NewMemoryCache()
	m := metrics.New()
	co := coalesce.New(mc, m, log)
	reg := adapters.NewRegistry(adapter)
	breakers := breaker.NewRegistry(log, m)
	quotes := newMemQuoteStore()
	swaps := newMemSwapStore()

	engine := routing.New(reg, breakers, co, mc, quotes, m, log, routing.Config{})
	executor := swap.New(reg, breakers, quotes, swaps, m, log)
	handler := NewHandler(engine, executor, quotes, log)

	router := gin.New()
	router.Use(CorrelationIDMiddleware(), ErrorMiddleware())
	handler.RegisterRoutes(router.Group("/api/v1"))
	return router, quotes, swaps
}

func seedQuoteRecord(t *testing.T, quotes *memQuoteStore, provider string, expiresAt time.Time) string {
	t.Helper()
	record := core.QuoteRecord{
		ID:          "quote-1",
		Provider:    provider,
		InputMint:   "So11111111111111111111111111111111111111112",
		OutputMint:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		InAmount:    decimal.NewFromInt(1_000_000),
		OutAmount:   decimal.NewFromInt(950_000),
		SlippageBps: 100,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	require.NoError(t, quotes.SaveQuote(context.Background(), record))
	return record.ID
}

func TestGetQuote_ReturnsBestRouteWithFeeBreakdown(t *testing.T) {
	adapter := &stubAdapter{name: "jupiter", quote: core.NormalizedQuote{
		InAmount: decimal.NewFromInt(1_000_000_000), OutAmount: decimal.NewFromInt(145_670_000),
	}}
	router, _, _ := newTestRouter(t, adapter)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quote?inputMint=SOL&outputMint=USDC&amount=1000000000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp routeResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "jupiter", resp.Best.Provider)
	assert.NotEmpty(t, resp.QuoteID)
	assert.NotEmpty(t, resp.FeeBreakdown.TotalFee)
}

func TestGetQuote_RejectsNonPositiveAmount(t *testing.T) {
	adapter := &stubAdapter{name: "jupiter"}
	router, _, _ := newTestRouter(t, adapter)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quote?inputMint=SOL&outputMint=USDC&amount=0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.InvalidAmountCode), body["errorCode"])
}

func TestGetQuoteByID_NotFoundRendersErrorEnvelope(t *testing.T) {
	adapter := &stubAdapter{name: "jupiter"}
	router, _, _ := newTestRouter(t, adapter)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quote/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.RouteNotFoundCode), body["errorCode"])
	assert.NotEmpty(t, body["requestId"])
}

func TestExecuteSwap_ReturnsPendingTransaction(t *testing.T) {
	adapter := &stubAdapter{name: "jupiter", buildResult: core.BuildTransactionResult{TransactionBlob: "blob-1"}}
	router, quotes, _ := newTestRouter(t, adapter)
	quoteID := seedQuoteRecord(t, quotes, "jupiter", time.Now().Add(time.Minute))

	body, _ := json.Marshal(executeSwapRequest{QuoteID: quoteID, UserPublicKey: testUserPublicKey})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/swap/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp executeSwapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "blob-1", resp.Transaction.SwapTransaction)
}

func TestCancelSwap_RejectsNonPendingTransaction(t *testing.T) {
	adapter := &stubAdapter{name: "jupiter", buildResult: core.BuildTransactionResult{TransactionBlob: "blob-2"}}
	router, quotes, swaps := newTestRouter(t, adapter)
	quoteID := seedQuoteRecord(t, quotes, "jupiter", time.Now().Add(time.Minute))

	body, _ := json.Marshal(executeSwapRequest{QuoteID: quoteID, UserPublicKey: testUserPublicKey})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/swap/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created executeSwapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	txHash := "tx-1"
	require.NoError(t, swaps.UpdateSwapStatus(context.Background(), created.TransactionID, core.SwapStatusCompleted, &txHash, nil, nil, nil))

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/v1/swap/"+created.TransactionID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)

	assert.Equal(t, http.StatusBadRequest, cancelRec.Code)
	var body2 map[string]interface{}
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &body2))
	assert.Equal(t, string(apperrors.InvalidInputCode), body2["errorCode"])
}

func TestCancelSwap_SucceedsWhenPending(t *testing.T) {
	adapter := &stubAdapter{name: "jupiter", buildResult: core.BuildTransactionResult{TransactionBlob: "blob-3"}}
	router, quotes, _ := newTestRouter(t, adapter)
	quoteID := seedQuoteRecord(t, quotes, "jupiter", time.Now().Add(time.Minute))

	body, _ := json.Marshal(executeSwapRequest{QuoteID: quoteID, UserPublicKey: testUserPublicKey})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/swap/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created executeSwapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/v1/swap/"+created.TransactionID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)

	require.Equal(t, http.StatusOK, cancelRec.Code)
	var resp swapRecordDTO
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &resp))
	assert.Equal(t, "FAILED", resp.Status)
	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, "CANCELED_BY_USER", *resp.ErrorCode)
}
