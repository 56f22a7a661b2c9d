package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJupiterAdapter(t *testing.T, server *httptest.Server) *JupiterAdapter {
	t.Helper()
	return NewJupiterAdapter(JupiterConfig{BaseURL: server.URL, Timeout: time.Second, RequestsPerSec: 100}, logger.NewDevelopment("test"))
}

func TestJupiterAdapter_Quote_NormalizesFirstRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		resp := jupiterQuoteResponse{
			Data: []jupiterRoute{
				{
					InputMint:            "So11111111111111111111111111111111111111112",
					InAmount:             "1000000000",
					OutputMint:           "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
					OutAmount:            "95000000",
					OtherAmountThreshold: "94000000",
					SwapMode:             "ExactIn",
					SlippageBps:          50,
					PriceImpactPct:       "0.01",
					RoutePlan: []jupiterRoutePlan{
						{SwapInfo: jupiterSwapInfo{AmmKey: "amm1", Label: "Orca", InAmount: "1000000000", OutAmount: "95000000"}, Percent: 100},
					},
					ContextSlot: 12345,
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := testJupiterAdapter(t, server)
	req := core.QuoteRequest{
		InputMint:   "So11111111111111111111111111111111111111112",
		OutputMint:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Amount:      decimal.NewFromInt(1000000000),
		SlippageBps: 50,
	}

	quote, err := adapter.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "jupiter", quote.Provider)
	assert.True(t, quote.OutAmount.Equal(decimal.NewFromInt(95000000)))
	assert.Len(t, quote.RoutePlan, 1)
	assert.Equal(t, "amm1", quote.RoutePlan[0].AmmKey)
}

func TestJupiterAdapter_Quote_TranslatesRateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := testJupiterAdapter(t, server)
	_, err := adapter.Quote(context.Background(), core.QuoteRequest{
		InputMint: "a", OutputMint: "b", Amount: decimal.NewFromInt(1), SlippageBps: 50,
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.DEXRateLimitedCode, appErr.Code)
}

func TestJupiterAdapter_IsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(jupiterQuoteResponse{})
	}))
	defer server.Close()

	adapter := testJupiterAdapter(t, server)
	assert.True(t, adapter.IsHealthy(context.Background()))
}
