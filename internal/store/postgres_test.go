package store

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowToQuoteRecord_RoundTripsRoutePlanAndFee(t *testing.T) {
	plan := []core.RouteStep{{AmmKey: "amm1", Label: "Orca", InAmount: decimal.NewFromInt(100), OutAmount: decimal.NewFromInt(95)}}
	planJSON, err := json.Marshal(plan)
	require.NoError(t, err)

	fee := core.PlatformFee{Amount: decimal.NewFromInt(5), FeeBps: 10}
	feeJSON, err := json.Marshal(fee)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	row := quoteRow{
		ID:             "q1",
		Provider:       "jupiter",
		InputMint:      "SOL",
		OutputMint:     "USDC",
		InAmount:       decimal.NewFromInt(100),
		OutAmount:      decimal.NewFromInt(95),
		PriceImpactPct: decimal.NewFromFloat(0.01),
		RoutePlan:      planJSON,
		PlatformFee:    feeJSON,
		GasEstimate:    100000,
		ResponseTimeMs: 250,
		IsCached:       false,
		CreatedAt:      sql.NullTime{Time: now, Valid: true},
		ExpiresAt:      sql.NullTime{Time: now.Add(30 * time.Second), Valid: true},
		EfficiencyScore:  sql.NullFloat64{Float64: 0.82, Valid: true},
		ReliabilityScore: sql.NullFloat64{Float64: 0.95, Valid: true},
	}

	record, err := rowToQuoteRecord(row)
	require.NoError(t, err)

	assert.Equal(t, "q1", record.ID)
	require.Len(t, record.RoutePlan, 1)
	assert.Equal(t, "amm1", record.RoutePlan[0].AmmKey)
	require.NotNil(t, record.PlatformFee)
	assert.Equal(t, 10, record.PlatformFee.FeeBps)
	require.NotNil(t, record.EfficiencyScore)
	assert.InDelta(t, 0.82, *record.EfficiencyScore, 1e-9)
}

func TestRowToQuoteRecord_NilPlatformFeeWhenAbsent(t *testing.T) {
	row := quoteRow{ID: "q2", InAmount: decimal.NewFromInt(1), OutAmount: decimal.NewFromInt(1)}
	record, err := rowToQuoteRecord(row)
	require.NoError(t, err)
	assert.Nil(t, record.PlatformFee)
	assert.Empty(t, record.RoutePlan)
}

func TestRowToSwapRecord_PopulatesOptionalFields(t *testing.T) {
	routeData := core.RouteDataBlob{TransactionBlob: "blob"}
	routeJSON, err := json.Marshal(routeData)
	require.NoError(t, err)

	txHash := "tx-hash"
	row := swapRow{
		ID:           "s1",
		UserID:       "user-1",
		InputMint:    "SOL",
		OutputMint:   "USDC",
		InAmount:     decimal.NewFromInt(100),
		OutAmount:    decimal.NewFromInt(95),
		MinOutAmount: decimal.NewFromInt(90),
		SlippageBps:  50,
		Provider:     "jupiter",
		Status:       string(core.SwapStatusCompleted),
		TxHash:       sql.NullString{String: txHash, Valid: true},
		RouteData:    routeJSON,
		GasEstimate:  sql.NullInt64{Int64: 100000, Valid: true},
	}

	record, err := rowToSwapRecord(row)
	require.NoError(t, err)

	assert.Equal(t, core.SwapStatusCompleted, record.Status)
	require.NotNil(t, record.TxHash)
	assert.Equal(t, txHash, *record.TxHash)
	require.NotNil(t, record.GasEstimate)
	assert.Equal(t, int64(100000), *record.GasEstimate)
	assert.Equal(t, "blob", record.RouteData.TransactionBlob)
}
