// Package store persists QuoteRecord and SwapTransactionRecord: sqlx over
// Postgres, query-per-method, sql.ErrNoRows translated into a
// ROUTE_NOT_FOUND AppError for callers.
package store

import (
	"context"

	"github.com/DimaJoyti/dex-router/internal/core"
)

// QuoteStore persists and retrieves QuoteRecords by id.
type QuoteStore interface {
	SaveQuote(ctx context.Context, record core.QuoteRecord) error
	GetQuote(ctx context.Context, id string) (core.QuoteRecord, error)
}

// SwapStore persists and retrieves SwapTransactionRecords.
type SwapStore interface {
	CreateSwap(ctx context.Context, record core.SwapTransactionRecord) error
	GetSwap(ctx context.Context, id string) (core.SwapTransactionRecord, error)
	UpdateSwapStatus(ctx context.Context, id string, status core.SwapStatus, txHash, errorCode, errorMessage *string, executionTimeMs *int64) error
}
