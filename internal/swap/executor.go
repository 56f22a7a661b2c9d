// Package swap implements ExecuteSwap/SimulateSwap/GetSwapStatus/
// UpdateSwapStatus against an adapter-registry + circuit-breaker
// dispatch, instead of a hardcoded per-provider switch.
package swap

import (
	"context"
	"time"

	"github.com/DimaJoyti/dex-router/internal/adapters"
	"github.com/DimaJoyti/dex-router/internal/breaker"
	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/internal/store"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Executor implements ExecuteSwap/SimulateSwap/GetSwapStatus/
// UpdateSwapStatus against a quote store, a swap store and the adapter
// registry, dispatching through the circuit breaker.
type Executor struct {
	adapters   *adapters.Registry
	breakers   *breaker.Registry
	quotes     store.QuoteStore
	swaps      store.SwapStore
	metrics    *metrics.Sink
	logger     *logger.Logger
	breakerCfg breaker.Config
}

// New builds an Executor.
func New(reg *adapters.Registry, breakers *breaker.Registry, quotes store.QuoteStore, swaps store.SwapStore, m *metrics.Sink, log *logger.Logger) *Executor {
	return &Executor{
		adapters:   reg,
		breakers:   breakers,
		quotes:     quotes,
		swaps:      swaps,
		metrics:    m,
		logger:     log.Named("swap-executor"),
		breakerCfg: breaker.DefaultAdapterConfig(),
	}
}

// ExecuteSwap loads the quote, builds a transaction through the
// originating adapter, and persists a PENDING SwapTransactionRecord.
func (e *Executor) ExecuteSwap(ctx context.Context, quoteID, userPublicKey string, options core.BuildOptions) (core.SwapTransactionRecord, error) {
	return e.buildAndRecord(ctx, quoteID, userPublicKey, options, false)
}

// SimulateSwap follows the same build flow, then simulates the built
// transaction instead of committing to the PENDING lifecycle. Nothing is
// persisted; the returned record is marked COMPLETED.
func (e *Executor) SimulateSwap(ctx context.Context, quoteID, userPublicKey string, options core.BuildOptions) (core.SwapTransactionRecord, core.SimulationResult, error) {
	record, adapter, buildResult, quote, err := e.prepareBuild(ctx, quoteID, userPublicKey, options)
	if err != nil {
		return core.SwapTransactionRecord{}, core.SimulationResult{}, err
	}

	simResult, err := breaker.ExecuteGuarded(e.breakers, adapter.Name(), "simulate", e.breakerCfg, ctx, func(ctx context.Context) (interface{}, error) {
		return adapter.SimulateTransaction(ctx, buildResult.TransactionBlob, userPublicKey)
	}, nil)
	if err != nil {
		return core.SwapTransactionRecord{}, core.SimulationResult{}, err
	}

	record.Status = core.SwapStatusCompleted
	record.RouteData.TransactionBlob = buildResult.TransactionBlob
	_ = quote

	return record, simResult.(core.SimulationResult), nil
}

func (e *Executor) prepareBuild(ctx context.Context, quoteID, userPublicKey string, options core.BuildOptions) (core.SwapTransactionRecord, adapters.Adapter, core.BuildTransactionResult, core.NormalizedQuote, error) {
	quoteRecord, err := e.quotes.GetQuote(ctx, quoteID)
	if err != nil {
		return core.SwapTransactionRecord{}, nil, core.BuildTransactionResult{}, core.NormalizedQuote{}, err
	}

	now := time.Now()
	if now.After(quoteRecord.ExpiresAt) {
		return core.SwapTransactionRecord{}, nil, core.BuildTransactionResult{}, core.NormalizedQuote{}, apperrors.RouteExpired(quoteID, quoteRecord.ExpiresAt)
	}

	if _, err := solana.PublicKeyFromBase58(userPublicKey); err != nil {
		return core.SwapTransactionRecord{}, nil, core.BuildTransactionResult{}, core.NormalizedQuote{}, apperrors.InvalidInput("userPublicKey is not a valid base58-encoded public key")
	}

	adapter, ok := e.adapters.Get(quoteRecord.Provider)
	if !ok {
		return core.SwapTransactionRecord{}, nil, core.BuildTransactionResult{}, core.NormalizedQuote{}, apperrors.RouteCalculationFailed("adapter for provider " + quoteRecord.Provider + " is not configured")
	}

	quote := quoteRecordToNormalized(quoteRecord)
	buildReq := core.BuildTransactionRequest{Quote: quote, UserPublicKey: userPublicKey, Options: options}

	raw, err := breaker.ExecuteGuarded(e.breakers, adapter.Name(), "build", e.breakerCfg, ctx, func(ctx context.Context) (interface{}, error) {
		return adapter.BuildTransaction(ctx, buildReq)
	}, nil)
	if err != nil {
		return core.SwapTransactionRecord{}, nil, core.BuildTransactionResult{}, core.NormalizedQuote{}, err
	}
	buildResult := raw.(core.BuildTransactionResult)

	record := core.SwapTransactionRecord{
		ID:           uuid.New().String(),
		InputMint:    quoteRecord.InputMint,
		OutputMint:   quoteRecord.OutputMint,
		InAmount:     quoteRecord.InAmount,
		OutAmount:    quoteRecord.OutAmount,
		MinOutAmount: minOutAmount(quoteRecord.OutAmount, defaultSlippageBps(quoteRecord.SlippageBps)),
		SlippageBps:  defaultSlippageBps(quoteRecord.SlippageBps),
		Provider:     quoteRecord.Provider,
		Status:       core.SwapStatusPending,
		RouteData: core.RouteDataBlob{
			Quote:                quote,
			BuildRequest:         buildReq,
			TransactionBlob:      buildResult.TransactionBlob,
			LastValidBlockHeight: buildResult.LastValidBlockHeight,
			PriorityFeeLamports:  buildResult.PriorityFeeLamports,
		},
		UserID:    userPublicKey,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(core.SwapExpiration),
	}

	return record, adapter, buildResult, quote, nil
}

func (e *Executor) buildAndRecord(ctx context.Context, quoteID, userPublicKey string, options core.BuildOptions, simulate bool) (core.SwapTransactionRecord, error) {
	record, _, _, _, err := e.prepareBuild(ctx, quoteID, userPublicKey, options)
	if err != nil {
		return core.SwapTransactionRecord{}, err
	}

	if e.swaps != nil {
		if err := e.swaps.CreateSwap(ctx, record); err != nil {
			e.logger.Error("failed to persist swap transaction record", zap.String("swapId", record.ID), zap.Error(err))
			return core.SwapTransactionRecord{}, apperrors.DatabaseError(err)
		}
	}

	return record, nil
}

// GetSwapStatus is a read of the persisted SwapTransactionRecord.
func (e *Executor) GetSwapStatus(ctx context.Context, transactionID string) (core.SwapTransactionRecord, error) {
	return e.swaps.GetSwap(ctx, transactionID)
}

// UpdateSwapStatus applies a monotone state transition, filling
// executionTimeMs off the record's createdAt when transitioning to a
// terminal state. The record is read from the store once, and that one
// read serves both the terminal-state check and createdAt.
func (e *Executor) UpdateSwapStatus(ctx context.Context, transactionID string, newStatus core.SwapStatus, txHash, errorCode, errorMessage *string) error {
	current, err := e.swaps.GetSwap(ctx, transactionID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return apperrors.RouteCalculationFailed("swap transaction is already in a terminal state")
	}

	var executionTimeMs *int64
	if newStatus.IsTerminal() {
		elapsed := time.Since(current.CreatedAt).Milliseconds()
		executionTimeMs = &elapsed
	}

	if err := e.swaps.UpdateSwapStatus(ctx, transactionID, newStatus, txHash, errorCode, errorMessage, executionTimeMs); err != nil {
		return err
	}

	if executionTimeMs != nil {
		e.logger.Info("swap transaction reached terminal state",
			zap.String("swapId", transactionID), zap.String("status", string(newStatus)),
			zap.Int64("executionTimeMs", *executionTimeMs))
	}
	return nil
}

func quoteRecordToNormalized(record core.QuoteRecord) core.NormalizedQuote {
	return core.NormalizedQuote{
		Provider:       record.Provider,
		InputMint:      record.InputMint,
		OutputMint:     record.OutputMint,
		InAmount:       record.InAmount,
		OutAmount:      record.OutAmount,
		SlippageBps:    record.SlippageBps,
		PriceImpactPct: record.PriceImpactPct,
		RoutePlan:      record.RoutePlan,
		PlatformFee:    record.PlatformFee,
		GasEstimate:    record.GasEstimate,
	}
}

func defaultSlippageBps(bps int) int {
	if bps <= 0 {
		return core.DefaultSlippageBps
	}
	return bps
}

// minOutAmount applies a slippage tolerance to an expected output amount,
// e.g. 50 bps reduces the amount by 0.5%.
func minOutAmount(outAmount decimal.Decimal, slippageBps int) decimal.Decimal {
	factor := decimal.NewFromInt(10000 - int64(slippageBps)).Div(decimal.NewFromInt(10000))
	return outAmount.Mul(factor)
}
