package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresQuoteStore is the sqlx/Postgres QuoteStore: one query per
// method, no query builder.
type PostgresQuoteStore struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewPostgresQuoteStore(db *sqlx.DB, log *logger.Logger) *PostgresQuoteStore {
	return &PostgresQuoteStore{db: db, logger: log.Named("quote-store")}
}

type quoteRow struct {
	ID               string          `db:"id"`
	Provider         string          `db:"provider"`
	InputMint        string          `db:"input_mint"`
	OutputMint       string          `db:"output_mint"`
	InAmount         decimal.Decimal `db:"in_amount"`
	OutAmount        decimal.Decimal `db:"out_amount"`
	SlippageBps      int             `db:"slippage_bps"`
	PriceImpactPct   decimal.Decimal `db:"price_impact_pct"`
	RoutePlan        []byte          `db:"route_plan"`
	PlatformFee      []byte          `db:"platform_fee"`
	GasEstimate      int64           `db:"gas_estimate"`
	ResponseTimeMs   int64           `db:"response_time_ms"`
	IsCached         bool            `db:"is_cached"`
	CreatedAt        sql.NullTime    `db:"created_at"`
	ExpiresAt        sql.NullTime    `db:"expires_at"`
	EfficiencyScore  sql.NullFloat64 `db:"efficiency_score"`
	ReliabilityScore sql.NullFloat64 `db:"reliability_score"`
}

func (s *PostgresQuoteStore) SaveQuote(ctx context.Context, record core.QuoteRecord) error {
	routePlan, err := json.Marshal(record.RoutePlan)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseErrorCode, "marshal route plan")
	}
	var platformFee []byte
	if record.PlatformFee != nil {
		platformFee, err = json.Marshal(record.PlatformFee)
		if err != nil {
			return apperrors.Wrap(err, apperrors.DatabaseErrorCode, "marshal platform fee")
		}
	}

	query := `
		INSERT INTO quote_records (
			id, provider, input_mint, output_mint, in_amount, out_amount,
			slippage_bps, price_impact_pct, route_plan, platform_fee, gas_estimate,
			response_time_ms, is_cached, created_at, expires_at,
			efficiency_score, reliability_score
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.Provider, record.InputMint, record.OutputMint,
		record.InAmount, record.OutAmount, record.SlippageBps, record.PriceImpactPct,
		routePlan, platformFee, record.GasEstimate, record.ResponseTimeMs,
		record.IsCached, record.CreatedAt, record.ExpiresAt,
		record.EfficiencyScore, record.ReliabilityScore,
	)
	if err != nil {
		s.logger.Warn("failed to persist quote record", zap.String("quoteId", record.ID), zap.Error(err))
		return apperrors.DatabaseError(err)
	}
	return nil
}

func (s *PostgresQuoteStore) GetQuote(ctx context.Context, id string) (core.QuoteRecord, error) {
	const query = `
		SELECT id, provider, input_mint, output_mint, in_amount, out_amount,
		       slippage_bps, price_impact_pct, route_plan, platform_fee, gas_estimate,
		       response_time_ms, is_cached, created_at, expires_at,
		       efficiency_score, reliability_score
		FROM quote_records WHERE id = $1
	`

	var row quoteRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.QuoteRecord{}, apperrors.RouteNotFound(id)
		}
		return core.QuoteRecord{}, apperrors.Wrap(err, apperrors.DatabaseErrorCode, "get quote record")
	}
	return rowToQuoteRecord(row)
}

func rowToQuoteRecord(row quoteRow) (core.QuoteRecord, error) {
	var routePlan []core.RouteStep
	if len(row.RoutePlan) > 0 {
		if err := json.Unmarshal(row.RoutePlan, &routePlan); err != nil {
			return core.QuoteRecord{}, apperrors.Wrap(err, apperrors.DatabaseErrorCode, "unmarshal route plan")
		}
	}
	var fee *core.PlatformFee
	if len(row.PlatformFee) > 0 {
		fee = &core.PlatformFee{}
		if err := json.Unmarshal(row.PlatformFee, fee); err != nil {
			return core.QuoteRecord{}, apperrors.Wrap(err, apperrors.DatabaseErrorCode, "unmarshal platform fee")
		}
	}

	record := core.QuoteRecord{
		ID:             row.ID,
		Provider:       row.Provider,
		InputMint:      row.InputMint,
		OutputMint:     row.OutputMint,
		InAmount:       row.InAmount,
		OutAmount:      row.OutAmount,
		SlippageBps:    row.SlippageBps,
		PriceImpactPct: row.PriceImpactPct,
		RoutePlan:      routePlan,
		PlatformFee:    fee,
		GasEstimate:    row.GasEstimate,
		ResponseTimeMs: row.ResponseTimeMs,
		IsCached:       row.IsCached,
		CreatedAt:      row.CreatedAt.Time,
		ExpiresAt:      row.ExpiresAt.Time,
	}
	if row.EfficiencyScore.Valid {
		v := row.EfficiencyScore.Float64
		record.EfficiencyScore = &v
	}
	if row.ReliabilityScore.Valid {
		v := row.ReliabilityScore.Float64
		record.ReliabilityScore = &v
	}
	return record, nil
}

// PostgresSwapStore is the sqlx/Postgres SwapStore.
type PostgresSwapStore struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewPostgresSwapStore(db *sqlx.DB, log *logger.Logger) *PostgresSwapStore {
	return &PostgresSwapStore{db: db, logger: log.Named("swap-store")}
}

type swapRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	InputMint       string          `db:"input_mint"`
	OutputMint      string          `db:"output_mint"`
	InAmount        decimal.Decimal `db:"in_amount"`
	OutAmount       decimal.Decimal `db:"out_amount"`
	MinOutAmount    decimal.Decimal `db:"min_out_amount"`
	SlippageBps     int             `db:"slippage_bps"`
	Provider        string          `db:"provider"`
	Status          string          `db:"status"`
	TxHash          sql.NullString  `db:"tx_hash"`
	RouteData       []byte          `db:"route_data"`
	FeeLamports     decimal.NullDecimal `db:"fee_lamports"`
	GasEstimate     sql.NullInt64   `db:"gas_estimate"`
	ExecutionTimeMs sql.NullInt64   `db:"execution_time_ms"`
	ErrorCode       sql.NullString  `db:"error_code"`
	ErrorMessage    sql.NullString  `db:"error_message"`
	CreatedAt       sql.NullTime    `db:"created_at"`
	UpdatedAt       sql.NullTime    `db:"updated_at"`
	ExpiresAt       sql.NullTime    `db:"expires_at"`
}

func (s *PostgresSwapStore) CreateSwap(ctx context.Context, record core.SwapTransactionRecord) error {
	routeData, err := json.Marshal(record.RouteData)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseErrorCode, "marshal route data")
	}

	query := `
		INSERT INTO swap_transactions (
			id, user_id, input_mint, output_mint, in_amount, out_amount,
			min_out_amount, slippage_bps, provider, status, tx_hash,
			route_data, fee_lamports, gas_estimate, execution_time_ms,
			error_code, error_message, created_at, updated_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.UserID, record.InputMint, record.OutputMint,
		record.InAmount, record.OutAmount, record.MinOutAmount, record.SlippageBps,
		record.Provider, string(record.Status), record.TxHash, routeData,
		record.FeeLamports, record.GasEstimate, record.ExecutionTimeMs,
		record.ErrorCode, record.ErrorMessage, record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseErrorCode, fmt.Sprintf("insert swap transaction %s", record.ID))
	}
	return nil
}

func (s *PostgresSwapStore) GetSwap(ctx context.Context, id string) (core.SwapTransactionRecord, error) {
	const query = `
		SELECT id, user_id, input_mint, output_mint, in_amount, out_amount,
		       min_out_amount, slippage_bps, provider, status, tx_hash,
		       route_data, fee_lamports, gas_estimate, execution_time_ms,
		       error_code, error_message, created_at, updated_at, expires_at
		FROM swap_transactions WHERE id = $1
	`

	var row swapRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SwapTransactionRecord{}, apperrors.New(apperrors.RouteNotFoundCode, "swap transaction not found").WithContext("swapId", id)
		}
		return core.SwapTransactionRecord{}, apperrors.Wrap(err, apperrors.DatabaseErrorCode, "get swap transaction")
	}
	return rowToSwapRecord(row)
}

func rowToSwapRecord(row swapRow) (core.SwapTransactionRecord, error) {
	var routeData core.RouteDataBlob
	if len(row.RouteData) > 0 {
		if err := json.Unmarshal(row.RouteData, &routeData); err != nil {
			return core.SwapTransactionRecord{}, apperrors.Wrap(err, apperrors.DatabaseErrorCode, "unmarshal route data")
		}
	}

	record := core.SwapTransactionRecord{
		ID:           row.ID,
		UserID:       row.UserID,
		InputMint:    row.InputMint,
		OutputMint:   row.OutputMint,
		InAmount:     row.InAmount,
		OutAmount:    row.OutAmount,
		MinOutAmount: row.MinOutAmount,
		SlippageBps:  row.SlippageBps,
		Provider:     row.Provider,
		Status:       core.SwapStatus(row.Status),
		RouteData:    routeData,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
		ExpiresAt:    row.ExpiresAt.Time,
	}
	if row.TxHash.Valid {
		record.TxHash = &row.TxHash.String
	}
	if row.FeeLamports.Valid {
		record.FeeLamports = &row.FeeLamports.Decimal
	}
	if row.GasEstimate.Valid {
		record.GasEstimate = &row.GasEstimate.Int64
	}
	if row.ExecutionTimeMs.Valid {
		record.ExecutionTimeMs = &row.ExecutionTimeMs.Int64
	}
	if row.ErrorCode.Valid {
		record.ErrorCode = &row.ErrorCode.String
	}
	if row.ErrorMessage.Valid {
		record.ErrorMessage = &row.ErrorMessage.String
	}
	return record, nil
}

func (s *PostgresSwapStore) UpdateSwapStatus(ctx context.Context, id string, status core.SwapStatus, txHash, errorCode, errorMessage *string, executionTimeMs *int64) error {
	const query = `
		UPDATE swap_transactions
		SET status = $1, tx_hash = COALESCE($2, tx_hash),
		    error_code = COALESCE($3, error_code),
		    error_message = COALESCE($4, error_message),
		    execution_time_ms = COALESCE($5, execution_time_ms),
		    updated_at = now()
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query, string(status), txHash, errorCode, errorMessage, executionTimeMs, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseErrorCode, "update swap status")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.DatabaseErrorCode, "read rows affected")
	}
	if rows == 0 {
		return apperrors.New(apperrors.RouteNotFoundCode, "swap transaction not found").WithContext("swapId", id)
	}
	return nil
}
