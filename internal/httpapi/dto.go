package httpapi

import (
	"time"

	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/shopspring/decimal"
)

// quoteQuery binds GET /api/v1/quote's query parameters.
type quoteQuery struct {
	InputMint       string `form:"inputMint" binding:"required"`
	OutputMint      string `form:"outputMint" binding:"required"`
	Amount          string `form:"amount" binding:"required"`
	SlippageBps     int    `form:"slippageBps"`
	UserPublicKey   string `form:"userPublicKey"`
	FavorLowLatency bool   `form:"favorLowLatency"`
	MaxRoutes       int    `form:"maxRoutes"`
}

type platformFeeDTO struct {
	Amount string `json:"amount"`
	FeeBps int    `json:"feeBps"`
}

type routeStepDTO struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

type normalizedQuoteDTO struct {
	Provider             string         `json:"provider"`
	InputMint            string         `json:"inputMint"`
	OutputMint           string         `json:"outputMint"`
	InAmount             string         `json:"inAmount"`
	OutAmount            string         `json:"outAmount"`
	OtherAmountThreshold string         `json:"otherAmountThreshold"`
	SwapMode             string         `json:"swapMode"`
	SlippageBps          int            `json:"slippageBps"`
	PlatformFee          *platformFeeDTO `json:"platformFee,omitempty"`
	PriceImpactPct       string         `json:"priceImpactPct"`
	RoutePlan            []routeStepDTO `json:"routePlan"`
	GasEstimate          int64          `json:"gasEstimate"`
}

type rankedQuoteDTO struct {
	Quote        normalizedQuoteDTO `json:"quote"`
	Provider     string             `json:"provider"`
	ResponseTime int64              `json:"responseTimeMs"`
	Score        core.RouteScore    `json:"score"`
	IsCached     bool               `json:"isCached"`
}

type feeBreakdownDTO struct {
	PlatformFee   string `json:"platformFee"`
	GasFee        string `json:"gasFee"`
	TotalFee      string `json:"totalFee"`
	FeePercentage string `json:"feePercentage"`
}

type routeResponseDTO struct {
	Best               rankedQuoteDTO   `json:"best"`
	Alternatives       []rankedQuoteDTO `json:"alternatives"`
	RequestID          string           `json:"requestId"`
	TotalResponseTime  int64            `json:"totalResponseTimeMs"`
	CacheHitRatio      float64          `json:"cacheHitRatio"`
	QuoteID            string           `json:"quoteId"`
	FeeBreakdown       feeBreakdownDTO  `json:"feeBreakdown"`
}

type quoteRecordDTO struct {
	ID             string         `json:"id"`
	Provider       string         `json:"provider"`
	InputMint      string         `json:"inputMint"`
	OutputMint     string         `json:"outputMint"`
	InAmount       string         `json:"inAmount"`
	OutAmount      string         `json:"outAmount"`
	SlippageBps    int            `json:"slippageBps"`
	PriceImpactPct string         `json:"priceImpactPct"`
	RoutePlan      []routeStepDTO `json:"routePlan"`
	PlatformFee    *platformFeeDTO `json:"platformFee,omitempty"`
	GasEstimate    int64          `json:"gasEstimate"`
	ResponseTimeMs int64          `json:"responseTimeMs"`
	IsCached       bool           `json:"isCached"`
	EfficiencyScore  *float64     `json:"efficiencyScore,omitempty"`
	ReliabilityScore *float64     `json:"reliabilityScore,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

type buildOptionsDTO struct {
	WrapAndUnwrapSol              *bool  `json:"wrapAndUnwrapSol,omitempty"`
	UseSharedAccounts              *bool  `json:"useSharedAccounts,omitempty"`
	FeeAccount                     string `json:"feeAccount,omitempty"`
	ComputeUnitPriceMicroLamports  *int64 `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction             *bool  `json:"asLegacyTransaction,omitempty"`
}

func (o buildOptionsDTO) toCore() core.BuildOptions {
	return core.BuildOptions{
		WrapAndUnwrapSol:             o.WrapAndUnwrapSol,
		UseSharedAccounts:            o.UseSharedAccounts,
		FeeAccount:                   o.FeeAccount,
		ComputeUnitPriceMicroLamports: o.ComputeUnitPriceMicroLamports,
		AsLegacyTransaction:          o.AsLegacyTransaction,
	}
}

type executeSwapRequest struct {
	QuoteID       string `json:"quoteId" binding:"required"`
	UserPublicKey string `json:"userPublicKey" binding:"required"`
	buildOptionsDTO
}

type simulateSwapRequest struct {
	QuoteID       string `json:"quoteId" binding:"required"`
	UserPublicKey string `json:"userPublicKey" binding:"required"`
}

type transactionDTO struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight *int64 `json:"lastValidBlockHeight,omitempty"`
	PrioritizationFeeLamports *int64 `json:"prioritizationFeeLamports,omitempty"`
}

type executeSwapResponse struct {
	TransactionID  string         `json:"transactionId"`
	Status         string         `json:"status"`
	Transaction    transactionDTO `json:"transaction"`
	ProcessingTime int64          `json:"processingTime"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

type simulationDTO struct {
	Success          bool     `json:"success"`
	Error            *string  `json:"error,omitempty"`
	ComputeUnitsConsumed *int64 `json:"computeUnitsConsumed,omitempty"`
	Logs             []string `json:"logs,omitempty"`
}

type simulateSwapResponse struct {
	TransactionID  string         `json:"transactionId"`
	Status         string         `json:"status"`
	Transaction    transactionDTO `json:"transaction"`
	ProcessingTime int64          `json:"processingTime"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	Simulation     simulationDTO  `json:"simulation"`
}

type swapRecordDTO struct {
	ID              string    `json:"id"`
	InputMint       string    `json:"inputMint"`
	OutputMint      string    `json:"outputMint"`
	InAmount        string    `json:"inAmount"`
	OutAmount       string    `json:"outAmount"`
	MinOutAmount    string    `json:"minOutAmount"`
	SlippageBps     int       `json:"slippageBps"`
	Provider        string    `json:"provider"`
	Status          string    `json:"status"`
	TxHash          *string   `json:"txHash,omitempty"`
	ErrorCode       *string   `json:"errorCode,omitempty"`
	ErrorMessage    *string   `json:"errorMessage,omitempty"`
	ExecutionTimeMs *int64    `json:"executionTimeMs,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type cancelSwapRequest struct {
	Reason string `json:"reason"`
}

func routeStepsToDTO(steps []core.RouteStep) []routeStepDTO {
	out := make([]routeStepDTO, 0, len(steps))
	for _, s := range steps {
		out = append(out, routeStepDTO{
			AmmKey:     s.AmmKey,
			Label:      s.Label,
			InputMint:  s.InputMint,
			OutputMint: s.OutputMint,
			InAmount:   s.InAmount.String(),
			OutAmount:  s.OutAmount.String(),
			FeeAmount:  s.FeeAmount.String(),
			FeeMint:    s.FeeMint,
		})
	}
	return out
}

func platformFeeToDTO(fee *core.PlatformFee) *platformFeeDTO {
	if fee == nil {
		return nil
	}
	return &platformFeeDTO{Amount: fee.Amount.String(), FeeBps: fee.FeeBps}
}

func normalizedQuoteToDTO(q core.NormalizedQuote) normalizedQuoteDTO {
	return normalizedQuoteDTO{
		Provider:             q.Provider,
		InputMint:            q.InputMint,
		OutputMint:           q.OutputMint,
		InAmount:             q.InAmount.String(),
		OutAmount:            q.OutAmount.String(),
		OtherAmountThreshold: q.OtherAmountThreshold.String(),
		SwapMode:             string(q.SwapMode),
		SlippageBps:          q.SlippageBps,
		PlatformFee:          platformFeeToDTO(q.PlatformFee),
		PriceImpactPct:       q.PriceImpactPct.String(),
		RoutePlan:            routeStepsToDTO(q.RoutePlan),
		GasEstimate:          q.GasEstimate,
	}
}

func rankedQuoteToDTO(r core.RankedQuote) rankedQuoteDTO {
	return rankedQuoteDTO{
		Quote:        normalizedQuoteToDTO(r.Quote),
		Provider:     r.Provider,
		ResponseTime: r.ResponseTime.Milliseconds(),
		Score:        r.Score,
		IsCached:     r.IsCached,
	}
}

// feeBreakdown summarizes the winning quote's platform fee and gas
// estimate. Gas is reported in the same unit the adapter returned
// (compute units), not converted to lamports, since no adapter in this
// router quotes gas price.
func feeBreakdown(best core.RankedQuote) feeBreakdownDTO {
	platformFee := decimal.Zero
	if best.Quote.PlatformFee != nil {
		platformFee = best.Quote.PlatformFee.Amount
	}
	gasFee := decimal.NewFromInt(best.Quote.GasEstimate)
	total := platformFee.Add(gasFee)

	var pct decimal.Decimal
	if !best.Quote.InAmount.IsZero() {
		pct = total.Div(best.Quote.InAmount).Mul(decimal.NewFromInt(100))
	}

	return feeBreakdownDTO{
		PlatformFee:   platformFee.String(),
		GasFee:        gasFee.String(),
		TotalFee:      total.String(),
		FeePercentage: pct.String(),
	}
}

func routeResponseToDTO(r core.RouteResponse) routeResponseDTO {
	alternatives := make([]rankedQuoteDTO, 0, len(r.Alternatives))
	for _, alt := range r.Alternatives {
		alternatives = append(alternatives, rankedQuoteToDTO(alt))
	}
	return routeResponseDTO{
		Best:              rankedQuoteToDTO(r.Best),
		Alternatives:      alternatives,
		RequestID:         r.RequestID,
		TotalResponseTime: r.TotalResponseTime.Milliseconds(),
		CacheHitRatio:     r.CacheHitRatio,
		QuoteID:           r.QuoteID,
		FeeBreakdown:      feeBreakdown(r.Best),
	}
}

func quoteRecordToDTO(r core.QuoteRecord) quoteRecordDTO {
	return quoteRecordDTO{
		ID:             r.ID,
		Provider:       r.Provider,
		InputMint:      r.InputMint,
		OutputMint:     r.OutputMint,
		InAmount:       r.InAmount.String(),
		OutAmount:      r.OutAmount.String(),
		SlippageBps:    r.SlippageBps,
		PriceImpactPct: r.PriceImpactPct.String(),
		RoutePlan:      routeStepsToDTO(r.RoutePlan),
		PlatformFee:    platformFeeToDTO(r.PlatformFee),
		GasEstimate:    r.GasEstimate,
		ResponseTimeMs: r.ResponseTimeMs,
		IsCached:       r.IsCached,
		EfficiencyScore:  r.EfficiencyScore,
		ReliabilityScore: r.ReliabilityScore,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

func swapRecordToDTO(r core.SwapTransactionRecord) swapRecordDTO {
	return swapRecordDTO{
		ID:              r.ID,
		InputMint:       r.InputMint,
		OutputMint:      r.OutputMint,
		InAmount:        r.InAmount.String(),
		OutAmount:       r.OutAmount.String(),
		MinOutAmount:    r.MinOutAmount.String(),
		SlippageBps:     r.SlippageBps,
		Provider:        r.Provider,
		Status:          string(r.Status),
		TxHash:          r.TxHash,
		ErrorCode:       r.ErrorCode,
		ErrorMessage:    r.ErrorMessage,
		ExecutionTimeMs: r.ExecutionTimeMs,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func executeSwapResponseFromRecord(r core.SwapTransactionRecord) executeSwapResponse {
	return executeSwapResponse{
		TransactionID: r.ID,
		Status:        string(r.Status),
		Transaction: transactionDTO{
			SwapTransaction:           r.RouteData.TransactionBlob,
			LastValidBlockHeight:      r.RouteData.LastValidBlockHeight,
			PrioritizationFeeLamports: r.RouteData.PriorityFeeLamports,
		},
		ProcessingTime: time.Since(r.CreatedAt).Milliseconds(),
		ExpiresAt:      r.ExpiresAt,
	}
}

func simulateSwapResponseFromRecord(r core.SwapTransactionRecord, sim core.SimulationResult) simulateSwapResponse {
	return simulateSwapResponse{
		TransactionID: r.ID,
		Status:        string(r.Status),
		Transaction: transactionDTO{
			SwapTransaction:           r.RouteData.TransactionBlob,
			LastValidBlockHeight:      r.RouteData.LastValidBlockHeight,
			PrioritizationFeeLamports: r.RouteData.PriorityFeeLamports,
		},
		ProcessingTime: time.Since(r.CreatedAt).Milliseconds(),
		ExpiresAt:      r.ExpiresAt,
		Simulation: simulationDTO{
			Success:              sim.Success,
			Error:                sim.Error,
			ComputeUnitsConsumed: sim.ComputeUnitsUsed,
			Logs:                 sim.Logs,
		},
	}
}
