package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// jupiterRoute is the provider's own route/route-plan wire shape.
type jupiterRoute struct {
	InputMint            string               `json:"inputMint"`
	InAmount             string               `json:"inAmount"`
	OutputMint           string               `json:"outputMint"`
	OutAmount            string               `json:"outAmount"`
	OtherAmountThreshold string               `json:"otherAmountThreshold"`
	SwapMode             string               `json:"swapMode"`
	SlippageBps          int                  `json:"slippageBps"`
	PlatformFee          *jupiterPlatformFee  `json:"platformFee,omitempty"`
	PriceImpactPct       string               `json:"priceImpactPct"`
	RoutePlan            []jupiterRoutePlan   `json:"routePlan"`
	ContextSlot          int64                `json:"contextSlot"`
}

type jupiterPlatformFee struct {
	Amount  string `json:"amount"`
	FeeBps  int    `json:"feeBps"`
	FeeMint string `json:"feeMint"`
}

type jupiterRoutePlan struct {
	SwapInfo jupiterSwapInfo `json:"swapInfo"`
	Percent  int             `json:"percent"`
}

type jupiterSwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

type jupiterQuoteResponse struct {
	Data        []jupiterRoute `json:"data"`
	TimeTaken   float64        `json:"timeTaken"`
	ContextSlot int64          `json:"contextSlot"`
}

type jupiterSwapRequest struct {
	Route                         jupiterRoute `json:"route"`
	UserPublicKey                 string       `json:"userPublicKey"`
	WrapUnwrapSOL                 bool         `json:"wrapUnwrapSOL"`
	UseSharedAccounts             bool         `json:"useSharedAccounts"`
	FeeAccount                    string       `json:"feeAccount,omitempty"`
	ComputeUnitPriceMicroLamports int64        `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction           bool         `json:"asLegacyTransaction"`
}

type jupiterSwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight int64  `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports int64 `json:"prioritizationFeeLamports"`
}

// JupiterAdapter is an unauthenticated aggregator adapter.
type JupiterAdapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// JupiterConfig configures a JupiterAdapter.
type JupiterConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
}

// NewJupiterAdapter builds a JupiterAdapter.
func NewJupiterAdapter(cfg JupiterConfig, log *logger.Logger) *JupiterAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	return &JupiterAdapter{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)),
		logger:     log.Named("jupiter"),
	}
}

func (j *JupiterAdapter) Name() string { return "jupiter" }

func (j *JupiterAdapter) Quote(ctx context.Context, req core.QuoteRequest) (core.NormalizedQuote, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return core.NormalizedQuote{}, apperrors.TransactionTimeout(j.Name())
	}

	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", req.Amount.String())
	params.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))

	reqURL := fmt.Sprintf("%s/quote?%s", j.baseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return core.NormalizedQuote{}, apperrors.DEXInvalidResponse(j.Name(), err)
	}

	start := time.Now()
	resp, err := j.httpClient.Do(httpReq)
	if err != nil {
		return core.NormalizedQuote{}, translateHTTPError(j.Name(), 0, nil, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return core.NormalizedQuote{}, translateHTTPError(j.Name(), resp.StatusCode, body, nil)
	}

	var quoteResp jupiterQuoteResponse
	if err := json.Unmarshal(body, &quoteResp); err != nil || len(quoteResp.Data) == 0 {
		return core.NormalizedQuote{}, apperrors.DEXInvalidResponse(j.Name(), err)
	}

	route := quoteResp.Data[0]
	return jupiterRouteToNormalized(j.Name(), route, time.Since(start)), nil
}

func jupiterRouteToNormalized(provider string, route jupiterRoute, observed time.Duration) core.NormalizedQuote {
	inAmount, _ := decimal.NewFromString(route.InAmount)
	outAmount, _ := decimal.NewFromString(route.OutAmount)
	threshold, _ := decimal.NewFromString(route.OtherAmountThreshold)
	priceImpact, _ := decimal.NewFromString(route.PriceImpactPct)

	var fee *core.PlatformFee
	if route.PlatformFee != nil {
		amount, _ := decimal.NewFromString(route.PlatformFee.Amount)
		fee = &core.PlatformFee{Amount: amount, FeeBps: route.PlatformFee.FeeBps}
	}

	steps := make([]core.RouteStep, 0, len(route.RoutePlan))
	for _, p := range route.RoutePlan {
		in, _ := decimal.NewFromString(p.SwapInfo.InAmount)
		out, _ := decimal.NewFromString(p.SwapInfo.OutAmount)
		feeAmt, _ := decimal.NewFromString(p.SwapInfo.FeeAmount)
		steps = append(steps, core.RouteStep{
			AmmKey:     p.SwapInfo.AmmKey,
			Label:      p.SwapInfo.Label,
			InputMint:  p.SwapInfo.InputMint,
			OutputMint: p.SwapInfo.OutputMint,
			InAmount:   in,
			OutAmount:  out,
			FeeAmount:  feeAmt,
			FeeMint:    p.SwapInfo.FeeMint,
		})
	}

	mode := core.SwapModeExactIn
	if route.SwapMode == string(core.SwapModeExactOut) {
		mode = core.SwapModeExactOut
	}

	return core.NormalizedQuote{
		Provider:             provider,
		InputMint:            route.InputMint,
		OutputMint:           route.OutputMint,
		InAmount:             inAmount,
		OutAmount:            outAmount,
		OtherAmountThreshold: threshold,
		SwapMode:             mode,
		SlippageBps:          route.SlippageBps,
		PlatformFee:          fee,
		PriceImpactPct:       priceImpact,
		RoutePlan:            steps,
		TimeTaken:            observed,
		ContextSlot:          route.ContextSlot,
	}
}

func (j *JupiterAdapter) BuildTransaction(ctx context.Context, req core.BuildTransactionRequest) (core.BuildTransactionResult, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return core.BuildTransactionResult{}, apperrors.TransactionTimeout(j.Name())
	}

	route := normalizedToJupiterRoute(req.Quote)

	swapReq := jupiterSwapRequest{
		Route:               route,
		UserPublicKey:        req.UserPublicKey,
		WrapUnwrapSOL:        optBool(req.Options.WrapAndUnwrapSol, true),
		UseSharedAccounts:    optBool(req.Options.UseSharedAccounts, true),
		FeeAccount:           req.Options.FeeAccount,
		AsLegacyTransaction:  optBool(req.Options.AsLegacyTransaction, false),
	}
	if req.Options.ComputeUnitPriceMicroLamports != nil {
		swapReq.ComputeUnitPriceMicroLamports = *req.Options.ComputeUnitPriceMicroLamports
	}

	payload, err := json.Marshal(swapReq)
	if err != nil {
		return core.BuildTransactionResult{}, apperrors.DEXInvalidResponse(j.Name(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return core.BuildTransactionResult{}, apperrors.DEXInvalidResponse(j.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(httpReq)
	if err != nil {
		return core.BuildTransactionResult{}, translateHTTPError(j.Name(), 0, nil, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return core.BuildTransactionResult{}, translateHTTPError(j.Name(), resp.StatusCode, body, nil)
	}

	var swapResp jupiterSwapResponse
	if err := json.Unmarshal(body, &swapResp); err != nil || swapResp.SwapTransaction == "" {
		return core.BuildTransactionResult{}, apperrors.DEXInvalidResponse(j.Name(), err)
	}

	lastValid := swapResp.LastValidBlockHeight
	fee := swapResp.PrioritizationFeeLamports
	return core.BuildTransactionResult{
		TransactionBlob:      swapResp.SwapTransaction,
		LastValidBlockHeight: &lastValid,
		PriorityFeeLamports:  &fee,
	}, nil
}

func normalizedToJupiterRoute(q core.NormalizedQuote) jupiterRoute {
	var fee *jupiterPlatformFee
	if q.PlatformFee != nil {
		fee = &jupiterPlatformFee{Amount: q.PlatformFee.Amount.String(), FeeBps: q.PlatformFee.FeeBps}
	}
	plan := make([]jupiterRoutePlan, 0, len(q.RoutePlan))
	for _, s := range q.RoutePlan {
		plan = append(plan, jupiterRoutePlan{SwapInfo: jupiterSwapInfo{
			AmmKey: s.AmmKey, Label: s.Label, InputMint: s.InputMint, OutputMint: s.OutputMint,
			InAmount: s.InAmount.String(), OutAmount: s.OutAmount.String(),
			FeeAmount: s.FeeAmount.String(), FeeMint: s.FeeMint,
		}})
	}
	return jupiterRoute{
		InputMint: q.InputMint, OutputMint: q.OutputMint,
		InAmount: q.InAmount.String(), OutAmount: q.OutAmount.String(),
		OtherAmountThreshold: q.OtherAmountThreshold.String(),
		SwapMode:             string(q.SwapMode),
		SlippageBps:          q.SlippageBps,
		PlatformFee:          fee,
		PriceImpactPct:       q.PriceImpactPct.String(),
		RoutePlan:            plan,
		ContextSlot:          q.ContextSlot,
	}
}

func optBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (j *JupiterAdapter) SimulateTransaction(ctx context.Context, transactionBlob, userPublicKey string) (core.SimulationResult, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return core.SimulationResult{}, apperrors.TransactionTimeout(j.Name())
	}

	payload, _ := json.Marshal(map[string]string{"transaction": transactionBlob, "userPublicKey": userPublicKey})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/simulate", bytes.NewReader(payload))
	if err != nil {
		return core.SimulationResult{}, apperrors.DEXInvalidResponse(j.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(httpReq)
	if err != nil {
		return core.SimulationResult{}, translateHTTPError(j.Name(), 0, nil, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return core.SimulationResult{}, translateHTTPError(j.Name(), resp.StatusCode, body, nil)
	}

	var sim struct {
		Success          bool     `json:"success"`
		Error            string   `json:"error"`
		ComputeUnitsUsed int64    `json:"computeUnitsUsed"`
		Logs             []string `json:"logs"`
	}
	if err := json.Unmarshal(body, &sim); err != nil {
		return core.SimulationResult{}, apperrors.DEXInvalidResponse(j.Name(), err)
	}

	result := core.SimulationResult{Success: sim.Success, ComputeUnitsUsed: &sim.ComputeUnitsUsed, Logs: sim.Logs}
	if sim.Error != "" {
		result.Error = &sim.Error
	}
	return result, nil
}

func (j *JupiterAdapter) IsHealthy(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, j.baseURL+"/quote?inputMint=So11111111111111111111111111111111111111112&outputMint=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v&amount=1000000", nil)
	if err != nil {
		return false
	}
	resp, err := j.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
