package adapters

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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

// SignedConfig configures a SignedAdapter against an OKX-style
// HMAC-authenticated aggregator API.
type SignedConfig struct {
	BaseURL        string
	APIKey         string
	SecretKey      string
	Passphrase     string
	Timeout        time.Duration
	RequestsPerSec float64
}

// SignedAdapter is an HMAC-SHA256-authenticated aggregator adapter,
// signing each request with OK-ACCESS-* headers.
type SignedAdapter struct {
	name       string
	baseURL    string
	apiKey     string
	secretKey  string
	passphrase string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewSignedAdapter builds a SignedAdapter registered under the given
// provider name.
func NewSignedAdapter(name string, cfg SignedConfig, log *logger.Logger) *SignedAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	return &SignedAdapter{
		name:       name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		passphrase: cfg.Passphrase,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)),
		logger:     log.Named(name),
	}
}

func (s *SignedAdapter) Name() string { return s.name }

// sign computes the base64 HMAC-SHA256 signature of the canonical
// pre-hash string timestamp+method+path+body, where path includes any
// query string and body is empty for GET requests. Pure function of its
// inputs so a known fixture's signature is reproducible byte-for-byte.
func sign(secretKey, timestamp, method, pathWithQuery, body string) string {
	message := timestamp + method + pathWithQuery + body
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (s *SignedAdapter) signedRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	pathWithQuery := path
	if query != nil && len(query) > 0 {
		pathWithQuery = path + "?" + query.Encode()
	}

	reqURL := s.baseURL + pathWithQuery
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	signature := sign(s.secretKey, timestamp, method, pathWithQuery, string(body))

	httpReq.Header.Set("OK-ACCESS-KEY", s.apiKey)
	httpReq.Header.Set("OK-ACCESS-SIGN", signature)
	httpReq.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	httpReq.Header.Set("OK-ACCESS-PASSPHRASE", s.passphrase)
	httpReq.Header.Set("Content-Type", "application/json")

	return httpReq, nil
}

type signedQuoteResponse struct {
	Code string `json:"code"`
	Data []struct {
		FromTokenAmount string `json:"fromTokenAmount"`
		ToTokenAmount   string `json:"toTokenAmount"`
		EstimateGasFee  string `json:"estimateGasFee"`
		DexRouterList   []struct {
			Router        string `json:"router"`
			RouterPercent string `json:"routerPercent"`
		} `json:"dexRouterList"`
		PriceImpactPercentage string `json:"priceImpactPercentage"`
	} `json:"data"`
}

func (s *SignedAdapter) Quote(ctx context.Context, req core.QuoteRequest) (core.NormalizedQuote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return core.NormalizedQuote{}, apperrors.TransactionTimeout(s.name)
	}

	query := url.Values{}
	query.Set("fromTokenAddress", req.InputMint)
	query.Set("toTokenAddress", req.OutputMint)
	query.Set("amount", req.Amount.String())
	query.Set("slippage", fmt.Sprintf("%d", req.SlippageBps))

	const path = "/api/v5/dex/aggregator/quote"
	start := time.Now()
	httpReq, err := s.signedRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return core.NormalizedQuote{}, apperrors.DEXInvalidResponse(s.name, err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return core.NormalizedQuote{}, translateHTTPError(s.name, 0, nil, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return core.NormalizedQuote{}, translateHTTPError(s.name, resp.StatusCode, respBody, nil)
	}

	var quoteResp signedQuoteResponse
	if err := json.Unmarshal(respBody, &quoteResp); err != nil || len(quoteResp.Data) == 0 {
		return core.NormalizedQuote{}, apperrors.DEXInvalidResponse(s.name, err)
	}

	d := quoteResp.Data[0]
	inAmount, _ := decimal.NewFromString(d.FromTokenAmount)
	outAmount, _ := decimal.NewFromString(d.ToTokenAmount)
	priceImpact, _ := decimal.NewFromString(d.PriceImpactPercentage)

	steps := make([]core.RouteStep, 0, len(d.DexRouterList))
	for _, r := range d.DexRouterList {
		steps = append(steps, core.RouteStep{
			AmmKey:     r.Router,
			Label:      r.Router,
			InputMint:  req.InputMint,
			OutputMint: req.OutputMint,
		})
	}

	var gasEstimate int64
	if d.EstimateGasFee != "" {
		if g, err := decimal.NewFromString(d.EstimateGasFee); err == nil {
			gasEstimate = g.IntPart()
		}
	}

	return core.NormalizedQuote{
		Provider:        s.name,
		InputMint:       req.InputMint,
		OutputMint:      req.OutputMint,
		InAmount:        inAmount,
		OutAmount:       outAmount,
		SwapMode:        core.SwapModeExactIn,
		SlippageBps:     req.SlippageBps,
		PriceImpactPct:  priceImpact,
		RoutePlan:       steps,
		GasEstimate:     gasEstimate,
		TimeTaken:       time.Since(start),
	}, nil
}

func (s *SignedAdapter) BuildTransaction(ctx context.Context, req core.BuildTransactionRequest) (core.BuildTransactionResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return core.BuildTransactionResult{}, apperrors.TransactionTimeout(s.name)
	}

	body, err := json.Marshal(map[string]interface{}{
		"fromTokenAddress": req.Quote.InputMint,
		"toTokenAddress":   req.Quote.OutputMint,
		"amount":           req.Quote.InAmount.String(),
		"slippage":         fmt.Sprintf("%d", req.Quote.SlippageBps),
		"userWalletAddress": req.UserPublicKey,
	})
	if err != nil {
		return core.BuildTransactionResult{}, apperrors.DEXInvalidResponse(s.name, err)
	}

	const path = "/api/v5/dex/aggregator/swap"
	httpReq, err := s.signedRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return core.BuildTransactionResult{}, apperrors.DEXInvalidResponse(s.name, err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return core.BuildTransactionResult{}, translateHTTPError(s.name, 0, nil, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return core.BuildTransactionResult{}, translateHTTPError(s.name, resp.StatusCode, respBody, nil)
	}

	var swapResp struct {
		Code string `json:"code"`
		Data []struct {
			Tx struct {
				Data string `json:"data"`
			} `json:"tx"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &swapResp); err != nil || len(swapResp.Data) == 0 {
		return core.BuildTransactionResult{}, apperrors.DEXInvalidResponse(s.name, err)
	}

	return core.BuildTransactionResult{TransactionBlob: swapResp.Data[0].Tx.Data}, nil
}

func (s *SignedAdapter) SimulateTransaction(ctx context.Context, transactionBlob, userPublicKey string) (core.SimulationResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return core.SimulationResult{}, apperrors.TransactionTimeout(s.name)
	}

	body, _ := json.Marshal(map[string]string{"transaction": transactionBlob, "userWalletAddress": userPublicKey})
	const path = "/api/v5/dex/aggregator/simulate"
	httpReq, err := s.signedRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return core.SimulationResult{}, apperrors.DEXInvalidResponse(s.name, err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return core.SimulationResult{}, translateHTTPError(s.name, 0, nil, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return core.SimulationResult{}, translateHTTPError(s.name, resp.StatusCode, respBody, nil)
	}

	var sim struct {
		Success          bool     `json:"success"`
		Error            string   `json:"error"`
		ComputeUnitsUsed int64    `json:"computeUnitsUsed"`
		Logs             []string `json:"logs"`
	}
	if err := json.Unmarshal(respBody, &sim); err != nil {
		return core.SimulationResult{}, apperrors.DEXInvalidResponse(s.name, err)
	}

	result := core.SimulationResult{Success: sim.Success, ComputeUnitsUsed: &sim.ComputeUnitsUsed, Logs: sim.Logs}
	if sim.Error != "" {
		result.Error = &sim.Error
	}
	return result, nil
}

func (s *SignedAdapter) IsHealthy(ctx context.Context) bool {
	const path = "/api/v5/dex/aggregator/supported/chain"
	httpReq, err := s.signedRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
