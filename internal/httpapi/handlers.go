// Package httpapi exposes the router's quote and swap operations over
// gin: bind, validate, call the service layer, render either the
// success DTO or the standard error envelope.
package httpapi

import (
	"net/http"

	"github.com/DimaJoyti/dex-router/internal/core"
	"github.com/DimaJoyti/dex-router/internal/routing"
	"github.com/DimaJoyti/dex-router/internal/store"
	"github.com/DimaJoyti/dex-router/internal/swap"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Handler exposes the router's quote and swap operations over HTTP.
type Handler struct {
	engine    *routing.Engine
	executor  *swap.Executor
	quotes    store.QuoteStore
	logger    *logger.Logger
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(engine *routing.Engine, executor *swap.Executor, quotes store.QuoteStore, log *logger.Logger) *Handler {
	return &Handler{
		engine:    engine,
		executor:  executor,
		quotes:    quotes,
		logger:    log.Named("httpapi"),
		validator: validator.New(),
	}
}

// RegisterRoutes wires the six REST endpoints onto router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/quote", h.getQuote)
	router.GET("/quote/:id", h.getQuoteByID)
	router.POST("/swap/execute", h.executeSwap)
	router.POST("/swap/simulate", h.simulateSwap)
	router.GET("/swap/:transactionId", h.getSwapStatus)
	router.POST("/swap/:transactionId/cancel", h.cancelSwap)
}

func (h *Handler) getQuote(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(apperrors.InvalidInput(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(q.Amount)
	if err != nil || amount.Sign() <= 0 {
		c.Error(apperrors.New(apperrors.InvalidAmountCode, "amount must be a positive integer string"))
		return
	}

	slippage := q.SlippageBps
	if slippage == 0 {
		slippage = core.DefaultSlippageBps
	}
	if slippage < 1 || slippage > 10000 {
		c.Error(apperrors.New(apperrors.SlippageTooHighCode, "slippageBps must be in [1, 10000]"))
		return
	}

	maxAlternatives := q.MaxRoutes
	if maxAlternatives == 0 {
		maxAlternatives = core.DefaultMaxAlternatives
	}
	if maxAlternatives < 0 || maxAlternatives > 10 {
		c.Error(apperrors.InvalidInput("maxRoutes must be in [0, 10]"))
		return
	}

	req := core.QuoteRequest{
		InputMint:       q.InputMint,
		OutputMint:      q.OutputMint,
		Amount:          amount,
		SlippageBps:     slippage,
		UserPublicKey:   q.UserPublicKey,
		FavorLowLatency: q.FavorLowLatency,
		MaxAlternatives: maxAlternatives,
	}

	resp, err := h.engine.GetQuote(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, routeResponseToDTO(resp))
}

func (h *Handler) getQuoteByID(c *gin.Context) {
	id := c.Param("id")
	record, err := h.quotes.GetQuote(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, quoteRecordToDTO(record))
}

func (h *Handler) executeSwap(c *gin.Context) {
	var req executeSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidInput(err.Error()))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		c.Error(apperrors.InvalidInput(err.Error()))
		return
	}

	record, err := h.executor.ExecuteSwap(c.Request.Context(), req.QuoteID, req.UserPublicKey, req.buildOptionsDTO.toCore())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, executeSwapResponseFromRecord(record))
}

func (h *Handler) simulateSwap(c *gin.Context) {
	var req simulateSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidInput(err.Error()))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		c.Error(apperrors.InvalidInput(err.Error()))
		return
	}

	record, sim, err := h.executor.SimulateSwap(c.Request.Context(), req.QuoteID, req.UserPublicKey, core.BuildOptions{})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, simulateSwapResponseFromRecord(record, sim))
}

func (h *Handler) getSwapStatus(c *gin.Context) {
	id := c.Param("transactionId")
	record, err := h.executor.GetSwapStatus(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, swapRecordToDTO(record))
}

func (h *Handler) cancelSwap(c *gin.Context) {
	id := c.Param("transactionId")

	var req cancelSwapRequest
	_ = c.ShouldBindJSON(&req)

	record, err := h.executor.GetSwapStatus(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if record.Status != core.SwapStatusPending {
		c.Error(apperrors.InvalidInput("swap transaction is not pending and cannot be canceled"))
		return
	}

	errorCode := "CANCELED_BY_USER"
	errorMessage := req.Reason
	if errorMessage == "" {
		errorMessage = "canceled by caller"
	}
	if err := h.executor.UpdateSwapStatus(c.Request.Context(), id, core.SwapStatusFailed, nil, &errorCode, &errorMessage); err != nil {
		c.Error(err)
		return
	}

	updated, err := h.executor.GetSwapStatus(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, swapRecordToDTO(updated))
}
