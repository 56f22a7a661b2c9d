// Package apperrors implements the router's structured error taxonomy: a
// typed error code, an HTTP status mapping, a context map for diagnostics,
// and the correlation id carried back to the caller.
package apperrors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Code is one of the router's typed error codes.
type Code string

const (
	// Route
	RouteNotFoundCode         Code = "ROUTE_NOT_FOUND"
	RouteExpiredCode          Code = "ROUTE_EXPIRED"
	RouteCalculationFailedCode Code = "ROUTE_CALCULATION_FAILED"

	// Input
	InvalidInputCode     Code = "INVALID_INPUT"
	InvalidAmountCode    Code = "INVALID_AMOUNT"
	AmountTooSmallCode   Code = "AMOUNT_TOO_SMALL"
	AmountTooLargeCode   Code = "AMOUNT_TOO_LARGE"
	SlippageTooHighCode  Code = "SLIPPAGE_TOO_HIGH"
	TokenNotFoundCode    Code = "TOKEN_NOT_FOUND"

	// Upstream
	DEXUnavailableCode     Code = "DEX_UNAVAILABLE"
	DEXRateLimitedCode     Code = "DEX_RATE_LIMITED"
	DEXInvalidResponseCode Code = "DEX_INVALID_RESPONSE"
	TransactionTimeoutCode Code = "TRANSACTION_TIMEOUT"
	CircuitBreakerOpenCode Code = "CIRCUIT_BREAKER_OPEN"

	// Execution
	TransactionFailedCode     Code = "TRANSACTION_FAILED"
	SlippageExceededCode      Code = "SLIPPAGE_EXCEEDED"
	InsufficientLiquidityCode Code = "INSUFFICIENT_LIQUIDITY"
	InsufficientBalanceCode   Code = "INSUFFICIENT_BALANCE"

	// Infrastructure
	CacheErrorCode           Code = "CACHE_ERROR"
	DatabaseErrorCode        Code = "DATABASE_ERROR"
	ExternalServiceErrorCode Code = "EXTERNAL_SERVICE_ERROR"
)

// statusByCode maps each code to the HTTP status the transport layer
// should return for it.
var statusByCode = map[Code]int{
	RouteNotFoundCode:          http.StatusNotFound,
	RouteExpiredCode:           http.StatusGone,
	RouteCalculationFailedCode: http.StatusBadGateway,

	InvalidInputCode:    http.StatusBadRequest,
	InvalidAmountCode:   http.StatusBadRequest,
	AmountTooSmallCode:  http.StatusBadRequest,
	AmountTooLargeCode:  http.StatusBadRequest,
	SlippageTooHighCode: http.StatusBadRequest,
	TokenNotFoundCode:   http.StatusNotFound,

	DEXUnavailableCode:     http.StatusBadGateway,
	DEXRateLimitedCode:     http.StatusTooManyRequests,
	DEXInvalidResponseCode: http.StatusBadGateway,
	TransactionTimeoutCode: http.StatusGatewayTimeout,
	CircuitBreakerOpenCode: http.StatusServiceUnavailable,

	TransactionFailedCode:     http.StatusUnprocessableEntity,
	SlippageExceededCode:      http.StatusUnprocessableEntity,
	InsufficientLiquidityCode: http.StatusUnprocessableEntity,
	InsufficientBalanceCode:   http.StatusUnprocessableEntity,

	CacheErrorCode:           http.StatusInternalServerError,
	DatabaseErrorCode:        http.StatusInternalServerError,
	ExternalServiceErrorCode: http.StatusBadGateway,
}

// AppError is the router's single error type. It wraps an underlying cause
// (if any), carries a typed Code, a caller-safe Message, diagnostic
// Context, and the correlation RequestID.
type AppError struct {
	Err       error
	Code      Code
	Message   string
	Context   map[string]interface{}
	Timestamp time.Time
	RequestID string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status this error maps to.
func (e *AppError) StatusCode() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithContext merges key/value pairs into the error's diagnostic context.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID attaches the correlation id for this error.
func (e *AppError) WithRequestID(id string) *AppError {
	e.RequestID = id
	return e
}

// New constructs an AppError with no underlying cause.
func New(code Code, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap attaches a typed code and caller-safe message to an underlying
// error, preserving context if err is already an *AppError.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return New(code, message)
	}
	if ae, ok := err.(*AppError); ok {
		wrapped := &AppError{
			Err:       ae,
			Code:      code,
			Message:   message,
			Context:   ae.Context,
			Timestamp: time.Now(),
			RequestID: ae.RequestID,
		}
		return wrapped
	}
	return &AppError{
		Err:       err,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// ToJSON renders the caller-visible envelope: errorCode, message,
// timestamp, details and requestId. It never echoes raw upstream payloads.
func (e *AppError) ToJSON() ([]byte, error) {
	return json.Marshal(struct {
		ErrorCode string                 `json:"errorCode"`
		Message   string                 `json:"message"`
		Timestamp time.Time              `json:"timestamp"`
		Details   map[string]interface{} `json:"details,omitempty"`
		RequestID string                 `json:"requestId,omitempty"`
	}{
		ErrorCode: string(e.Code),
		Message:   e.Message,
		Timestamp: e.Timestamp,
		Details:   e.Context,
		RequestID: e.RequestID,
	})
}

// IsRetryable reports whether retrying the operation that produced err
// might succeed.
func IsRetryable(err error) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	switch ae.Code {
	case DEXUnavailableCode, DEXRateLimitedCode, TransactionTimeoutCode, ExternalServiceErrorCode:
		return true
	default:
		return false
	}
}

// IsTimeout reports whether err represents a timed-out operation.
func IsTimeout(err error) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	return ae.Code == TransactionTimeoutCode
}

// Typed constructors for the router's own error codes.

func RouteNotFound(quoteID string) *AppError {
	return New(RouteNotFoundCode, "route not found").WithContext("quoteId", quoteID)
}

func RouteExpired(quoteID string, expiresAt time.Time) *AppError {
	return New(RouteExpiredCode, "route expired").
		WithContext("quoteId", quoteID).
		WithContext("expiresAt", expiresAt)
}

func RouteCalculationFailed(reason string) *AppError {
	return New(RouteCalculationFailedCode, "route calculation failed").WithContext("reason", reason)
}

func InvalidInput(message string) *AppError {
	return New(InvalidInputCode, message)
}

func CircuitBreakerOpen(service, operation string) *AppError {
	return New(CircuitBreakerOpenCode, "circuit breaker open").
		WithContext("service", service).
		WithContext("operation", operation)
}

func DEXRateLimited(provider string) *AppError {
	return New(DEXRateLimitedCode, "upstream rate limited").WithContext("provider", provider)
}

func DEXUnavailable(provider string, err error) *AppError {
	return Wrap(err, DEXUnavailableCode, "upstream unavailable").WithContext("provider", provider)
}

func DEXInvalidResponse(provider string, err error) *AppError {
	return Wrap(err, DEXInvalidResponseCode, "upstream returned an invalid response").WithContext("provider", provider)
}

func TransactionTimeout(provider string) *AppError {
	return New(TransactionTimeoutCode, "upstream call timed out").WithContext("provider", provider)
}

func ExternalServiceError(key string, timeout time.Duration) *AppError {
	return New(ExternalServiceErrorCode, "external service call timed out").
		WithContext("key", key).
		WithContext("timeout", timeout.String())
}

func DatabaseError(err error) *AppError {
	return Wrap(err, DatabaseErrorCode, "database operation failed")
}
