package adapters

import (
	"context"
	"errors"
	"net/http"

	"github.com/DimaJoyti/dex-router/pkg/apperrors"
)

// translateHTTPError maps a transport/HTTP outcome onto the router's
// error taxonomy: 429 -> DEX_RATE_LIMITED, timeout -> TRANSACTION_TIMEOUT,
// 4xx (non-429) -> DEX_INVALID_RESPONSE (not retryable), 5xx ->
// DEX_UNAVAILABLE.
func translateHTTPError(provider string, statusCode int, body []byte, err error) *apperrors.AppError {
	if err != nil {
		if isTimeoutErr(err) {
			return apperrors.TransactionTimeout(provider)
		}
		return apperrors.DEXUnavailable(provider, err)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return apperrors.DEXRateLimited(provider)
	case statusCode >= 500:
		return apperrors.DEXUnavailable(provider, errors.New(string(body)))
	case statusCode >= 400:
		return apperrors.DEXInvalidResponse(provider, errors.New(string(body)))
	default:
		return nil
	}
}

// timeoutError is satisfied by net errors that expose Timeout().
type timeoutError interface {
	Timeout() bool
}

func isTimeoutErr(err error) bool {
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
