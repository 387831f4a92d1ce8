package apperrors

import "errors"

// Standardized broker errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidTicker         = errors.New("invalid ticker")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrMarketClosed          = errors.New("market closed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrUnsupportedAccount    = errors.New("account type does not support this operation")
)
