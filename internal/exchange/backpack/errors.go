package backpack

import (
	"errors"
	"net/http"
	"strings"

	"backpack-grid/internal/core"
)

// Venue error codes observed on order and balance endpoints.
const (
	apiCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	apiCodeInvalidOrder      = "INVALID_ORDER"
	apiCodeOrderNotFound     = "RESOURCE_NOT_FOUND"
	apiCodeOrderRejected     = "ORDER_REJECTED"
)

// classifyAPIError joins the venue error with the matching core sentinel so
// callers can branch with errors.Is while keeping the raw code and message.
func classifyAPIError(apiErr APIError) error {
	kinds := classifyKinds(apiErr)
	if len(kinds) == 0 {
		return apiErr
	}
	chain := make([]error, 0, 1+len(kinds))
	chain = append(chain, apiErr)
	chain = append(chain, kinds...)
	return errors.Join(chain...)
}

func classifyKinds(apiErr APIError) []error {
	var kinds []error
	if apiErr.Status == http.StatusTooManyRequests {
		kinds = append(kinds, core.ErrRateLimited)
	}
	switch apiErr.Code {
	case apiCodeInsufficientFunds:
		kinds = append(kinds, core.ErrInsufficientBalance)
	case apiCodeOrderNotFound:
		kinds = append(kinds, core.ErrOrderNotFound)
	case apiCodeInvalidOrder, apiCodeOrderRejected:
		kinds = append(kinds, core.ErrOrderRejected)
	}
	if len(kinds) == 0 {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case strings.Contains(msg, "insufficient"):
			kinds = append(kinds, core.ErrInsufficientBalance)
		case strings.Contains(msg, "not found"):
			kinds = append(kinds, core.ErrOrderNotFound)
		}
	}
	return kinds
}

func AsAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if err == nil || !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
