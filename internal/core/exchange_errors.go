package core

import "errors"

var (
	// ErrInsufficientBalance indicates the venue rejected the action due to insufficient funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotFound indicates the order does not exist on the venue.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotCancellable indicates the order is no longer in a cancellable state.
	ErrOrderNotCancellable = errors.New("order not cancellable")
	// ErrOrderRejected indicates the venue rejected the order.
	ErrOrderRejected = errors.New("order rejected")
	// ErrRateLimited indicates the venue throttled the request.
	ErrRateLimited = errors.New("rate limited")
)
