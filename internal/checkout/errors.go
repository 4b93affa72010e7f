package checkout

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotFound   = errors.New("order not found")

	ErrInvalidInput        = errors.New("invalid order input")
	ErrInvalidVariant      = errors.New("variant not found for product")
	ErrInsufficientStock   = errors.New("not enough stock")
	ErrInsufficientBalance = errors.New("not enough loyalty points")

	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoPayableAmount   = errors.New("order has no payable amount")
)
