package orders

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidInput    = errors.New("invalid input")

	// ledger
	ErrNonPositiveQuantity            = errors.New("quantity must be positive")
	ErrInsufficientAssignableQuantity = errors.New("insufficient assignable quantity")
	ErrFulfilledExceedsQuantity       = errors.New("fulfilled quantity exceeds purchased quantity")
	ErrReleaseExceedsReserved         = errors.New("release exceeds reserved quantity")

	// ownership
	ErrLineNotInOrder       = errors.New("order line does not belong to order")
	ErrLineNotInFulfillment = errors.New("line does not belong to fulfillment")
	ErrOrderMismatch        = errors.New("order line and fulfillment belong to different orders")
	ErrShippingNotRequired  = errors.New("order line does not require shipping")
	ErrFulfillmentCompleted = errors.New("fulfillment already completed")
	ErrCheckoutEmpty        = errors.New("checkout has no lines")
	ErrCheckoutExists       = errors.New("customer already has an open checkout")
	ErrPaymentFailed        = errors.New("payment failed")

	// order state machine
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrOrderNotCreated        = errors.New("order is not in CREATED status")
	ErrOrderNotProcessable    = errors.New("order status does not allow fulfillment")
	ErrUnfulfilledLinesRemain = errors.New("order has unfulfilled lines")
	ErrOrderNotFulfilled      = errors.New("order is not fulfilled")
	ErrAlreadyCancelled       = errors.New("order already cancelled")
	ErrOrderNotCancelled      = errors.New("order is not cancelled")
)
