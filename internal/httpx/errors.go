package httpx

import (
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{orders.ErrNotFound, http.StatusNotFound, "not_found"},
	{orders.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{orders.ErrPaymentFailed, http.StatusPaymentRequired, "payment_failed"},
	{orders.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{orders.ErrCheckoutExists, http.StatusConflict, "checkout_exists"},
	{orders.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{orders.ErrOrderNotCreated, http.StatusConflict, "order_not_created"},
	{orders.ErrOrderNotProcessable, http.StatusConflict, "order_not_processable"},
	{orders.ErrUnfulfilledLinesRemain, http.StatusConflict, "unfulfilled_lines_remain"},
	{orders.ErrOrderNotFulfilled, http.StatusConflict, "order_not_fulfilled"},
	{orders.ErrAlreadyCancelled, http.StatusConflict, "already_cancelled"},
	{orders.ErrOrderNotCancelled, http.StatusConflict, "order_not_cancelled"},
	{orders.ErrFulfillmentCompleted, http.StatusConflict, "fulfillment_completed"},
	{orders.ErrNonPositiveQuantity, http.StatusUnprocessableEntity, "non_positive_quantity"},
	{orders.ErrInsufficientAssignableQuantity, http.StatusUnprocessableEntity, "insufficient_assignable_quantity"},
	{orders.ErrFulfilledExceedsQuantity, http.StatusUnprocessableEntity, "fulfilled_exceeds_quantity"},
	{orders.ErrReleaseExceedsReserved, http.StatusUnprocessableEntity, "release_exceeds_reserved"},
	{orders.ErrLineNotInOrder, http.StatusUnprocessableEntity, "line_not_in_order"},
	{orders.ErrLineNotInFulfillment, http.StatusUnprocessableEntity, "line_not_in_fulfillment"},
	{orders.ErrOrderMismatch, http.StatusUnprocessableEntity, "order_mismatch"},
	{orders.ErrShippingNotRequired, http.StatusUnprocessableEntity, "shipping_not_required"},
	{orders.ErrCheckoutEmpty, http.StatusUnprocessableEntity, "checkout_empty"},
}

func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResp{Error: msg, Code: code})
}
