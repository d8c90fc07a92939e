package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// ErrDeclined is returned by StaticGateway when Decline is set.
var ErrDeclined = errors.New("payments: declined")

// StaticGateway approves every capture for the full amount. It backs the
// in-memory store mode and tests.
type StaticGateway struct {
	Decline bool
}

func (g StaticGateway) Capture(_ context.Context, c orders.Checkout, amountCents int64) (orders.Payment, error) {
	if g.Decline {
		return orders.Payment{}, fmt.Errorf("%w: checkout %s", ErrDeclined, c.ID)
	}
	return orders.Payment{ID: "static_" + ulid.Make().String(), CapturedCents: amountCents}, nil
}
