package orders

import (
	"fmt"
	"time"
)

func NewFulfillment(id, orderID string, seq int, now time.Time) Fulfillment {
	return Fulfillment{
		ID:        id,
		OrderID:   orderID,
		Sequence:  seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (f Fulfillment) checkOpen() error {
	if f.Completed {
		return fmt.Errorf("%w: fulfillment %s", ErrFulfillmentCompleted, f.ID)
	}
	return nil
}

// AddLine reserves qty on line and returns the allocation record holding it.
func AddLine(f Fulfillment, line *OrderLine, id string, qty int) (FulfillmentLine, error) {
	if err := f.checkOpen(); err != nil {
		return FulfillmentLine{}, err
	}
	if line.OrderID != f.OrderID {
		return FulfillmentLine{}, fmt.Errorf("%w: line %s, fulfillment %s", ErrOrderMismatch, line.ID, f.ID)
	}
	if !line.ShippingRequired {
		return FulfillmentLine{}, fmt.Errorf("%w: line %s", ErrShippingNotRequired, line.ID)
	}
	if qty <= 0 {
		return FulfillmentLine{}, fmt.Errorf("%w: line %s: %d", ErrNonPositiveQuantity, line.ID, qty)
	}
	if err := line.Reserve(qty); err != nil {
		return FulfillmentLine{}, err
	}
	return FulfillmentLine{
		ID:            id,
		FulfillmentID: f.ID,
		OrderLineID:   line.ID,
		Quantity:      qty,
	}, nil
}

// SetLineQuantity moves an allocation to qty, reserving or releasing the
// difference on the order line.
func SetLineQuantity(f Fulfillment, fl *FulfillmentLine, line *OrderLine, qty int) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if fl.FulfillmentID != f.ID {
		return fmt.Errorf("%w: line %s, fulfillment %s", ErrLineNotInFulfillment, fl.ID, f.ID)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: fulfillment line %s: %d", ErrNonPositiveQuantity, fl.ID, qty)
	}
	switch delta := qty - fl.Quantity; {
	case delta > 0:
		if err := line.Reserve(delta); err != nil {
			return err
		}
	case delta < 0:
		if err := line.Release(-delta); err != nil {
			return err
		}
	}
	fl.Quantity = qty
	return nil
}

// RemoveLine gives the allocation's units back to the order line.
func RemoveLine(f Fulfillment, fl FulfillmentLine, line *OrderLine) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if fl.FulfillmentID != f.ID {
		return fmt.Errorf("%w: line %s, fulfillment %s", ErrLineNotInFulfillment, fl.ID, f.ID)
	}
	return line.Release(fl.Quantity)
}

func (f *Fulfillment) SetTrackingNumber(v *string, now time.Time) {
	f.TrackingNumber = v
	f.UpdatedAt = now
}
