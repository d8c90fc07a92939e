package orders

import "fmt"

// Assignable is the capacity still open for new reservations.
func (l OrderLine) Assignable() int {
	return l.Quantity - l.ReservedQuantity - l.FulfilledQuantity
}

func (l *OrderLine) Reserve(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: line %s: %d", ErrNonPositiveQuantity, l.ID, qty)
	}
	if avail := l.Assignable(); qty > avail {
		return fmt.Errorf("%w: line %s: requested %d, assignable %d", ErrInsufficientAssignableQuantity, l.ID, qty, avail)
	}
	l.ReservedQuantity += qty
	return nil
}

func (l *OrderLine) Release(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: line %s: %d", ErrNonPositiveQuantity, l.ID, qty)
	}
	if qty > l.ReservedQuantity {
		return fmt.Errorf("%w: line %s: release %d, reserved %d", ErrReleaseExceedsReserved, l.ID, qty, l.ReservedQuantity)
	}
	l.ReservedQuantity -= qty
	return nil
}

// Fulfill converts qty reserved units into shipped units. Only a completing
// fulfillment calls it, after the units were reserved by that fulfillment.
func (l *OrderLine) Fulfill(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: line %s: %d", ErrNonPositiveQuantity, l.ID, qty)
	}
	if l.FulfilledQuantity+qty > l.Quantity {
		return fmt.Errorf("%w: line %s: fulfilled %d + %d > %d", ErrFulfilledExceedsQuantity, l.ID, l.FulfilledQuantity, qty, l.Quantity)
	}
	if qty > l.ReservedQuantity {
		return fmt.Errorf("%w: line %s: fulfil %d, reserved %d", ErrReleaseExceedsReserved, l.ID, qty, l.ReservedQuantity)
	}
	l.ReservedQuantity -= qty
	l.FulfilledQuantity += qty
	return nil
}

func (l OrderLine) VerifyBelongsTo(orderID string) error {
	if l.OrderID != orderID {
		return fmt.Errorf("%w: line %s, order %s", ErrLineNotInOrder, l.ID, orderID)
	}
	return nil
}
