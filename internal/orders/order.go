package orders

import (
	"fmt"
	"time"
)

func (o *Order) setStatus(next Status, now time.Time) error {
	if o.Status == next {
		return nil
	}
	if !CanTransition(o.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

func (o *Order) Confirm(now time.Time) error {
	if o.Status != StatusCreated {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotCreated, o.ID, o.Status)
	}
	return o.setStatus(StatusConfirmed, now)
}

// RecomputeStatus re-derives the in-progress status from the line ledger.
func (o *Order) RecomputeStatus(lines []OrderLine, now time.Time) error {
	return o.setStatus(DeriveStatus(lines), now)
}

func (o *Order) Fulfill(lines []OrderLine, now time.Time) error {
	if !o.Status.Processable() {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotProcessable, o.ID, o.Status)
	}
	if !AllFulfilled(lines) {
		return fmt.Errorf("%w: order %s", ErrUnfulfilledLinesRemain, o.ID)
	}
	return o.setStatus(StatusFulfilled, now)
}

// UndoFulfill reopens a fulfilled order. Quantities are left untouched.
func (o *Order) UndoFulfill(lines []OrderLine, now time.Time) error {
	if o.Status != StatusFulfilled {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotFulfilled, o.ID, o.Status)
	}
	return o.setStatus(DeriveStatus(lines), now)
}

func (o Order) checkCancel() error {
	if o.Status == StatusCancelled {
		return fmt.Errorf("%w: order %s", ErrAlreadyCancelled, o.ID)
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCancelled)
	}
	return nil
}

func (o *Order) Cancel(now time.Time) error {
	if err := o.checkCancel(); err != nil {
		return err
	}
	prev := o.Status
	if err := o.setStatus(StatusCancelled, now); err != nil {
		return err
	}
	o.PreviousStatus = prev
	return nil
}

func (o *Order) Reinstate(now time.Time) error {
	if o.Status != StatusCancelled {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotCancelled, o.ID, o.Status)
	}
	if err := o.setStatus(o.PreviousStatus, now); err != nil {
		return err
	}
	o.PreviousStatus = ""
	return nil
}
