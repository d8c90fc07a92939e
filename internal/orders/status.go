package orders

type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusConfirmed          Status = "CONFIRMED"
	StatusProcessing         Status = "PROCESSING"
	StatusPartiallyFulfilled Status = "PARTIALLY_FULFILLED"
	StatusFulfilled          Status = "FULFILLED"
	StatusCancelled          Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusCreated:            {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:          {StatusProcessing: true, StatusPartiallyFulfilled: true, StatusFulfilled: true, StatusCancelled: true},
	StatusProcessing:         {StatusPartiallyFulfilled: true, StatusFulfilled: true, StatusCancelled: true},
	StatusPartiallyFulfilled: {StatusFulfilled: true, StatusCancelled: true},
	StatusFulfilled:          {StatusPartiallyFulfilled: true, StatusProcessing: true},
	// reinstate restores whatever was snapshotted on cancel
	StatusCancelled: {StatusCreated: true, StatusConfirmed: true, StatusProcessing: true, StatusPartiallyFulfilled: true},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Processable reports whether fulfillments may be completed and the order
// fulfilled while in s.
func (s Status) Processable() bool {
	switch s {
	case StatusConfirmed, StatusProcessing, StatusPartiallyFulfilled:
		return true
	}
	return false
}

// AllFulfilled reports whether every line has shipped its full quantity.
// Lines without ShippingRequired are included and block FULFILLED.
func AllFulfilled(lines []OrderLine) bool {
	for _, l := range lines {
		if l.FulfilledQuantity != l.Quantity {
			return false
		}
	}
	return true
}

// DeriveStatus computes the in-progress status from the ledger alone. It never
// returns StatusFulfilled: closing an order is an explicit Fulfill call.
func DeriveStatus(lines []OrderLine) Status {
	for _, l := range lines {
		if l.FulfilledQuantity > 0 {
			return StatusPartiallyFulfilled
		}
	}
	return StatusProcessing
}
