package orders

import (
	"fmt"
	"strings"
	"time"
)

// MergeCheckoutLines folds repeated products into one line. The first
// occurrence supplies the name/price snapshot.
func MergeCheckoutLines(lines []CheckoutLine) ([]CheckoutLine, error) {
	in := make([]LineInput, 0, len(lines))
	first := make(map[string]CheckoutLine, len(lines))
	for _, l := range lines {
		id := strings.TrimSpace(l.ProductID)
		in = append(in, LineInput{ID: id, Quantity: l.Quantity})
		if _, ok := first[id]; !ok {
			l.ProductID = id
			first[id] = l
		}
	}
	m, err := MergeLines(in)
	if err != nil {
		return nil, err
	}
	out := make([]CheckoutLine, 0, m.Len())
	for _, id := range m.IDs() {
		l := first[id]
		l.Quantity = m.Quantity(id)
		out = append(out, l)
	}
	return out, nil
}

func validateCheckout(c Checkout) error {
	if strings.TrimSpace(c.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}
	for _, l := range c.Lines {
		if l.UnitPriceCents < 0 {
			return fmt.Errorf("%w: negative price for product %s", ErrInvalidInput, l.ProductID)
		}
	}
	return nil
}

// NewOrderFromCheckout materializes a CREATED order and one line per merged
// checkout line. lineID is called once per line.
func NewOrderFromCheckout(c Checkout, orderID string, lineID func() string, pay Payment, now time.Time) (Order, []OrderLine, error) {
	if len(c.Lines) == 0 {
		return Order{}, nil, fmt.Errorf("%w: checkout %s", ErrCheckoutEmpty, c.ID)
	}
	merged, err := MergeCheckoutLines(c.Lines)
	if err != nil {
		return Order{}, nil, err
	}
	o := Order{
		ID:              orderID,
		CustomerID:      c.CustomerID,
		Email:           c.Email,
		Status:          StatusCreated,
		Currency:        c.Currency,
		CapturedCents:   pay.CapturedCents,
		PaymentID:       pay.ID,
		ShippingAddress: c.ShippingAddress,
		BillingAddress:  c.BillingAddress,
		ShippingMethod:  c.ShippingMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	lines := make([]OrderLine, 0, len(merged))
	for _, cl := range merged {
		pid := cl.ProductID
		lines = append(lines, OrderLine{
			ID:               lineID(),
			OrderID:          orderID,
			ProductID:        &pid,
			ProductName:      cl.Name,
			ProductSKU:       cl.SKU,
			UnitPriceCents:   cl.UnitPriceCents,
			Quantity:         cl.Quantity,
			ShippingRequired: cl.ShippingRequired,
		})
		o.TotalCents += cl.UnitPriceCents * int64(cl.Quantity)
	}
	return o, lines, nil
}
