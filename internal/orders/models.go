package orders

import "time"

type Order struct {
	ID              string    `json:"id"`
	CustomerID      string    `json:"customer_id"`
	Email           string    `json:"email,omitempty"`
	Status          Status    `json:"status"`
	PreviousStatus  Status    `json:"previous_status,omitempty"` // snapshot taken by Cancel, consumed by Reinstate
	Currency        string    `json:"currency"`
	TotalCents      int64     `json:"total_cents"`
	CapturedCents   int64     `json:"captured_cents"`
	PaymentID       string    `json:"payment_id,omitempty"`
	ShippingAddress string    `json:"shipping_address,omitempty"`
	BillingAddress  string    `json:"billing_address,omitempty"`
	ShippingMethod  string    `json:"shipping_method,omitempty"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OrderLine carries a name/price snapshot so later catalog edits never leak
// into placed orders. ProductID is cleared when the product is deleted.
type OrderLine struct {
	ID                string  `json:"id"`
	OrderID           string  `json:"order_id"`
	ProductID         *string `json:"product_id"`
	ProductName       string  `json:"product_name"`
	ProductSKU        string  `json:"product_sku"`
	UnitPriceCents    int64   `json:"unit_price_cents"`
	Quantity          int     `json:"quantity"`
	FulfilledQuantity int     `json:"fulfilled_quantity"`
	ReservedQuantity  int     `json:"reserved_quantity"`
	ShippingRequired  bool    `json:"shipping_required"`
	Version           int     `json:"version"`
}

type Fulfillment struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	Sequence       int        `json:"sequence"`
	Completed      bool       `json:"completed"`
	TrackingNumber *string    `json:"tracking_number"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// FulfillmentLine holds Quantity units of the referenced order line's
// reservation while its fulfillment is open.
type FulfillmentLine struct {
	ID            string `json:"id"`
	FulfillmentID string `json:"fulfillment_id"`
	OrderLineID   string `json:"order_line_id"`
	Quantity      int    `json:"quantity"`
	Version       int    `json:"version"`
}

type Checkout struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customer_id"`
	Email           string         `json:"email,omitempty"`
	Currency        string         `json:"currency"`
	ShippingAddress string         `json:"shipping_address,omitempty"`
	BillingAddress  string         `json:"billing_address,omitempty"`
	ShippingMethod  string         `json:"shipping_method,omitempty"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty"`
	Lines           []CheckoutLine `json:"lines"`
	CreatedAt       time.Time      `json:"created_at"`
}

type CheckoutLine struct {
	ProductID        string `json:"product_id"`
	SKU              string `json:"sku"`
	Name             string `json:"name"`
	UnitPriceCents   int64  `json:"unit_price_cents"`
	Quantity         int    `json:"quantity"`
	ShippingRequired bool   `json:"shipping_required"`
}

func (c Checkout) TotalCents() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.UnitPriceCents * int64(l.Quantity)
	}
	return total
}

// Payment is what the gateway reports back after a successful capture.
type Payment struct {
	ID            string
	CapturedCents int64
}

// Result describes what one mutating operation touched so callers can render
// a diff without re-reading the aggregate.
type Result struct {
	Order                     Order             `json:"order"`
	Lines                     []OrderLine       `json:"lines"`
	Fulfillment               *Fulfillment      `json:"fulfillment,omitempty"`
	FulfillmentLines          []FulfillmentLine `json:"fulfillment_lines,omitempty"`
	DeletedFulfillmentLineIDs []string          `json:"deleted_fulfillment_line_ids,omitempty"`
	DeletedFulfillmentIDs     []string          `json:"deleted_fulfillment_ids,omitempty"`
}

type OrderView struct {
	Order        Order             `json:"order"`
	Lines        []OrderLine       `json:"lines"`
	Fulfillments []FulfillmentView `json:"fulfillments"`
}

type FulfillmentView struct {
	Fulfillment
	Lines []FulfillmentLine `json:"lines"`
}

func (o Order) key() string   { return o.ID }
func (o Order) version() int  { return o.Version }
func (o Order) bumped() Order { o.Version++; return o }

func (l OrderLine) key() string       { return l.ID }
func (l OrderLine) version() int      { return l.Version }
func (l OrderLine) bumped() OrderLine { l.Version++; return l }

func (f Fulfillment) key() string         { return f.ID }
func (f Fulfillment) version() int        { return f.Version }
func (f Fulfillment) bumped() Fulfillment { f.Version++; return f }

func (fl FulfillmentLine) key() string             { return fl.ID }
func (fl FulfillmentLine) version() int            { return fl.Version }
func (fl FulfillmentLine) bumped() FulfillmentLine { fl.Version++; return fl }
