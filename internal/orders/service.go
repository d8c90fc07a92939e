package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Publisher takes events after their unit of work committed. Implementations
// must not block; kafka.Producer queues in memory and drops when full.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// PaymentGateway captures the checkout amount. Any error aborts the
// checkout completion.
type PaymentGateway interface {
	Capture(ctx context.Context, c Checkout, amountCents int64) (Payment, error)
}

type ServiceDeps struct {
	UnitOfWork  UnitOfWork
	Payments    PaymentGateway
	Publisher   Publisher
	Logger      *logger.Logger
	Clock       func() time.Time
	IDGenerator func() string
	ServiceName string
}

type Service struct {
	uow      UnitOfWork
	payments PaymentGateway
	pub      Publisher
	log      *logger.Logger
	clock    func() time.Time
	newID    func() string
	producer string
	tracer   trace.Tracer
}

var errPaymentsUnavailable = errors.New("orders: payment gateway not configured")

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("orders: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	producer := deps.ServiceName
	if producer == "" {
		producer = "fulfillment-api"
	}
	return &Service{
		uow:      deps.UnitOfWork,
		payments: deps.Payments,
		pub:      deps.Publisher,
		log:      log,
		clock:    func() time.Time { return clock().UTC() },
		newID:    newID,
		producer: producer,
		tracer:   otel.Tracer("github.com/ariefcatur/go-order-fulfillment/internal/orders"),
	}, nil
}

type unit struct {
	ctx    context.Context
	events []Envelope
}

func (s *Service) emit(u *unit, eventType, orderID string, payload any) {
	env := Envelope{
		EventID:       ulid.Make().String(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.clock(),
		Producer:      s.producer,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(u.ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	u.events = append(u.events, env)
}

// run executes fn in one unit of work and publishes the events it emitted
// only once the unit committed.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, st Store, u *unit) error, attrs ...attribute.KeyValue) error {
	ctx, span := s.tracer.Start(ctx, "orders."+op, trace.WithAttributes(attrs...))
	defer span.End()

	var u *unit
	err := s.uow.Run(ctx, func(ctx context.Context, st Store) error {
		u = &unit{ctx: ctx}
		return fn(ctx, st, u)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("orders operation rejected", "op", op, "err", err)
		return err
	}
	s.publish(u.events)
	return nil
}

func (s *Service) publish(events []Envelope) {
	if s.pub == nil {
		return
	}
	for _, ev := range events {
		s.pub.Publish(PartitionKey(ev.CorrelationID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: kafkax.HeaderEventType, Value: []byte(ev.EventType)},
			kafkago.Header{Key: kafkax.HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
		)
	}
}

func orderRef(o Order) OrderRef {
	return OrderRef{OrderID: o.ID, Status: o.Status, Version: o.Version}
}

func lineQtys(fls []FulfillmentLine) []LineQty {
	out := make([]LineQty, 0, len(fls))
	for _, fl := range fls {
		out = append(out, LineQty{OrderLineID: fl.OrderLineID, Qty: fl.Quantity})
	}
	return out
}

func normalizeTracking(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func (s *Service) fulfillmentPayload(a *Aggregate, f Fulfillment) FulfillmentPayload {
	p := FulfillmentPayload{
		OrderRef:      orderRef(a.Order),
		FulfillmentID: f.ID,
		Sequence:      f.Sequence,
		Completed:     f.Completed,
		Lines:         lineQtys(a.LinesOf(f.ID)),
	}
	if f.TrackingNumber != nil {
		p.TrackingNumber = *f.TrackingNumber
	}
	return p
}

// loadByFulfillment locks the owning order before any of its fulfillments,
// the same order LoadAggregate uses.
func loadByFulfillment(ctx context.Context, st Store, fulfillmentID string) (*Aggregate, error) {
	orderID, err := st.Fulfillments().OrderIDOf(ctx, fulfillmentID)
	if err != nil {
		return nil, err
	}
	agg, err := LoadAggregate(ctx, st, orderID)
	if err != nil {
		return nil, err
	}
	// The fulfillment may have been deleted between the lookup and the lock.
	if _, err := agg.fulfillment(fulfillmentID); err != nil {
		return nil, err
	}
	return agg, nil
}

// verifyOrderLines is a strict read: every requested id must exist and
// belong to the order.
func verifyOrderLines(ctx context.Context, st Store, orderID string, ids []string) error {
	lines, err := st.Lines().FindAllByID(ctx, ids)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if err := l.VerifyBelongsTo(orderID); err != nil {
			return err
		}
	}
	return nil
}

// CreateCheckout stores a checkout with its lines merged by product.
func (s *Service) CreateCheckout(ctx context.Context, c Checkout) (Checkout, error) {
	if err := validateCheckout(c); err != nil {
		return Checkout{}, err
	}
	if len(c.Lines) == 0 {
		return Checkout{}, fmt.Errorf("%w: checkout needs at least one line", ErrCheckoutEmpty)
	}
	merged, err := MergeCheckoutLines(c.Lines)
	if err != nil {
		return Checkout{}, err
	}
	c.ID = s.newID()
	c.Lines = merged
	c.CreatedAt = s.clock()
	err = s.run(ctx, "CreateCheckout", func(ctx context.Context, st Store, _ *unit) error {
		return st.Checkouts().Insert(ctx, c)
	}, attribute.String("customer_id", c.CustomerID))
	if err != nil {
		return Checkout{}, err
	}
	return c, nil
}

// CompleteCheckout captures payment and turns the checkout into a CREATED
// order. The checkout is deleted in the same unit, so a second completion of
// the same id finds nothing.
func (s *Service) CompleteCheckout(ctx context.Context, checkoutID string) (Result, error) {
	if s.payments == nil {
		return Result{}, errPaymentsUnavailable
	}
	var res Result
	err := s.run(ctx, "CompleteCheckout", func(ctx context.Context, st Store, u *unit) error {
		c, err := st.Checkouts().FindByID(ctx, checkoutID)
		if err != nil {
			return err
		}
		if len(c.Lines) == 0 {
			return fmt.Errorf("%w: checkout %s", ErrCheckoutEmpty, c.ID)
		}
		merged, err := MergeCheckoutLines(c.Lines)
		if err != nil {
			return err
		}
		c.Lines = merged
		pay, err := s.payments.Capture(ctx, c, c.TotalCents())
		if err != nil {
			return fmt.Errorf("%w: checkout %s: %v", ErrPaymentFailed, c.ID, err)
		}
		o, lines, err := NewOrderFromCheckout(c, s.newID(), s.newID, pay, s.clock())
		if err != nil {
			return err
		}
		agg := &Aggregate{Order: o, Lines: lines, orderDirty: true}
		for _, l := range lines {
			agg.dirtyLines.add(l.ID)
		}
		if res, err = agg.Save(ctx, st); err != nil {
			return err
		}
		if err := st.Checkouts().Delete(ctx, c.ID); err != nil {
			return err
		}
		created := OrderCreatedPayload{
			OrderRef:   orderRef(res.Order),
			CustomerID: res.Order.CustomerID,
			TotalCents: res.Order.TotalCents,
			PaymentID:  res.Order.PaymentID,
		}
		for _, l := range res.Lines {
			created.Lines = append(created.Lines, LineQty{OrderLineID: l.ID, Qty: l.Quantity})
		}
		s.emit(u, EventOrderCreated, res.Order.ID, created)
		return nil
	}, attribute.String("checkout_id", checkoutID))
	if err != nil {
		return Result{}, err
	}
	s.log.Info("checkout completed", "checkout_id", checkoutID, "order_id", res.Order.ID, "lines", len(res.Lines))
	return res, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "orders.GetOrder", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	var view OrderView
	err := s.uow.View(ctx, func(ctx context.Context, st Store) error {
		agg, err := LoadAggregate(ctx, st, orderID)
		if err != nil {
			return err
		}
		view = agg.View()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return view, err
}

// transition applies an order-level state change and emits eventType.
func (s *Service) transition(ctx context.Context, op, orderID, eventType string, apply func(*Aggregate, time.Time) error) (Result, error) {
	var res Result
	err := s.run(ctx, op, func(ctx context.Context, st Store, u *unit) error {
		agg, err := LoadAggregate(ctx, st, orderID)
		if err != nil {
			return err
		}
		prev := agg.Order.Status
		if err := apply(agg, s.clock()); err != nil {
			return err
		}
		if res, err = agg.Save(ctx, st); err != nil {
			return err
		}
		for _, id := range res.DeletedFulfillmentIDs {
			s.emit(u, EventFulfillmentDeleted, orderID, FulfillmentPayload{OrderRef: orderRef(res.Order), FulfillmentID: id})
		}
		s.emit(u, eventType, orderID, OrderStatusPayload{OrderRef: orderRef(res.Order), PreviousStatus: prev})
		return nil
	}, attribute.String("order_id", orderID))
	if err != nil {
		return Result{}, err
	}
	s.log.Info("order status changed", "op", op, "order_id", orderID, "status", res.Order.Status)
	return res, nil
}

func (s *Service) ConfirmOrder(ctx context.Context, orderID string) (Result, error) {
	return s.transition(ctx, "ConfirmOrder", orderID, EventOrderConfirmed, (*Aggregate).Confirm)
}

// FulfillOrder closes an order whose lines have all shipped. Completing the
// last fulfillment does not do this implicitly.
func (s *Service) FulfillOrder(ctx context.Context, orderID string) (Result, error) {
	return s.transition(ctx, "FulfillOrder", orderID, EventOrderFulfilled, (*Aggregate).Fulfill)
}

func (s *Service) UndoFulfillOrder(ctx context.Context, orderID string) (Result, error) {
	return s.transition(ctx, "UndoFulfillOrder", orderID, EventOrderFulfillmentUndone, (*Aggregate).UndoFulfill)
}

// CancelOrder also deletes the order's open fulfillments, releasing their
// reservations. Reinstating does not restore them.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (Result, error) {
	return s.transition(ctx, "CancelOrder", orderID, EventOrderCancelled, (*Aggregate).Cancel)
}

func (s *Service) ReinstateOrder(ctx context.Context, orderID string) (Result, error) {
	return s.transition(ctx, "ReinstateOrder", orderID, EventOrderReinstated, (*Aggregate).Reinstate)
}

func mergeNonEmpty(lines []LineInput) (MergedLines, error) {
	m, err := MergeLines(lines)
	if err != nil {
		return MergedLines{}, err
	}
	if m.Len() == 0 {
		return MergedLines{}, fmt.Errorf("%w: at least one line is required", ErrInvalidInput)
	}
	return m, nil
}

// CreateFulfillment opens a fulfillment on the order and reserves the merged
// (order line id, quantity) pairs into it.
func (s *Service) CreateFulfillment(ctx context.Context, orderID string, lines []LineInput, tracking *string) (Result, error) {
	m, err := mergeNonEmpty(lines)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = s.run(ctx, "CreateFulfillment", func(ctx context.Context, st Store, u *unit) error {
		agg, err := LoadAggregate(ctx, st, orderID)
		if err != nil {
			return err
		}
		if err := verifyOrderLines(ctx, st, orderID, m.IDs()); err != nil {
			return err
		}
		now := s.clock()
		f, err := agg.OpenFulfillment(s.newID(), now)
		if err != nil {
			return err
		}
		f.TrackingNumber = normalizeTracking(tracking)
		if err := agg.AddLines(f.ID, m, s.newID, now); err != nil {
			return err
		}
		if res, err = agg.Save(ctx, st); err != nil {
			return err
		}
		s.emit(u, EventFulfillmentCreated, orderID, s.fulfillmentPayload(agg, *res.Fulfillment))
		return nil
	}, attribute.String("order_id", orderID))
	if err != nil {
		return Result{}, err
	}
	s.log.Info("fulfillment created", "order_id", orderID, "fulfillment_id", res.Fulfillment.ID, "lines", len(res.FulfillmentLines))
	return res, nil
}

// fulfillmentOp loads the fulfillment's order, applies fn and saves. fn
// reports whether anything changed worth an event.
func (s *Service) fulfillmentOp(ctx context.Context, op, fulfillmentID, eventType string, fn func(ctx context.Context, st Store, agg *Aggregate, now time.Time) (bool, error)) (Result, error) {
	var res Result
	err := s.run(ctx, op, func(ctx context.Context, st Store, u *unit) error {
		agg, err := loadByFulfillment(ctx, st, fulfillmentID)
		if err != nil {
			return err
		}
		changed, err := fn(ctx, st, agg, s.clock())
		if err != nil {
			return err
		}
		if res, err = agg.Save(ctx, st); err != nil {
			return err
		}
		if !changed {
			return nil
		}
		p := FulfillmentPayload{OrderRef: orderRef(res.Order), FulfillmentID: fulfillmentID}
		if res.Fulfillment != nil {
			p = s.fulfillmentPayload(agg, *res.Fulfillment)
		}
		s.emit(u, eventType, res.Order.ID, p)
		return nil
	}, attribute.String("fulfillment_id", fulfillmentID))
	if err != nil {
		return Result{}, err
	}
	s.log.Info("fulfillment changed", "op", op, "order_id", res.Order.ID, "fulfillment_id", fulfillmentID, "status", res.Order.Status)
	return res, nil
}

// AddFulfillmentLines reserves more order-line quantity into an open
// fulfillment.
func (s *Service) AddFulfillmentLines(ctx context.Context, fulfillmentID string, lines []LineInput) (Result, error) {
	m, err := mergeNonEmpty(lines)
	if err != nil {
		return Result{}, err
	}
	return s.fulfillmentOp(ctx, "AddFulfillmentLines", fulfillmentID, EventFulfillmentUpdated,
		func(ctx context.Context, st Store, agg *Aggregate, now time.Time) (bool, error) {
			if err := verifyOrderLines(ctx, st, agg.Order.ID, m.IDs()); err != nil {
				return false, err
			}
			return true, agg.AddLines(fulfillmentID, m, s.newID, now)
		})
}

// UpdateFulfillmentLines sets new quantities keyed by fulfillment line id.
func (s *Service) UpdateFulfillmentLines(ctx context.Context, fulfillmentID string, lines []LineInput) (Result, error) {
	m, err := mergeNonEmpty(lines)
	if err != nil {
		return Result{}, err
	}
	return s.fulfillmentOp(ctx, "UpdateFulfillmentLines", fulfillmentID, EventFulfillmentUpdated,
		func(ctx context.Context, st Store, agg *Aggregate, now time.Time) (bool, error) {
			fls, err := st.FulfillmentLines().FindAllByID(ctx, m.IDs())
			if err != nil {
				return false, err
			}
			for _, fl := range fls {
				if fl.FulfillmentID != fulfillmentID {
					return false, fmt.Errorf("%w: line %s, fulfillment %s", ErrLineNotInFulfillment, fl.ID, fulfillmentID)
				}
			}
			return true, agg.SetLineQuantities(fulfillmentID, m, now)
		})
}

// DeleteFulfillmentLines removes lines by id, skipping ids that do not
// resolve to a line of this fulfillment.
func (s *Service) DeleteFulfillmentLines(ctx context.Context, fulfillmentID string, ids []string) (Result, error) {
	return s.fulfillmentOp(ctx, "DeleteFulfillmentLines", fulfillmentID, EventFulfillmentUpdated,
		func(_ context.Context, _ Store, agg *Aggregate, now time.Time) (bool, error) {
			owned := make([]string, 0, len(ids))
			for _, id := range ids {
				if fl := agg.fulfillmentLine(id); fl != nil && fl.FulfillmentID == fulfillmentID {
					owned = append(owned, fl.ID)
				}
			}
			if len(owned) == 0 {
				return false, nil
			}
			return true, agg.RemoveLines(fulfillmentID, owned, now)
		})
}

func (s *Service) CompleteFulfillment(ctx context.Context, fulfillmentID string, tracking *string) (Result, error) {
	return s.fulfillmentOp(ctx, "CompleteFulfillment", fulfillmentID, EventFulfillmentCompleted,
		func(_ context.Context, _ Store, agg *Aggregate, now time.Time) (bool, error) {
			return true, agg.CompleteFulfillment(fulfillmentID, normalizeTracking(tracking), now)
		})
}

// SetTrackingNumber updates the tracking number in any fulfillment state. An
// empty value clears it.
func (s *Service) SetTrackingNumber(ctx context.Context, fulfillmentID, tracking string) (Result, error) {
	return s.fulfillmentOp(ctx, "SetTrackingNumber", fulfillmentID, EventTrackingUpdated,
		func(_ context.Context, _ Store, agg *Aggregate, now time.Time) (bool, error) {
			return true, agg.SetTrackingNumber(fulfillmentID, normalizeTracking(&tracking), now)
		})
}

func (s *Service) DeleteFulfillment(ctx context.Context, fulfillmentID string) (Result, error) {
	return s.fulfillmentOp(ctx, "DeleteFulfillment", fulfillmentID, EventFulfillmentDeleted,
		func(_ context.Context, _ Store, agg *Aggregate, now time.Time) (bool, error) {
			return true, agg.DeleteFulfillment(fulfillmentID, now)
		})
}

// ClearDeletedProduct detaches order lines from a product that was removed
// from the catalog. The name/price snapshot stays.
func (s *Service) ClearDeletedProduct(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.run(ctx, "ClearDeletedProduct", func(ctx context.Context, st Store, _ *unit) error {
		lines, err := st.Lines().ByProduct(ctx, productID)
		if err != nil {
			return err
		}
		for i := range lines {
			lines[i].ProductID = nil
		}
		if len(lines) > 0 {
			if _, err := st.Lines().SaveAll(ctx, lines); err != nil {
				return err
			}
		}
		n = len(lines)
		return nil
	}, attribute.String("product_id", productID))
	return n, err
}
