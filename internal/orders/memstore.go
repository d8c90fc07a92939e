package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-process UnitOfWork. Units run one at a time against a
// staged copy of the tables that replaces the live copy only on success.
type MemStore struct {
	mu   sync.Mutex
	data *memData
}

func NewMemStore() *MemStore {
	return &MemStore{data: &memData{
		orders:       newMemTable[Order]("order"),
		lines:        newMemTable[OrderLine]("order line"),
		fulfillments: newMemTable[Fulfillment]("fulfillment"),
		flines:       newMemTable[FulfillmentLine]("fulfillment line"),
		checkouts:    map[string]Checkout{},
	}}
}

func (m *MemStore) Run(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := m.data.clone()
	if err := fn(ctx, staged); err != nil {
		return err
	}
	m.data = staged
	return nil
}

func (m *MemStore) View(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	m.mu.Lock()
	snapshot := m.data.clone()
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, snapshot)
}

type memData struct {
	orders       *memTable[Order]
	lines        *memTable[OrderLine]
	fulfillments *memTable[Fulfillment]
	flines       *memTable[FulfillmentLine]
	checkouts    map[string]Checkout
}

func (d *memData) clone() *memData {
	cs := make(map[string]Checkout, len(d.checkouts))
	for k, v := range d.checkouts {
		cs[k] = v
	}
	return &memData{
		orders:       d.orders.clone(),
		lines:        d.lines.clone(),
		fulfillments: d.fulfillments.clone(),
		flines:       d.flines.clone(),
		checkouts:    cs,
	}
}

func (d *memData) Orders() Repository[Order] { return memRepo[Order]{d.orders} }
func (d *memData) Lines() LineRepository     { return memLines{memRepo[OrderLine]{d.lines}} }
func (d *memData) Fulfillments() FulfillmentRepository {
	return memFulfillments{memRepo[Fulfillment]{d.fulfillments}}
}
func (d *memData) FulfillmentLines() FulfillmentLineRepository {
	return memFulfillmentLines{memRepo[FulfillmentLine]{d.flines}}
}
func (d *memData) Checkouts() CheckoutRepository { return memCheckouts{d.checkouts} }

type memTable[T record[T]] struct {
	name  string
	rows  map[string]T
	order []string
}

func newMemTable[T record[T]](name string) *memTable[T] {
	return &memTable[T]{name: name, rows: map[string]T{}}
}

func (t *memTable[T]) clone() *memTable[T] {
	rows := make(map[string]T, len(t.rows))
	for k, v := range t.rows {
		rows[k] = v
	}
	return &memTable[T]{name: t.name, rows: rows, order: append([]string(nil), t.order...)}
}

func (t *memTable[T]) filter(keep func(T) bool) []T {
	var out []T
	for _, id := range t.order {
		if r := t.rows[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

type memRepo[T record[T]] struct{ t *memTable[T] }

func (r memRepo[T]) FindByID(_ context.Context, id string) (T, error) {
	row, ok := r.t.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, r.t.name, id)
	}
	return row, nil
}

func (r memRepo[T]) FindAllByID(ctx context.Context, ids []string) ([]T, error) {
	out, _ := r.FindAllByIDIgnoringMissing(ctx, ids)
	var missing []string
	for _, id := range ids {
		if _, ok := r.t.rows[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, r.t.name, strings.Join(missing, ","))
	}
	return out, nil
}

func (r memRepo[T]) FindAllByIDIgnoringMissing(_ context.Context, ids []string) ([]T, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if row, ok := r.t.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r memRepo[T]) SaveAll(_ context.Context, items []T) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		cur, exists := r.t.rows[it.key()]
		switch {
		case exists && cur.version() != it.version():
			return nil, fmt.Errorf("%w: %s %s at version %d, have %d", ErrVersionConflict, r.t.name, it.key(), cur.version(), it.version())
		case !exists && it.version() != 0:
			return nil, fmt.Errorf("%w: %s %s no longer exists", ErrVersionConflict, r.t.name, it.key())
		}
		saved := it.bumped()
		r.t.rows[it.key()] = saved
		if !exists {
			r.t.order = append(r.t.order, it.key())
		}
		out = append(out, saved)
	}
	return out, nil
}

func (r memRepo[T]) DeleteAll(_ context.Context, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(r.t.rows, id)
	}
	kept := r.t.order[:0]
	for _, id := range r.t.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	r.t.order = kept
	return nil
}

type memLines struct{ memRepo[OrderLine] }

func (r memLines) ByOrder(_ context.Context, orderID string) ([]OrderLine, error) {
	return r.t.filter(func(l OrderLine) bool { return l.OrderID == orderID }), nil
}

func (r memLines) ByProduct(_ context.Context, productID string) ([]OrderLine, error) {
	return r.t.filter(func(l OrderLine) bool { return l.ProductID != nil && *l.ProductID == productID }), nil
}

type memFulfillments struct{ memRepo[Fulfillment] }

func (r memFulfillments) ByOrder(_ context.Context, orderID string) ([]Fulfillment, error) {
	out := r.t.filter(func(f Fulfillment) bool { return f.OrderID == orderID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r memFulfillments) OrderIDOf(ctx context.Context, fulfillmentID string) (string, error) {
	f, err := r.FindByID(ctx, fulfillmentID)
	if err != nil {
		return "", err
	}
	return f.OrderID, nil
}

type memFulfillmentLines struct{ memRepo[FulfillmentLine] }

func (r memFulfillmentLines) ByFulfillments(_ context.Context, fulfillmentIDs []string) ([]FulfillmentLine, error) {
	want := make(map[string]bool, len(fulfillmentIDs))
	for _, id := range fulfillmentIDs {
		want[id] = true
	}
	return r.t.filter(func(fl FulfillmentLine) bool { return want[fl.FulfillmentID] }), nil
}

type memCheckouts struct{ rows map[string]Checkout }

func (r memCheckouts) FindByID(_ context.Context, id string) (Checkout, error) {
	c, ok := r.rows[id]
	if !ok {
		return Checkout{}, fmt.Errorf("%w: checkout %s", ErrNotFound, id)
	}
	return c, nil
}

func (r memCheckouts) Insert(_ context.Context, c Checkout) error {
	if _, ok := r.rows[c.ID]; ok {
		return fmt.Errorf("%w: checkout %s already exists", ErrInvalidInput, c.ID)
	}
	for _, other := range r.rows {
		if other.CustomerID == c.CustomerID {
			return fmt.Errorf("%w: customer %s", ErrCheckoutExists, c.CustomerID)
		}
	}
	c.Lines = append([]CheckoutLine(nil), c.Lines...)
	r.rows[c.ID] = c
	return nil
}

func (r memCheckouts) Delete(_ context.Context, id string) error {
	if _, ok := r.rows[id]; !ok {
		return fmt.Errorf("%w: checkout %s", ErrNotFound, id)
	}
	delete(r.rows, id)
	return nil
}
