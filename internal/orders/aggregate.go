package orders

import (
	"context"
	"fmt"
	"time"
)

// Aggregate is the working set of one order loaded inside a unit of work:
// flat records joined by id, plus the ids each operation touched so only
// those rows are written back.
type Aggregate struct {
	Order            Order
	Lines            []OrderLine
	Fulfillments     []Fulfillment
	FulfillmentLines []FulfillmentLine

	orderDirty          bool
	dirtyLines          idSet
	dirtyFulfillments   idSet
	dirtyFLines         idSet
	deletedFLines       []string
	deletedFulfillments []string
	focus               string
}

type idSet struct {
	ids  []string
	seen map[string]bool
}

func (s *idSet) add(id string) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if !s.seen[id] {
		s.seen[id] = true
		s.ids = append(s.ids, id)
	}
}

func (s *idSet) has(id string) bool { return s.seen[id] }

func LoadAggregate(ctx context.Context, st Store, orderID string) (*Aggregate, error) {
	o, err := st.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := st.Lines().ByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	fs, err := st.Fulfillments().ByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	fids := make([]string, 0, len(fs))
	for _, f := range fs {
		fids = append(fids, f.ID)
	}
	var fls []FulfillmentLine
	if len(fids) > 0 {
		if fls, err = st.FulfillmentLines().ByFulfillments(ctx, fids); err != nil {
			return nil, err
		}
	}
	return &Aggregate{Order: o, Lines: lines, Fulfillments: fs, FulfillmentLines: fls}, nil
}

func (a *Aggregate) line(id string) (*OrderLine, error) {
	for i := range a.Lines {
		if a.Lines[i].ID == id {
			return &a.Lines[i], nil
		}
	}
	return nil, fmt.Errorf("%w: line %s, order %s", ErrLineNotInOrder, id, a.Order.ID)
}

func (a *Aggregate) fulfillment(id string) (*Fulfillment, error) {
	for i := range a.Fulfillments {
		if a.Fulfillments[i].ID == id {
			return &a.Fulfillments[i], nil
		}
	}
	return nil, fmt.Errorf("%w: fulfillment %s", ErrNotFound, id)
}

func (a *Aggregate) fulfillmentLine(id string) *FulfillmentLine {
	for i := range a.FulfillmentLines {
		if a.FulfillmentLines[i].ID == id {
			return &a.FulfillmentLines[i]
		}
	}
	return nil
}

func (a *Aggregate) allocation(fulfillmentID, orderLineID string) *FulfillmentLine {
	for i := range a.FulfillmentLines {
		fl := &a.FulfillmentLines[i]
		if fl.FulfillmentID == fulfillmentID && fl.OrderLineID == orderLineID {
			return fl
		}
	}
	return nil
}

func (a *Aggregate) LinesOf(fulfillmentID string) []FulfillmentLine {
	var out []FulfillmentLine
	for _, fl := range a.FulfillmentLines {
		if fl.FulfillmentID == fulfillmentID {
			out = append(out, fl)
		}
	}
	return out
}

func (a *Aggregate) dropFulfillmentLine(id string) {
	for i := range a.FulfillmentLines {
		if a.FulfillmentLines[i].ID == id {
			a.FulfillmentLines = append(a.FulfillmentLines[:i], a.FulfillmentLines[i+1:]...)
			a.deletedFLines = append(a.deletedFLines, id)
			return
		}
	}
}

func (a *Aggregate) touchOrder(now time.Time) {
	a.Order.UpdatedAt = now
	a.orderDirty = true
}

// checkMutable guards reservation changes: a cancelled order has released
// everything and a fulfilled order is closed.
func (a *Aggregate) checkMutable() error {
	switch a.Order.Status {
	case StatusCancelled, StatusFulfilled:
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotProcessable, a.Order.ID, a.Order.Status)
	}
	return nil
}

func (a *Aggregate) Confirm(now time.Time) error {
	if err := a.Order.Confirm(now); err != nil {
		return err
	}
	a.orderDirty = true
	return nil
}

// OpenFulfillment appends an empty, open fulfillment numbered after the
// order's existing ones.
func (a *Aggregate) OpenFulfillment(id string, now time.Time) (*Fulfillment, error) {
	if err := a.checkMutable(); err != nil {
		return nil, err
	}
	seq := 0
	for _, f := range a.Fulfillments {
		if f.Sequence > seq {
			seq = f.Sequence
		}
	}
	a.Fulfillments = append(a.Fulfillments, NewFulfillment(id, a.Order.ID, seq+1, now))
	a.dirtyFulfillments.add(id)
	a.focus = id
	return &a.Fulfillments[len(a.Fulfillments)-1], nil
}

// AddLines reserves every merged order-line quantity into the fulfillment.
// A line already allocated in the fulfillment grows instead of being
// allocated twice.
func (a *Aggregate) AddLines(fulfillmentID string, m MergedLines, newID func() string, now time.Time) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	f, err := a.fulfillment(fulfillmentID)
	if err != nil {
		return err
	}
	if err := f.checkOpen(); err != nil {
		return err
	}
	a.focus = f.ID
	for _, lid := range m.IDs() {
		line, err := a.line(lid)
		if err != nil {
			return err
		}
		qty := m.Quantity(lid)
		if fl := a.allocation(f.ID, lid); fl != nil {
			if !line.ShippingRequired {
				return fmt.Errorf("%w: line %s", ErrShippingNotRequired, line.ID)
			}
			if err := SetLineQuantity(*f, fl, line, fl.Quantity+qty); err != nil {
				return err
			}
			a.dirtyFLines.add(fl.ID)
		} else {
			fl, err := AddLine(*f, line, newID(), qty)
			if err != nil {
				return err
			}
			a.FulfillmentLines = append(a.FulfillmentLines, fl)
			a.dirtyFLines.add(fl.ID)
		}
		a.dirtyLines.add(line.ID)
	}
	f.UpdatedAt = now
	a.dirtyFulfillments.add(f.ID)
	return nil
}

// SetLineQuantities applies merged (fulfillment line id, quantity) pairs.
func (a *Aggregate) SetLineQuantities(fulfillmentID string, m MergedLines, now time.Time) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	f, err := a.fulfillment(fulfillmentID)
	if err != nil {
		return err
	}
	if err := f.checkOpen(); err != nil {
		return err
	}
	a.focus = f.ID
	for _, id := range m.IDs() {
		fl := a.fulfillmentLine(id)
		if fl == nil || fl.FulfillmentID != f.ID {
			return fmt.Errorf("%w: line %s, fulfillment %s", ErrLineNotInFulfillment, id, f.ID)
		}
		line, err := a.line(fl.OrderLineID)
		if err != nil {
			return err
		}
		if err := SetLineQuantity(*f, fl, line, m.Quantity(id)); err != nil {
			return err
		}
		a.dirtyFLines.add(fl.ID)
		a.dirtyLines.add(line.ID)
	}
	f.UpdatedAt = now
	a.dirtyFulfillments.add(f.ID)
	return nil
}

// RemoveLines releases and deletes the given fulfillment lines. Ids that are
// unknown or belong to another fulfillment are skipped so the call can be
// retried safely.
func (a *Aggregate) RemoveLines(fulfillmentID string, ids []string, now time.Time) error {
	f, err := a.fulfillment(fulfillmentID)
	if err != nil {
		return err
	}
	if err := f.checkOpen(); err != nil {
		return err
	}
	a.focus = f.ID
	removed := 0
	for _, id := range ids {
		fl := a.fulfillmentLine(id)
		if fl == nil || fl.FulfillmentID != f.ID {
			continue
		}
		line, err := a.line(fl.OrderLineID)
		if err != nil {
			return err
		}
		if err := RemoveLine(*f, *fl, line); err != nil {
			return err
		}
		a.dirtyLines.add(line.ID)
		a.dropFulfillmentLine(id)
		removed++
	}
	if removed > 0 {
		f.UpdatedAt = now
		a.dirtyFulfillments.add(f.ID)
	}
	return nil
}

// CompleteFulfillment ships every allocation of the fulfillment and
// re-derives the order status.
func (a *Aggregate) CompleteFulfillment(fulfillmentID string, tracking *string, now time.Time) error {
	f, err := a.fulfillment(fulfillmentID)
	if err != nil {
		return err
	}
	a.focus = f.ID
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !a.Order.Status.Processable() {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotProcessable, a.Order.ID, a.Order.Status)
	}
	for _, fl := range a.LinesOf(f.ID) {
		line, err := a.line(fl.OrderLineID)
		if err != nil {
			return err
		}
		if err := line.Fulfill(fl.Quantity); err != nil {
			return err
		}
		a.dirtyLines.add(line.ID)
	}
	f.Completed = true
	f.CompletedAt = &now
	f.UpdatedAt = now
	if tracking != nil {
		f.TrackingNumber = tracking
	}
	a.dirtyFulfillments.add(f.ID)

	if err := a.Order.RecomputeStatus(a.Lines, now); err != nil {
		return err
	}
	a.touchOrder(now)
	return nil
}

// DeleteFulfillment drops an open fulfillment, handing its reservations back.
func (a *Aggregate) DeleteFulfillment(fulfillmentID string, now time.Time) error {
	f, err := a.fulfillment(fulfillmentID)
	if err != nil {
		return err
	}
	if err := f.checkOpen(); err != nil {
		return err
	}
	for _, fl := range a.LinesOf(f.ID) {
		line, err := a.line(fl.OrderLineID)
		if err != nil {
			return err
		}
		if err := RemoveLine(*f, fl, line); err != nil {
			return err
		}
		a.dirtyLines.add(line.ID)
		a.dropFulfillmentLine(fl.ID)
	}
	for i := range a.Fulfillments {
		if a.Fulfillments[i].ID == f.ID {
			a.Fulfillments = append(a.Fulfillments[:i], a.Fulfillments[i+1:]...)
			break
		}
	}
	a.deletedFulfillments = append(a.deletedFulfillments, fulfillmentID)
	if a.focus == fulfillmentID {
		a.focus = ""
	}
	a.touchOrder(now)
	return nil
}

func (a *Aggregate) SetTrackingNumber(fulfillmentID string, v *string, now time.Time) error {
	f, err := a.fulfillment(fulfillmentID)
	if err != nil {
		return err
	}
	f.SetTrackingNumber(v, now)
	a.dirtyFulfillments.add(f.ID)
	a.focus = f.ID
	return nil
}

func (a *Aggregate) Fulfill(now time.Time) error {
	if err := a.Order.Fulfill(a.Lines, now); err != nil {
		return err
	}
	a.orderDirty = true
	return nil
}

func (a *Aggregate) UndoFulfill(now time.Time) error {
	if err := a.Order.UndoFulfill(a.Lines, now); err != nil {
		return err
	}
	a.orderDirty = true
	return nil
}

// Cancel releases every open fulfillment before cancelling the order.
// Completed fulfillments stay as shipped history.
func (a *Aggregate) Cancel(now time.Time) error {
	if err := a.Order.checkCancel(); err != nil {
		return err
	}
	var open []string
	for _, f := range a.Fulfillments {
		if !f.Completed {
			open = append(open, f.ID)
		}
	}
	for _, id := range open {
		if err := a.DeleteFulfillment(id, now); err != nil {
			return err
		}
	}
	if err := a.Order.Cancel(now); err != nil {
		return err
	}
	a.orderDirty = true
	return nil
}

func (a *Aggregate) Reinstate(now time.Time) error {
	if err := a.Order.Reinstate(now); err != nil {
		return err
	}
	a.orderDirty = true
	return nil
}

func (a *Aggregate) View() OrderView {
	v := OrderView{Order: a.Order, Lines: a.Lines, Fulfillments: make([]FulfillmentView, 0, len(a.Fulfillments))}
	for _, f := range a.Fulfillments {
		v.Fulfillments = append(v.Fulfillments, FulfillmentView{Fulfillment: f, Lines: a.LinesOf(f.ID)})
	}
	return v
}

// Save writes back touched rows and reports them.
func (a *Aggregate) Save(ctx context.Context, st Store) (Result, error) {
	if a.orderDirty {
		saved, err := st.Orders().SaveAll(ctx, []Order{a.Order})
		if err != nil {
			return Result{}, err
		}
		a.Order = saved[0]
	}
	res := Result{Order: a.Order, Lines: []OrderLine{}}

	var lines []OrderLine
	for _, l := range a.Lines {
		if a.dirtyLines.has(l.ID) {
			lines = append(lines, l)
		}
	}
	if len(lines) > 0 {
		saved, err := st.Lines().SaveAll(ctx, lines)
		if err != nil {
			return Result{}, err
		}
		writeBack(a.Lines, saved)
		res.Lines = saved
	}

	var fs []Fulfillment
	for _, f := range a.Fulfillments {
		if a.dirtyFulfillments.has(f.ID) {
			fs = append(fs, f)
		}
	}
	if len(fs) > 0 {
		saved, err := st.Fulfillments().SaveAll(ctx, fs)
		if err != nil {
			return Result{}, err
		}
		writeBack(a.Fulfillments, saved)
	}

	var fls []FulfillmentLine
	for _, fl := range a.FulfillmentLines {
		if a.dirtyFLines.has(fl.ID) {
			fls = append(fls, fl)
		}
	}
	if len(fls) > 0 {
		saved, err := st.FulfillmentLines().SaveAll(ctx, fls)
		if err != nil {
			return Result{}, err
		}
		writeBack(a.FulfillmentLines, saved)
		res.FulfillmentLines = saved
	}

	if len(a.deletedFLines) > 0 {
		if err := st.FulfillmentLines().DeleteAll(ctx, a.deletedFLines); err != nil {
			return Result{}, err
		}
		res.DeletedFulfillmentLineIDs = a.deletedFLines
	}
	if len(a.deletedFulfillments) > 0 {
		if err := st.Fulfillments().DeleteAll(ctx, a.deletedFulfillments); err != nil {
			return Result{}, err
		}
		res.DeletedFulfillmentIDs = a.deletedFulfillments
	}

	if a.focus != "" {
		if f, err := a.fulfillment(a.focus); err == nil {
			cp := *f
			res.Fulfillment = &cp
		}
	}
	return res, nil
}

func writeBack[T record[T]](dst []T, saved []T) {
	byID := make(map[string]T, len(saved))
	for _, s := range saved {
		byID[s.key()] = s
	}
	for i := range dst {
		if s, ok := byID[dst[i].key()]; ok {
			dst[i] = s
		}
	}
}
