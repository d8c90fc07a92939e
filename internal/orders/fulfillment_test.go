package orders

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestAggregate(status Status, lines ...OrderLine) *Aggregate {
	for i := range lines {
		lines[i].OrderID = "o1"
		if lines[i].ID == "" {
			lines[i].ID = fmt.Sprintf("l%d", i+1)
		}
	}
	return &Aggregate{Order: Order{ID: "o1", Status: status}, Lines: lines}
}

func merged(t *testing.T, in ...LineInput) MergedLines {
	t.Helper()
	m, err := MergeLines(in)
	require.NoError(t, err)
	return m
}

func shippable(qty int) OrderLine {
	return OrderLine{Quantity: qty, ShippingRequired: true}
}

func TestAddLineRejects(t *testing.T) {
	f := Fulfillment{ID: "f1", OrderID: "o1"}
	line := OrderLine{ID: "l1", OrderID: "o1", Quantity: 3}

	_, err := AddLine(f, &line, "fl1", 1)
	require.ErrorIs(t, err, ErrShippingNotRequired)

	line.ShippingRequired = true
	other := line
	other.OrderID = "o2"
	_, err = AddLine(f, &other, "fl1", 1)
	require.ErrorIs(t, err, ErrOrderMismatch)

	_, err = AddLine(f, &line, "fl1", 0)
	require.ErrorIs(t, err, ErrNonPositiveQuantity)

	f.Completed = true
	_, err = AddLine(f, &line, "fl1", 1)
	require.ErrorIs(t, err, ErrFulfillmentCompleted)
	assert.Zero(t, line.ReservedQuantity)
}

// Scenario A: reserve 2 of 3, then ship them.
func TestCreateAndCompleteFulfillment(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3))
	f, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Sequence)

	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 2}), seqIDs("fl"), testNow))
	assert.Equal(t, 2, a.Lines[0].ReservedQuantity)
	assert.Equal(t, 1, a.Lines[0].Assignable())

	require.NoError(t, a.CompleteFulfillment("f1", nil, testNow))
	assert.Equal(t, 2, a.Lines[0].FulfilledQuantity)
	assert.Equal(t, 0, a.Lines[0].ReservedQuantity)
	assert.Equal(t, StatusPartiallyFulfilled, a.Order.Status)
	assert.True(t, a.Fulfillments[0].Completed)
	require.NotNil(t, a.Fulfillments[0].CompletedAt)
	ledgerHolds(t, a.Lines[0])
}

// Scenario B: a second fulfillment cannot take more than what is left.
func TestAddLinesInsufficientAssignable(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3))
	ids := seqIDs("fl")
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 2}), ids, testNow))

	f2, err := a.OpenFulfillment("f2", testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, f2.Sequence)
	err = a.AddLines("f2", merged(t, LineInput{ID: "l1", Quantity: 2}), ids, testNow)
	require.ErrorIs(t, err, ErrInsufficientAssignableQuantity)
	assert.Equal(t, 2, a.Lines[0].ReservedQuantity)
}

// Scenario C: completing twice fails.
func TestCompleteTwice(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(1))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), seqIDs("fl"), testNow))
	require.NoError(t, a.CompleteFulfillment("f1", nil, testNow))

	err = a.CompleteFulfillment("f1", nil, testNow)
	require.ErrorIs(t, err, ErrFulfillmentCompleted)
	assert.Equal(t, 1, a.Lines[0].FulfilledQuantity)
}

// Scenario E: shrinking an allocation frees capacity for another reservation.
func TestSetLineQuantityFreesCapacity(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(2))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 2}), seqIDs("fl"), testNow))

	spare := a.Lines[0]
	require.ErrorIs(t, spare.Reserve(1), ErrInsufficientAssignableQuantity)

	require.NoError(t, a.SetLineQuantities("f1", merged(t, LineInput{ID: "fl1", Quantity: 1}), testNow))
	assert.Equal(t, 1, a.FulfillmentLines[0].Quantity)
	assert.Equal(t, 1, a.Lines[0].Assignable())

	spare = a.Lines[0]
	require.NoError(t, spare.Reserve(1))
}

func TestSetLineQuantitiesGrowAndForeign(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3))
	ids := seqIDs("fl")
	for _, fid := range []string{"f1", "f2"} {
		_, err := a.OpenFulfillment(fid, testNow)
		require.NoError(t, err)
		require.NoError(t, a.AddLines(fid, merged(t, LineInput{ID: "l1", Quantity: 1}), ids, testNow))
	}

	require.ErrorIs(t, a.SetLineQuantities("f1", merged(t, LineInput{ID: "fl2", Quantity: 1}), testNow), ErrLineNotInFulfillment)
	require.ErrorIs(t, a.SetLineQuantities("f1", merged(t, LineInput{ID: "fl1", Quantity: 3}), testNow), ErrInsufficientAssignableQuantity)
	require.NoError(t, a.SetLineQuantities("f1", merged(t, LineInput{ID: "fl1", Quantity: 2}), testNow))
	assert.Equal(t, 3, a.Lines[0].ReservedQuantity)
}

func TestAddLinesGrowsExistingAllocation(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3))
	ids := seqIDs("fl")
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), ids, testNow))
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), ids, testNow))

	require.Len(t, a.FulfillmentLines, 1)
	assert.Equal(t, 2, a.FulfillmentLines[0].Quantity)
	assert.Equal(t, 2, a.Lines[0].ReservedQuantity)
}

func TestAddLinesUnknownLine(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	err = a.AddLines("f1", merged(t, LineInput{ID: "nope", Quantity: 1}), seqIDs("fl"), testNow)
	require.ErrorIs(t, err, ErrLineNotInOrder)
}

func TestRemoveLinesSkipsUnknown(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3), shippable(2))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t,
		LineInput{ID: "l1", Quantity: 2},
		LineInput{ID: "l2", Quantity: 1},
	), seqIDs("fl"), testNow))

	require.NoError(t, a.RemoveLines("f1", []string{"fl1", "missing"}, testNow))
	assert.Equal(t, 0, a.Lines[0].ReservedQuantity)
	assert.Equal(t, 1, a.Lines[1].ReservedQuantity)
	require.Len(t, a.FulfillmentLines, 1)
	assert.Equal(t, []string{"fl1"}, a.deletedFLines)

	require.NoError(t, a.RemoveLines("f1", []string{"fl1"}, testNow))
	assert.Equal(t, []string{"fl1"}, a.deletedFLines)
}

func TestRemoveLinesFromCompleted(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(1))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), seqIDs("fl"), testNow))
	require.NoError(t, a.CompleteFulfillment("f1", nil, testNow))

	require.ErrorIs(t, a.RemoveLines("f1", []string{"fl1"}, testNow), ErrFulfillmentCompleted)
	require.ErrorIs(t, a.DeleteFulfillment("f1", testNow), ErrFulfillmentCompleted)
	require.ErrorIs(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), seqIDs("x"), testNow), ErrFulfillmentCompleted)
}

func TestEmptyEditOfCompletedFulfillment(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(1))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), seqIDs("fl"), testNow))
	require.NoError(t, a.CompleteFulfillment("f1", nil, testNow))

	later := testNow.Add(time.Hour)
	require.ErrorIs(t, a.AddLines("f1", merged(t), seqIDs("x"), later), ErrFulfillmentCompleted)
	require.ErrorIs(t, a.SetLineQuantities("f1", merged(t), later), ErrFulfillmentCompleted)
	assert.Equal(t, testNow, a.Fulfillments[0].UpdatedAt)
}

func TestRemoveLinesLeavesSiblingFulfillment(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3))
	ids := seqIDs("fl")
	for _, fid := range []string{"f1", "f2"} {
		_, err := a.OpenFulfillment(fid, testNow)
		require.NoError(t, err)
	}
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), ids, testNow))
	require.NoError(t, a.AddLines("f2", merged(t, LineInput{ID: "l1", Quantity: 2}), ids, testNow))

	require.NoError(t, a.RemoveLines("f1", []string{"fl2"}, testNow))
	assert.Empty(t, a.deletedFLines)
	assert.Len(t, a.LinesOf("f2"), 1)
	assert.Equal(t, 3, a.Lines[0].ReservedQuantity)
	ledgerHolds(t, a.Lines[0])
}

func TestCompleteNeedsProcessableOrder(t *testing.T) {
	a := newTestAggregate(StatusCreated, shippable(1))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), seqIDs("fl"), testNow))

	require.ErrorIs(t, a.CompleteFulfillment("f1", nil, testNow), ErrOrderNotProcessable)
	assert.Equal(t, 0, a.Lines[0].FulfilledQuantity)
}

func TestDeleteFulfillmentReleases(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(3))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 3}), seqIDs("fl"), testNow))

	require.NoError(t, a.DeleteFulfillment("f1", testNow))
	assert.Equal(t, 0, a.Lines[0].ReservedQuantity)
	assert.Empty(t, a.Fulfillments)
	assert.Empty(t, a.FulfillmentLines)
	assert.Equal(t, []string{"f1"}, a.deletedFulfillments)

	require.ErrorIs(t, a.DeleteFulfillment("f1", testNow), ErrNotFound)
}

func TestCancelReleasesOpenFulfillments(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(4))
	ids := seqIDs("fl")
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), ids, testNow))
	require.NoError(t, a.CompleteFulfillment("f1", nil, testNow))
	_, err = a.OpenFulfillment("f2", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f2", merged(t, LineInput{ID: "l1", Quantity: 2}), ids, testNow))

	require.NoError(t, a.Cancel(testNow))
	assert.Equal(t, StatusCancelled, a.Order.Status)
	assert.Equal(t, StatusPartiallyFulfilled, a.Order.PreviousStatus)
	assert.Equal(t, 0, a.Lines[0].ReservedQuantity)
	assert.Equal(t, 1, a.Lines[0].FulfilledQuantity)
	require.Len(t, a.Fulfillments, 1)
	assert.Equal(t, "f1", a.Fulfillments[0].ID)

	_, err = a.OpenFulfillment("f3", testNow)
	require.ErrorIs(t, err, ErrOrderNotProcessable)

	require.NoError(t, a.Reinstate(testNow))
	assert.Equal(t, StatusPartiallyFulfilled, a.Order.Status)
	assert.Equal(t, 0, a.Lines[0].ReservedQuantity)
}

func TestFulfillOrderExplicitStep(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(1))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	require.NoError(t, a.AddLines("f1", merged(t, LineInput{ID: "l1", Quantity: 1}), seqIDs("fl"), testNow))
	require.NoError(t, a.CompleteFulfillment("f1", nil, testNow))
	assert.Equal(t, StatusPartiallyFulfilled, a.Order.Status)

	require.NoError(t, a.Fulfill(testNow))
	assert.Equal(t, StatusFulfilled, a.Order.Status)
	require.ErrorIs(t, a.Cancel(testNow), ErrInvalidTransition)
	require.NoError(t, a.UndoFulfill(testNow))
	assert.Equal(t, StatusPartiallyFulfilled, a.Order.Status)
}

func TestTrackingNumber(t *testing.T) {
	a := newTestAggregate(StatusConfirmed, shippable(1))
	_, err := a.OpenFulfillment("f1", testNow)
	require.NoError(t, err)
	tn := "1Z999"
	require.NoError(t, a.SetTrackingNumber("f1", &tn, testNow))
	require.NotNil(t, a.Fulfillments[0].TrackingNumber)
	assert.Equal(t, "1Z999", *a.Fulfillments[0].TrackingNumber)

	require.NoError(t, a.CompleteFulfillment("f1", nil, testNow))
	assert.Equal(t, "1Z999", *a.Fulfillments[0].TrackingNumber)
	require.NoError(t, a.SetTrackingNumber("f1", nil, testNow))
	assert.Nil(t, a.Fulfillments[0].TrackingNumber)
}
