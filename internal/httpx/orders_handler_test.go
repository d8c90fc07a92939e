package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

type memCache struct{ rows map[string]redisx.CachedStatus }

func (c *memCache) Get(_ context.Context, id string) (redisx.CachedStatus, bool, error) {
	cs, ok := c.rows[id]
	return cs, ok, nil
}

func (c *memCache) Put(_ context.Context, cs redisx.CachedStatus) error {
	if cur, ok := c.rows[cs.OrderID]; ok && cur.Version > cs.Version {
		return nil
	}
	c.rows[cs.OrderID] = cs
	return nil
}

type memResponses struct{ rows map[string][]byte }

func (r *memResponses) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := r.rows[key]
	return b, ok, nil
}

func (r *memResponses) Remember(_ context.Context, key string, body []byte) error {
	r.rows[key] = body
	return nil
}

type testServer struct {
	h     http.Handler
	cache *memCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc, err := orders.NewService(orders.ServiceDeps{
		UnitOfWork: orders.NewMemStore(),
		Payments:   payments.StaticGateway{},
	})
	require.NoError(t, err)
	cache := &memCache{rows: map[string]redisx.CachedStatus{}}
	h := &OrdersHandler{
		Service:   svc,
		Cache:     cache,
		Responses: &memResponses{rows: map[string][]byte{}},
		Log:       logger.Nop(),
	}
	r := NewRouter(logger.Nop(), 0)
	h.Register(r)
	return &testServer{h: r, cache: cache}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (s *testServer) placeOrder(t *testing.T) orders.Result {
	t.Helper()
	var c orders.Checkout
	rec := s.do(t, http.MethodPost, "/checkouts", map[string]any{
		"customer_id": "cust-1",
		"currency":    "usd",
		"lines": []map[string]any{
			{"product_id": "mug", "name": "Mug", "unit_price_cents": 900, "quantity": 2, "shipping_required": true},
		},
	}, &c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res orders.Result
	rec = s.do(t, http.MethodPost, "/checkouts/"+c.ID+"/complete", nil, &res)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return res
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Code
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompleteCheckoutReplays(t *testing.T) {
	s := newTestServer(t)
	var c orders.Checkout
	rec := s.do(t, http.MethodPost, "/checkouts", map[string]any{
		"customer_id": "cust-1",
		"currency":    "usd",
		"lines":       []map[string]any{{"product_id": "mug", "quantity": 1, "unit_price_cents": 900}},
	}, &c)
	require.Equal(t, http.StatusCreated, rec.Code)

	var first, second orders.Result
	rec = s.do(t, http.MethodPost, "/checkouts/"+c.ID+"/complete", nil, &first)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/checkouts/"+c.ID+"/complete", nil, &second)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Order.ID, second.Order.ID)

	cached, ok := s.cache.rows[first.Order.ID]
	require.True(t, ok)
	assert.Equal(t, "CREATED", cached.Status)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	order := s.placeOrder(t)
	oid := order.Order.ID
	lid := order.Lines[0].ID

	rec := s.do(t, http.MethodPost, "/orders/"+oid+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var f orders.Result
	rec = s.do(t, http.MethodPost, "/orders/"+oid+"/fulfillments", createFulfillmentReq{
		Lines: []orders.LineInput{{ID: lid, Quantity: 2}},
	}, &f)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fid := f.Fulfillment.ID

	rec = s.do(t, http.MethodPost, "/orders/"+oid+"/fulfillments", createFulfillmentReq{
		Lines: []orders.LineInput{{ID: lid, Quantity: 1}},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_assignable_quantity", errorCode(t, rec))

	tn := "TRACK-1"
	rec = s.do(t, http.MethodPut, "/fulfillments/"+fid+"/tracking", trackingReq{TrackingNumber: &tn}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var done orders.Result
	rec = s.do(t, http.MethodPost, "/fulfillments/"+fid+"/complete", nil, &done)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusPartiallyFulfilled, done.Order.Status)

	rec = s.do(t, http.MethodPost, "/fulfillments/"+fid+"/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "fulfillment_completed", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/orders/"+oid+"/fulfill", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var st redisx.CachedStatus
	rec = s.do(t, http.MethodGet, "/orders/"+oid+"/status", nil, &st)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FULFILLED", st.Status)

	var view orders.OrderView
	rec = s.do(t, http.MethodGet, "/orders/"+oid, nil, &view)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, view.Fulfillments, 1)
	assert.Equal(t, "TRACK-1", *view.Fulfillments[0].TrackingNumber)
}

func TestFulfillmentLineEndpoints(t *testing.T) {
	s := newTestServer(t)
	order := s.placeOrder(t)
	oid := order.Order.ID
	lid := order.Lines[0].ID

	var f orders.Result
	rec := s.do(t, http.MethodPost, "/orders/"+oid+"/fulfillments", createFulfillmentReq{
		Lines: []orders.LineInput{{ID: lid, Quantity: 1}},
	}, &f)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fid := f.Fulfillment.ID
	flID := f.FulfillmentLines[0].ID

	var res orders.Result
	rec = s.do(t, http.MethodPost, "/fulfillments/"+fid+"/lines", linesReq{Lines: []orders.LineInput{{ID: lid, Quantity: 1}}}, &res)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, res.FulfillmentLines[0].Quantity)

	rec = s.do(t, http.MethodPatch, "/fulfillments/"+fid+"/lines", linesReq{Lines: []orders.LineInput{{ID: flID, Quantity: 1}}}, &res)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, res.Lines[0].ReservedQuantity)

	rec = s.do(t, http.MethodPost, "/fulfillments/"+fid+"/lines/delete", deleteLinesReq{IDs: []string{flID, "nope"}}, &res)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{flID}, res.DeletedFulfillmentLineIDs)

	rec = s.do(t, http.MethodDelete, "/fulfillments/"+fid, nil, &res)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodDelete, "/fulfillments/"+fid, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelReinstateOverHTTP(t *testing.T) {
	s := newTestServer(t)
	order := s.placeOrder(t)
	oid := order.Order.ID

	var res orders.Result
	rec := s.do(t, http.MethodPost, "/orders/"+oid+"/cancel", nil, &res)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCancelled, res.Order.Status)

	rec = s.do(t, http.MethodPost, "/orders/"+oid+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders/"+oid+"/reinstate", nil, &res)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCreated, res.Order.Status)
	assert.Equal(t, "CREATED", s.cache.rows[oid].Status)
}

func TestRequestErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/orders/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/checkouts", bytes.NewBufferString("{bad"))
	bad := httptest.NewRecorder()
	s.h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec = s.do(t, http.MethodPost, "/checkouts/none/complete", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductDeleted(t *testing.T) {
	s := newTestServer(t)
	s.placeOrder(t)

	var out clearProductResp
	rec := s.do(t, http.MethodPost, "/internal/products/mug/deleted", nil, &out)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, out.LinesCleared)
}

func TestStatusForUnknownError(t *testing.T) {
	status, code := statusFor(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", code)

	status, _ = statusFor(orders.ErrPaymentFailed)
	assert.Equal(t, http.StatusPaymentRequired, status)
}
