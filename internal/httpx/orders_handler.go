package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, cs redisx.CachedStatus) error
}

// ResponseStore replays responses of requests that carried an
// idempotency key.
type ResponseStore interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Remember(ctx context.Context, key string, body []byte) error
}

// OrdersHandler exposes orders.Service over HTTP. Cache and Responses are
// optional; without them every read goes to the store and retries are not
// replayed.
type OrdersHandler struct {
	Service   *orders.Service
	Cache     StatusCache
	Responses ResponseStore
	Log       *logger.Logger
}

type createFulfillmentReq struct {
	Lines          []orders.LineInput `json:"lines"`
	TrackingNumber *string            `json:"tracking_number"`
}

type linesReq struct {
	Lines []orders.LineInput `json:"lines"`
}

type deleteLinesReq struct {
	IDs []string `json:"ids"`
}

type trackingReq struct {
	TrackingNumber *string `json:"tracking_number"`
}

type clearProductResp struct {
	ProductID    string `json:"product_id"`
	LinesCleared int    `json:"lines_cleared"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/checkouts", h.createCheckout)
	r.Post("/checkouts/{id}/complete", h.completeCheckout)

	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Get("/status", h.getOrderStatus)
		r.Post("/confirm", h.transition(h.Service.ConfirmOrder))
		r.Post("/fulfill", h.transition(h.Service.FulfillOrder))
		r.Post("/undo-fulfill", h.transition(h.Service.UndoFulfillOrder))
		r.Post("/cancel", h.transition(h.Service.CancelOrder))
		r.Post("/reinstate", h.transition(h.Service.ReinstateOrder))
		r.Post("/fulfillments", h.createFulfillment)
	})

	r.Route("/fulfillments/{id}", func(r chi.Router) {
		r.Delete("/", h.deleteFulfillment)
		r.Post("/lines", h.addLines)
		r.Patch("/lines", h.updateLines)
		r.Post("/lines/delete", h.deleteLines)
		r.Post("/complete", h.completeFulfillment)
		r.Put("/tracking", h.setTracking)
	})

	r.Post("/internal/products/{id}/deleted", h.productDeleted)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: invalid json: %v", orders.ErrInvalidInput, err)
	}
	return nil
}

func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, err)
}

// refreshCache writes the order's new status through to the cache. The
// projector does the same from events; whichever is older loses.
func (h *OrdersHandler) refreshCache(ctx context.Context, o orders.Order) {
	if h.Cache == nil || o.ID == "" {
		return
	}
	err := h.Cache.Put(ctx, redisx.CachedStatus{OrderID: o.ID, Status: string(o.Status), Version: o.Version, AsOf: o.UpdatedAt})
	if err != nil {
		h.Log.Warn("status cache write", "order_id", o.ID, "err", err)
	}
}

func (h *OrdersHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req orders.Checkout
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Service.CreateCheckout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *OrdersHandler) completeCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkoutID := chi.URLParam(r, "id")
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idem == "" {
		idem = checkoutID
	}
	key := fmt.Sprintf(redisx.KeyIdemCheckoutComplete, idem)

	if h.Responses != nil {
		if body, ok, err := h.Responses.Lookup(ctx, key); err != nil {
			h.Log.Warn("idempotency lookup", "key", key, "err", err)
		} else if ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
			return
		}
	}

	res, err := h.Service.CompleteCheckout(ctx, checkoutID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.refreshCache(ctx, res.Order)
	body, err := json.Marshal(res)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.Responses != nil {
		if err := h.Responses.Remember(ctx, key, body); err != nil {
			h.Log.Warn("idempotency store", "key", key, "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	if h.Cache != nil {
		cs, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			h.Log.Warn("status cache read", "order_id", orderID, "err", err)
		} else if ok {
			writeJSON(w, http.StatusOK, cs)
			return
		}
	}

	view, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.refreshCache(ctx, view.Order)
	writeJSON(w, http.StatusOK, redisx.CachedStatus{
		OrderID: view.Order.ID,
		Status:  string(view.Order.Status),
		Version: view.Order.Version,
		AsOf:    view.Order.UpdatedAt,
	})
}

func (h *OrdersHandler) transition(op func(context.Context, string) (orders.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := op(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.refreshCache(r.Context(), res.Order)
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *OrdersHandler) createFulfillment(w http.ResponseWriter, r *http.Request) {
	var req createFulfillmentReq
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.CreateFulfillment(r.Context(), chi.URLParam(r, "id"), req.Lines, req.TrackingNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.refreshCache(r.Context(), res.Order)
	writeJSON(w, http.StatusCreated, res)
}

func (h *OrdersHandler) addLines(w http.ResponseWriter, r *http.Request) {
	var req linesReq
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.Service.AddFulfillmentLines(r.Context(), chi.URLParam(r, "id"), req.Lines))
}

func (h *OrdersHandler) updateLines(w http.ResponseWriter, r *http.Request) {
	var req linesReq
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.Service.UpdateFulfillmentLines(r.Context(), chi.URLParam(r, "id"), req.Lines))
}

func (h *OrdersHandler) deleteLines(w http.ResponseWriter, r *http.Request) {
	var req deleteLinesReq
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.Service.DeleteFulfillmentLines(r.Context(), chi.URLParam(r, "id"), req.IDs))
}

func (h *OrdersHandler) completeFulfillment(w http.ResponseWriter, r *http.Request) {
	var req trackingReq
	if err := decode(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.Service.CompleteFulfillment(r.Context(), chi.URLParam(r, "id"), req.TrackingNumber))
}

func (h *OrdersHandler) setTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingReq
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	var tracking string
	if req.TrackingNumber != nil {
		tracking = *req.TrackingNumber
	}
	h.respond(w, r)(h.Service.SetTrackingNumber(r.Context(), chi.URLParam(r, "id"), tracking))
}

func (h *OrdersHandler) deleteFulfillment(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.Service.DeleteFulfillment(r.Context(), chi.URLParam(r, "id")))
}

func (h *OrdersHandler) productDeleted(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	n, err := h.Service.ClearDeletedProduct(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clearProductResp{ProductID: productID, LinesCleared: n})
}

// respond returns a sink for a (Result, error) pair from a fulfillment
// operation.
func (h *OrdersHandler) respond(w http.ResponseWriter, r *http.Request) func(orders.Result, error) {
	return func(res orders.Result, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.refreshCache(r.Context(), res.Order)
		writeJSON(w, http.StatusOK, res)
	}
}
