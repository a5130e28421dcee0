package httpx

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-flower-orders/internal/logging"
	"github.com/ariefcatur/go-flower-orders/internal/orders"
	"github.com/ariefcatur/go-flower-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"strings"
	"time"
)

// Idempotency keys are scoped to the order they create an item for.
type Idempotency interface {
	Reserve(ctx context.Context, orderID, key string) (itemID string, reserved bool, err error)
	Complete(ctx context.Context, orderID, key, itemID string) error
	Release(ctx context.Context, orderID, key string) error
}

// StatusCache.Set must keep whichever entry has the later updatedAt, so a
// fill from a slow read never replaces a newer write. Invalidate leaves a
// tombstone that no Set overrides.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (status string, updatedAt time.Time, ok bool, err error)
	Set(ctx context.Context, orderID, status string, updatedAt time.Time) error
	Invalidate(ctx context.Context, orderID string) error
}

type StockView interface {
	Stock(ctx context.Context, flowerID string) (remaining int, at time.Time, ok bool, err error)
}

// OrdersHandler exposes the order service over HTTP. Idem, Status and Stock
// are optional; without them the matching feature is simply off.
type OrdersHandler struct {
	Service *orders.Service
	Idem    Idempotency
	Status  StatusCache
	Stock   StockView
}

const headerIdempotencyKey = "Idempotency-Key"

type createItemReq struct {
	FlowerID string `json:"flower_id"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type statusReq struct {
	Status orders.Status `json:"status"`
}

type statusResp struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Cached    bool      `json:"cached"`
}

type stockResp struct {
	FlowerID  string     `json:"flower_id"`
	Name      string     `json:"name"`
	Stock     int        `json:"stock"`
	Projected *projected `json:"projected,omitempty"`
}

type projected struct {
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}", h.patchOrder)
		r.Delete("/{id}", h.deleteOrder)
		r.Get("/{id}/status", h.getStatus)
		r.Put("/{id}/status", h.putStatus)
		r.Post("/{id}/items", h.createItem)
		r.Get("/{id}/items", h.listItems)
	})
	r.Route("/order-items/{id}", func(r chi.Router) {
		r.Get("/", h.getItem)
		r.Patch("/", h.patchItem)
		r.Delete("/", h.deleteItem)
	})
	r.Route("/flowers", func(r chi.Router) {
		r.Post("/", h.createFlower)
		r.Get("/", h.listFlowers)
		r.Patch("/{id}", h.patchFlower)
		r.Get("/{id}/stock", h.flowerStock)
	})
}

// ---- orders ----

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.NewOrder
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Service.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListOrders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) patchOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p orders.OrderPatch
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Service.UpdateOrder(r.Context(), id, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.Service.DeleteOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.invalidateStatus(r.Context(), id)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) putStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req statusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status == "" {
		writeError(w, r, &orders.Error{Kind: orders.KindValidation, Op: "update_order_status", Msg: "status is required"})
		return
	}
	o, err := h.Service.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, o)
}

// getStatus serves from the status cache and falls back to the store. Cache
// errors only cost the fast path.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	log := logging.FromContext(ctx)

	if h.Status != nil {
		status, at, ok, err := h.Status.Get(ctx, id)
		if err != nil {
			log.Warn("status_cache_get", zap.String("order_id", id), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, statusResp{OrderID: id, Status: status, UpdatedAt: at, Cached: true})
			return
		}
	}

	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusResp{OrderID: id, Status: string(o.Status), UpdatedAt: o.UpdatedAt})
}

// cacheStatus writes through after every read or write of an order. The
// cache orders entries by UpdatedAt, so racing writers settle on the newest.
func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Set(context.WithoutCancel(ctx), o.ID, string(o.Status), o.UpdatedAt); err != nil {
		logging.FromContext(ctx).Warn("status_cache_set", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *OrdersHandler) invalidateStatus(ctx context.Context, id string) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Invalidate(context.WithoutCancel(ctx), id); err != nil {
		logging.FromContext(ctx).Warn("status_cache_invalidate", zap.String("order_id", id), zap.Error(err))
	}
}

// ---- order items ----

func (h *OrdersHandler) createItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")
	var req createItemReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in := orders.NewOrderItem{OrderID: orderID, FlowerID: req.FlowerID, Quantity: req.Quantity, Price: req.Price}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" || h.Idem == nil {
		it, err := h.Service.CreateOrderItem(ctx, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, it)
		return
	}

	log := logging.FromContext(ctx).With(zap.String("idempotency_key", key))
	itemID, reserved, err := h.Idem.Reserve(ctx, orderID, key)
	switch {
	case errors.Is(err, redisx.ErrInFlight):
		writeJSON(w, http.StatusConflict, errorBody{Error: "idempotency_conflict", Message: "a request with this Idempotency-Key is in progress"})
		return
	case err != nil:
		writeError(w, r, &orders.Error{Kind: orders.KindTransient, Op: "idempotency", Err: err})
		return
	case !reserved:
		it, err := h.Service.GetOrderItem(ctx, itemID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		log.Info("idempotent_replay", zap.String("order_item_id", it.ID))
		writeJSON(w, http.StatusOK, it)
		return
	}

	it, err := h.Service.CreateOrderItem(ctx, in)
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if rerr := h.Idem.Release(bg, orderID, key); rerr != nil {
			log.Warn("idempotency_release", zap.Error(rerr))
		}
		writeError(w, r, err)
		return
	}
	if cerr := h.Idem.Complete(bg, orderID, key, it.ID); cerr != nil {
		log.Warn("idempotency_complete", zap.String("order_item_id", it.ID), zap.Error(cerr))
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *OrdersHandler) listItems(w http.ResponseWriter, r *http.Request) {
	its, err := h.Service.ListOrderItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, its)
}

func (h *OrdersHandler) getItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Service.GetOrderItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *OrdersHandler) patchItem(w http.ResponseWriter, r *http.Request) {
	var p orders.OrderItemPatch
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	it, err := h.Service.UpdateOrderItem(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *OrdersHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Service.DeleteOrderItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// ---- flowers ----

func (h *OrdersHandler) createFlower(w http.ResponseWriter, r *http.Request) {
	var in orders.NewFlower
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := h.Service.CreateFlower(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *OrdersHandler) listFlowers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListFlowers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) patchFlower(w http.ResponseWriter, r *http.Request) {
	var p orders.FlowerPatch
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := h.Service.UpdateFlower(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *OrdersHandler) flowerStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	f, err := h.Service.FlowerStock(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := stockResp{FlowerID: f.ID, Name: f.Name, Stock: f.Stock}
	if h.Stock != nil {
		remaining, at, ok, err := h.Stock.Stock(ctx, id)
		switch {
		case err != nil:
			logging.FromContext(ctx).Warn("stock_cache_get", zap.String("flower_id", id), zap.Error(err))
		case ok:
			resp.Projected = &projected{Remaining: remaining, At: at}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
