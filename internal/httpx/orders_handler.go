package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/ordering"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req ordering.CreateOrderRequest) (orders.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID, status string) (orders.Order, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string) ([]orders.Order, error)
	GetStock(ctx context.Context, productID string) (int, error)
	ReceiveStock(ctx context.Context, productID string, qty int) (int, error)
	LowStock(ctx context.Context, threshold int) []inventory.StockLevel
}

type IdempotencyStore interface {
	Claim(ctx context.Context, externalID string) (string, error)
	Complete(ctx context.Context, externalID, orderID string) error
	Abandon(ctx context.Context, externalID string) error
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	Put(ctx context.Context, orderID, status string, updatedAt time.Time) (bool, error)
}

// OrdersHandler serves the order and stock API. Idempotency and Cache are
// optional; without them every request goes straight to the service.
type OrdersHandler struct {
	Orders      OrderService
	Idempotency IdempotencyStore
	Cache       StatusCache
	Log         *zap.Logger
}

type orderView struct {
	ID              string        `json:"id"`
	ExternalID      string        `json:"external_id,omitempty"`
	CustomerID      string        `json:"customer_id"`
	Status          orders.Status `json:"status"`
	Items           []lineView    `json:"items"`
	TotalAmount     string        `json:"total_amount"`
	ShippingAddress string        `json:"shipping_address"`
	ReservationID   string        `json:"reservation_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Replayed        bool          `json:"replayed,omitempty"`
}

type lineView struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type statusView struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Cached    bool      `json:"cached"`
}

type stockView struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func toView(o orders.Order) orderView {
	v := orderView{
		ID:              o.ID,
		ExternalID:      o.ExternalID,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		Items:           make([]lineView, 0, len(o.Lines)),
		TotalAmount:     o.TotalAmount.StringFixed(2),
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range o.Lines {
		v.Items = append(v.Items, lineView{
			ProductID: l.ProductID,
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal().StringFixed(2),
		})
	}
	if o.Reservation != nil {
		v.ReservationID = o.Reservation.ID
	}
	return v
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Put("/orders/{id}/status", h.putOrderStatus)
	r.Get("/customers/{id}/orders", h.listCustomerOrders)
	r.Get("/products/lowstock", h.lowStock)
	r.Get("/products/{id}/stock", h.getStock)
	r.Post("/products/{id}/stock", h.receiveStock)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return orders.InvalidRequestf("invalid json: %v", err)
	}
	return nil
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req ordering.CreateOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	claimed := false
	if req.ExternalID != "" && h.Idempotency != nil {
		existing, err := h.Idempotency.Claim(ctx, req.ExternalID)
		switch {
		case errors.Is(err, redisx.ErrInProgress):
			writeError(w, h.Log, err)
			return
		case err != nil:
			// the unique external id in the store still rejects duplicates
			h.Log.Warn("idempotency claim failed", zap.String("external_id", req.ExternalID), zap.Error(err))
		case existing != "":
			o, err := h.Orders.GetOrder(ctx, existing)
			if err != nil {
				writeError(w, h.Log, err)
				return
			}
			v := toView(o)
			v.Replayed = true
			writeJSON(w, http.StatusOK, v)
			return
		default:
			claimed = true
		}
	}

	o, err := h.Orders.CreateOrder(ctx, req)
	if err != nil {
		if claimed {
			if aerr := h.Idempotency.Abandon(context.WithoutCancel(ctx), req.ExternalID); aerr != nil {
				h.Log.Warn("idempotency abandon failed", zap.String("external_id", req.ExternalID), zap.Error(aerr))
			}
		}
		writeError(w, h.Log, err)
		return
	}
	if claimed {
		if err := h.Idempotency.Complete(ctx, req.ExternalID, o.ID); err != nil {
			h.Log.Warn("idempotency complete failed", zap.String("external_id", req.ExternalID), zap.Error(err))
		}
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, toView(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(o))
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		e, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			h.Log.Warn("status cache read failed", zap.String("order_id", orderID), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, statusView{OrderID: orderID, Status: e.Status, UpdatedAt: e.UpdatedAt, Cached: true})
			return
		}
	}

	// 2) service
	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusView{OrderID: o.ID, Status: string(o.Status), UpdatedAt: o.UpdatedAt})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) putOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.TransitionOrderStatus(ctx, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, toView(o))
}

func (h *OrdersHandler) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListCustomerOrders(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, toView(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	n, err := h.Orders.GetStock(r.Context(), productID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, stockView{ProductID: productID, Available: n})
}

type receiveRequest struct {
	Qty int `json:"qty"`
}

func (h *OrdersHandler) receiveStock(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	productID := chi.URLParam(r, "id")
	n, err := h.Orders.ReceiveStock(ctx, productID, req.Qty)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, stockView{ProductID: productID, Available: n})
}

func (h *OrdersHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := -1
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, h.Log, orders.InvalidRequestf("threshold must be a non-negative integer"))
			return
		}
		threshold = n
	}
	writeJSON(w, http.StatusOK, h.Orders.LowStock(r.Context(), threshold))
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Cache == nil {
		return
	}
	if _, err := h.Cache.Put(ctx, o.ID, string(o.Status), o.UpdatedAt); err != nil {
		h.Log.Warn("status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
