package ordering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

type CreateOrderRequest struct {
	ExternalID      string               `json:"external_id,omitempty"`
	CustomerID      string               `json:"customer_id"`
	ShippingAddress string               `json:"shipping_address,omitempty"`
	Lines           []orders.LineRequest `json:"items"`
}

// Assembler turns a request into a persisted Pending order with a live
// reservation. Nothing is observable unless reserve, price and persist all
// succeed.
type Assembler struct {
	log       *zap.Logger
	ledger    Ledger
	prices    PriceSource
	customers CustomerDirectory
	store     Store
	pub       Publisher

	maxItems          int
	lowStockThreshold int
	now               func() time.Time
	newID             func() string
}

func (a *Assembler) CreateOrder(ctx context.Context, req CreateOrderRequest) (orders.Order, error) {
	if err := a.validate(req); err != nil {
		return orders.Order{}, err
	}

	ok, err := a.customers.Exists(ctx, req.CustomerID)
	if err != nil {
		return orders.Order{}, fmt.Errorf("customer lookup: %w", err)
	}
	if !ok {
		return orders.Order{}, orders.InvalidRequestf("customer %s not found", req.CustomerID)
	}
	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" {
		if address, err = a.customers.DefaultShippingAddress(ctx, req.CustomerID); err != nil {
			return orders.Order{}, fmt.Errorf("default shipping address: %w", err)
		}
	}

	res, err := a.ledger.ReserveBatch(ctx, req.Lines)
	if err != nil {
		return orders.Order{}, err
	}

	lines, err := a.price(ctx, req.Lines)
	if err != nil {
		return orders.Order{}, a.unwind(ctx, res, fmt.Errorf("pricing: %w", err))
	}

	now := a.now().UTC()
	o := orders.Order{
		ID:              a.newID(),
		ExternalID:      req.ExternalID,
		CustomerID:      req.CustomerID,
		Lines:           lines,
		Status:          orders.StatusPending,
		TotalAmount:     orders.SumLines(lines),
		ShippingAddress: address,
		Reservation:     &res,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.Save(ctx, o); err != nil {
		return orders.Order{}, a.unwind(ctx, res, fmt.Errorf("save order: %w", err))
	}

	a.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.String("reservation_id", res.ID),
		zap.Int("items", o.ItemCount()),
		zap.String("total", o.TotalAmount.StringFixed(2)))

	a.pub.OrderCreated(ctx, o.Clone())
	a.announceLowStock(ctx, res)
	return o.Clone(), nil
}

func (a *Assembler) validate(req CreateOrderRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return orders.InvalidRequestf("customer id is required")
	}
	if len(req.Lines) == 0 {
		return orders.InvalidRequestf("order must contain at least one item")
	}
	total := 0
	for _, l := range req.Lines {
		if l.ProductID == "" {
			return orders.InvalidRequestf("item without product id")
		}
		if l.Qty <= 0 {
			return orders.InvalidRequestf("quantity for product %s must be positive, got %d", l.ProductID, l.Qty)
		}
		total += l.Qty
	}
	if a.maxItems > 0 && total > a.maxItems {
		return orders.InvalidRequestf("order exceeds maximum item limit of %d", a.maxItems)
	}
	return nil
}

// price snapshots the unit price of every line in submission order.
func (a *Assembler) price(ctx context.Context, reqs []orders.LineRequest) ([]orders.OrderLine, error) {
	lines := make([]orders.OrderLine, 0, len(reqs))
	for _, r := range reqs {
		p, err := a.prices.Get(ctx, r.ProductID)
		if err != nil {
			return nil, err
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("product %s has negative price %s", p.ID, p.Price)
		}
		lines = append(lines, orders.OrderLine{ProductID: r.ProductID, Qty: r.Qty, UnitPrice: p.Price})
	}
	return lines, nil
}

// unwind gives the reservation back before surfacing cause.
func (a *Assembler) unwind(ctx context.Context, res orders.Reservation, cause error) error {
	// the caller's context may be the reason we are unwinding
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.ledger.Release(relCtx, res); err != nil {
		a.log.Error("release after failed create",
			zap.String("reservation_id", res.ID), zap.NamedError("cause", cause), zap.Error(err))
		return errors.Join(cause, err)
	}
	a.log.Warn("order create unwound", zap.String("reservation_id", res.ID), zap.Error(cause))
	return cause
}

func (a *Assembler) announceLowStock(ctx context.Context, res orders.Reservation) {
	if a.lowStockThreshold < 0 {
		return
	}
	for _, l := range res.Lines {
		n, err := a.ledger.CurrentStock(l.ProductID)
		if err != nil {
			continue
		}
		// only the reservation that crossed the threshold reports it
		if n <= a.lowStockThreshold && n+l.Qty > a.lowStockThreshold {
			a.pub.StockLow(ctx, l.ProductID, n, a.lowStockThreshold)
		}
	}
}

func newOrderID() string { return uuid.NewString() }
