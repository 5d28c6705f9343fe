// Package ordering assembles orders against the inventory ledger and drives
// them through their status lifecycle.
package ordering

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

const (
	DefaultMaxOrderItems     = 100
	DefaultLowStockThreshold = 5
)

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithMaxOrderItems caps the summed quantity of one order. Zero disables the cap.
func WithMaxOrderItems(n int) Option { return func(s *Service) { s.maxItems = n } }

// WithLowStockThreshold sets when StockLow is announced. Negative disables it.
func WithLowStockThreshold(n int) Option { return func(s *Service) { s.lowStock = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// Service is the outward face of the engine.
type Service struct {
	log    *zap.Logger
	ledger Ledger
	tracer trace.Tracer

	pub      Publisher
	maxItems int
	lowStock int
	now      func() time.Time
	newID    func() string

	assembler *Assembler
	machine   *StateMachine
}

func NewService(log *zap.Logger, ledger Ledger, catalog PriceSource, customers CustomerDirectory, store Store, opts ...Option) *Service {
	s := &Service{
		log:      log,
		ledger:   ledger,
		tracer:   otel.Tracer("github.com/ariefcatur/go-retail-orders/internal/ordering"),
		pub:      nopPublisher{},
		maxItems: DefaultMaxOrderItems,
		lowStock: DefaultLowStockThreshold,
		now:      time.Now,
		newID:    newOrderID,
	}
	for _, o := range opts {
		o(s)
	}
	s.assembler = &Assembler{
		log:               log,
		ledger:            ledger,
		prices:            catalog,
		customers:         customers,
		store:             store,
		pub:               s.pub,
		maxItems:          s.maxItems,
		lowStockThreshold: s.lowStock,
		now:               s.now,
		newID:             s.newID,
	}
	s.machine = &StateMachine{
		log:    log,
		ledger: ledger,
		store:  store,
		pub:    s.pub,
		locks:  newKeyLock(),
		now:    s.now,
	}
	return s
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.CreateOrder", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.Int("order.lines", len(req.Lines)),
	))
	defer span.End()

	o, err := s.assembler.CreateOrder(ctx, req)
	if err != nil {
		fail(span, err)
		return orders.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

// TransitionOrderStatus parses the wire value and applies the transition.
func (s *Service) TransitionOrderStatus(ctx context.Context, orderID, status string) (orders.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.TransitionOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", status),
	))
	defer span.End()

	target, err := orders.ParseStatus(status)
	if err != nil {
		fail(span, err)
		return orders.Order{}, err
	}
	o, err := s.machine.Transition(ctx, orderID, target)
	if err != nil {
		fail(span, err)
		return orders.Order{}, err
	}
	return o, nil
}

func (s *Service) GetStock(_ context.Context, productID string) (int, error) {
	return s.ledger.CurrentStock(productID)
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return s.machine.Get(ctx, orderID)
}

func (s *Service) ListCustomerOrders(ctx context.Context, customerID string) ([]orders.Order, error) {
	if customerID == "" {
		return nil, orders.InvalidRequestf("customer id is required")
	}
	return s.machine.List(ctx, customerID)
}

// LowStock lists products at or below threshold. A negative threshold means
// the configured one.
func (s *Service) LowStock(_ context.Context, threshold int) []inventory.StockLevel {
	if threshold < 0 {
		threshold = s.lowStock
	}
	return s.ledger.LowStock(threshold)
}

func (s *Service) LowStockThreshold() int { return s.lowStock }

func (s *Service) ReceiveStock(ctx context.Context, productID string, qty int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.ReceiveStock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("qty", qty),
	))
	defer span.End()

	n, err := s.ledger.Receive(ctx, productID, qty)
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("receive stock: %w", err)
	}
	s.log.Info("stock received", zap.String("product_id", productID), zap.Int("qty", qty), zap.Int("available", n))
	return n, nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
