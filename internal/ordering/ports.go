package ordering

import (
	"context"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

type Store interface {
	Save(ctx context.Context, o orders.Order) error
	Load(ctx context.Context, id string) (orders.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
}

type CustomerDirectory interface {
	Exists(ctx context.Context, customerID string) (bool, error)
	DefaultShippingAddress(ctx context.Context, customerID string) (string, error)
}

// PriceSource is the pricing snapshot: the catalog's current view of a product.
type PriceSource interface {
	Get(ctx context.Context, productID string) (orders.Product, error)
}

type Ledger interface {
	ReserveBatch(ctx context.Context, reqs []orders.LineRequest) (orders.Reservation, error)
	Release(ctx context.Context, res orders.Reservation) error
	Commit(ctx context.Context, res orders.Reservation) error
	Receive(ctx context.Context, productID string, qty int) (int, error)
	CurrentStock(productID string) (int, error)
	LowStock(threshold int) []inventory.StockLevel
}

// Publisher announces committed changes. Calls must not block on the broker
// and never fail the operation that triggered them.
type Publisher interface {
	OrderCreated(ctx context.Context, o orders.Order)
	StatusChanged(ctx context.Context, o orders.Order, from orders.Status)
	StockLow(ctx context.Context, productID string, available, threshold int)
}

type nopPublisher struct{}

func (nopPublisher) OrderCreated(context.Context, orders.Order)                 {}
func (nopPublisher) StatusChanged(context.Context, orders.Order, orders.Status) {}
func (nopPublisher) StockLow(context.Context, string, int, int)                 {}
