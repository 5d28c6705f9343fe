package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// LineRequest is one requested (product, quantity) pair as submitted.
type LineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderLine struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Reservation is the handle the ledger issues for a granted hold.
// Lines are merged per product and sorted by product id.
type Reservation struct {
	ID        string        `json:"id"`
	Lines     []LineRequest `json:"lines"`
	CreatedAt time.Time     `json:"created_at"`
}

func (r Reservation) Clone() Reservation {
	r.Lines = append([]LineRequest(nil), r.Lines...)
	return r
}

type Order struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"external_id,omitempty"`
	CustomerID      string          `json:"customer_id"`
	Lines           []OrderLine     `json:"lines"`
	Status          Status          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	Reservation     *Reservation    `json:"reservation,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so stores never share lines or handles with callers.
func (o Order) Clone() Order {
	o.Lines = append([]OrderLine(nil), o.Lines...)
	if o.Reservation != nil {
		r := o.Reservation.Clone()
		o.Reservation = &r
	}
	return o
}

func (o Order) ItemCount() int {
	return CountItems(o.Lines)
}

func CountItems(lines []OrderLine) int {
	n := 0
	for _, l := range lines {
		n += l.Qty
	}
	return n
}

func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// StockMovement is one applied change to a product's stock.
type StockMovement struct {
	ProductID     string
	Delta         int
	ReservationID string
	Reason        string
}

const (
	MovementReserve = "reserve"
	MovementRelease = "release"
	MovementReceive = "receive"
)
