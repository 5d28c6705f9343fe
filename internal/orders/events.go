package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventStockLow           = "StockLow"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id, or product id for stock events
	Payload       json.RawMessage `json:"payload"`
}

type ItemPrice struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string      `json:"order_id"`
	ExternalID  string      `json:"external_id,omitempty"`
	CustomerID  string      `json:"customer_id"`
	Items       []ItemPrice `json:"items"`
	TotalAmount string      `json:"total_amount"`
	Status      Status      `json:"status"`
}

type OrderStatusChangedPayload struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Released   bool      `json:"released,omitempty"` // stock credited back
	ChangedAt  time.Time `json:"changed_at"`
}

type StockLowPayload struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

func NewOrderCreatedPayload(o Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, ItemPrice{ProductID: l.ProductID, Qty: l.Qty, UnitPrice: l.UnitPrice.StringFixed(2)})
	}
	return OrderCreatedPayload{
		OrderID:     o.ID,
		ExternalID:  o.ExternalID,
		CustomerID:  o.CustomerID,
		Items:       items,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Status:      o.Status,
	}
}
