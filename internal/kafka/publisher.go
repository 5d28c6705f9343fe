package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/tracing"
)

type messageSink interface {
	Publish(m kafka.Message) bool
}

// EventPublisher turns order and stock changes into enveloped Kafka messages.
type EventPublisher struct {
	log      *zap.Logger
	sink     messageSink
	producer string
	now      func() time.Time
}

func NewEventPublisher(log *zap.Logger, sink messageSink, producer string) *EventPublisher {
	return &EventPublisher{log: log, sink: sink, producer: producer, now: time.Now}
}

func (p *EventPublisher) OrderCreated(ctx context.Context, o orders.Order) {
	p.publish(ctx, orders.TopicOrderCreated, orders.EventOrderCreated, o.ID, orders.NewOrderCreatedPayload(o))
}

func (p *EventPublisher) StatusChanged(ctx context.Context, o orders.Order, from orders.Status) {
	p.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		From:       from,
		To:         o.Status,
		Released:   o.Status == orders.StatusCancelled,
		ChangedAt:  o.UpdatedAt.UTC(),
	})
}

func (p *EventPublisher) StockLow(ctx context.Context, productID string, available, threshold int) {
	p.publish(ctx, orders.TopicStockLow, orders.EventStockLow, productID, orders.StockLowPayload{
		ProductID: productID,
		Available: available,
		Threshold: threshold,
	})
}

func (p *EventPublisher) publish(ctx context.Context, topic, eventType, key string, payload any) {
	env, err := NewEnvelope(eventType, p.producer, key, tracing.TraceID(ctx), p.now(), payload)
	if err != nil {
		p.log.Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.log.Error("encode event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	headers := tracing.InjectHeaders(ctx, []kafka.Header{{Key: "event_type", Value: []byte(eventType)}})
	if !p.sink.Publish(kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(key),
		Value:   value,
		Headers: headers,
	}) {
		p.log.Warn("event not published", zap.String("event_type", eventType), zap.String("key", key))
	}
}
