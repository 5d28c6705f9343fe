// Package projector turns order events into the read-side status cache.
package projector

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/tracing"
)

type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type StatusWriter interface {
	Put(ctx context.Context, orderID, status string, updatedAt time.Time) (bool, error)
}

// Topics the projector subscribes to.
var Topics = []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged, orders.TopicStockLow}

type Service struct {
	Log    *zap.Logger
	Dedup  Deduper
	Status StatusWriter
}

// Handle is installed as the consumer handler. Undecodable messages are
// logged and skipped; a failed projection is forgotten by dedup and returned
// so the offset is not committed.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.Log.Error("skip undecodable event", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	ctx = tracing.ExtractHeaders(ctx, m.Headers)
	ctx, span := otel.Tracer("github.com/ariefcatur/go-retail-orders/internal/projector").Start(ctx, "projector."+env.EventType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", m.Topic),
			attribute.String("event.id", env.EventID),
		))
	defer span.End()

	first, err := s.Dedup.First(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		s.Log.Debug("duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	if err := s.apply(ctx, env); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.Log.Warn("dedup forget failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.project(ctx, p.OrderID, string(p.Status), env.OccurredAt)

	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.project(ctx, p.OrderID, string(p.To), p.ChangedAt)

	case orders.EventStockLow:
		p, err := kafkax.UnwrapPayload[orders.StockLowPayload](env.Payload)
		if err != nil {
			return err
		}
		s.Log.Warn("stock low",
			zap.String("product_id", p.ProductID),
			zap.Int("available", p.Available),
			zap.Int("threshold", p.Threshold))
		return nil
	}
	s.Log.Debug("ignored event", zap.String("event_type", env.EventType))
	return nil
}

func (s *Service) project(ctx context.Context, orderID, status string, at time.Time) error {
	wrote, err := s.Status.Put(ctx, orderID, status, at)
	if err != nil {
		return err
	}
	if !wrote {
		s.Log.Debug("stale status ignored", zap.String("order_id", orderID), zap.String("status", status))
	}
	return nil
}
