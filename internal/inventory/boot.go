package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

type StockSource interface {
	List(ctx context.Context) ([]orders.Product, error)
}

type ReservationSource interface {
	OpenReservations(ctx context.Context) ([]orders.Reservation, error)
}

// Restore loads every product's persisted stock and re-registers the
// reservations that orders still hold. Call it once, before serving.
func (l *Ledger) Restore(ctx context.Context, stock StockSource, open ReservationSource) error {
	products, err := stock.List(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	for _, p := range products {
		if err := l.Load(p.ID, p.Stock); err != nil {
			return err
		}
	}

	held, err := open.OpenReservations(ctx)
	if err != nil {
		return fmt.Errorf("open reservations: %w", err)
	}
	for _, res := range held {
		if err := l.Adopt(res); err != nil {
			return fmt.Errorf("adopt %s: %w", res.ID, err)
		}
	}
	l.log.Info("ledger restored", zap.Int("products", len(products)), zap.Int("reservations", len(held)))
	return nil
}
