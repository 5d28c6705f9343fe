package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

// cell is the stock counter of one product. qty is written only while sem is
// held and read atomically without it.
type cell struct {
	sem chan struct{}
	qty atomic.Int64
}

func newCell(qty int) *cell {
	c := &cell{sem: make(chan struct{}, 1)}
	c.qty.Store(int64(qty))
	return c
}

func (c *cell) lock(ctx context.Context, expired <-chan time.Time) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-expired:
		return orders.ErrConcurrencyConflict
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *cell) unlock() { <-c.sem }

// lockSet holds exclusive access to a group of cells acquired in key order.
type lockSet struct {
	held []*cell
}

func (s *lockSet) release() {
	for i := len(s.held) - 1; i >= 0; i-- {
		s.held[i].unlock()
	}
	s.held = nil
}

// acquire locks cells in the order given; ids must already be sorted.
// On failure nothing stays locked.
func acquire(ctx context.Context, ids []string, cells []*cell, timeout time.Duration) (*lockSet, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	set := &lockSet{held: make([]*cell, 0, len(cells))}
	for i, c := range cells {
		if err := c.lock(ctx, expired); err != nil {
			set.release()
			if errors.Is(err, orders.ErrConcurrencyConflict) {
				return nil, fmt.Errorf("%w: waiting for product %s exceeded %s", err, ids[i], timeout)
			}
			return nil, err
		}
		set.held = append(set.held, c)
	}
	return set, nil
}
