package ordering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

// StateMachine applies status transitions. Transitions of one order are
// serialized by locks; the ledger call and the status write happen under the
// same per-order lock, so engine readers never see one without the other.
type StateMachine struct {
	log    *zap.Logger
	ledger Ledger
	store  Store
	pub    Publisher
	locks  *keyLock
	now    func() time.Time
}

func (m *StateMachine) Transition(ctx context.Context, orderID string, target orders.Status) (orders.Order, error) {
	if !target.Valid() {
		return orders.Order{}, orders.InvalidRequestf("unknown status %q", target)
	}

	unlock := m.locks.Lock(orderID)
	defer unlock()

	prev, err := m.store.Load(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if !orders.CanTransition(prev.Status, target) {
		return orders.Order{}, &orders.TransitionError{From: prev.Status, To: target}
	}

	next := prev.Clone()
	next.Status = target
	next.UpdatedAt = m.now().UTC()

	settle := m.settlement(target, prev.Reservation)
	if settle != nil {
		next.Reservation = nil
	}

	if err := m.store.Save(ctx, next); err != nil {
		return orders.Order{}, fmt.Errorf("save order: %w", err)
	}
	if settle != nil {
		if err := settle(ctx, *prev.Reservation); err != nil {
			return orders.Order{}, m.restore(ctx, prev, err)
		}
	}

	m.log.Info("order status changed",
		zap.String("order_id", next.ID),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(next.Status)))

	m.pub.StatusChanged(ctx, next.Clone(), prev.Status)
	return next, nil
}

// settlement picks what happens to the held reservation: cancellation
// returns the stock, delivery consumes it for good.
func (m *StateMachine) settlement(target orders.Status, res *orders.Reservation) func(context.Context, orders.Reservation) error {
	if res == nil || target.HoldsStock() {
		return nil
	}
	switch target {
	case orders.StatusCancelled:
		return m.ledger.Release
	case orders.StatusDelivered:
		return m.ledger.Commit
	}
	return nil
}

// restore writes the previous order back after the ledger refused to settle.
func (m *StateMachine) restore(ctx context.Context, prev orders.Order, cause error) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.store.Save(saveCtx, prev); err != nil {
		m.log.Error("restore order after ledger failure",
			zap.String("order_id", prev.ID), zap.NamedError("cause", cause), zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}

// Get reads an order under its lock so a transition in flight is never
// observed half applied.
func (m *StateMachine) Get(ctx context.Context, orderID string) (orders.Order, error) {
	unlock := m.locks.RLock(orderID)
	defer unlock()
	return m.store.Load(ctx, orderID)
}

// List returns a customer's orders, each re-read under its own lock so a
// listed status never runs ahead of the ledger.
func (m *StateMachine) List(ctx context.Context, customerID string) ([]orders.Order, error) {
	listed, err := m.store.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i, o := range listed {
		fresh, err := m.Get(ctx, o.ID)
		if err != nil {
			return nil, fmt.Errorf("reload order %s: %w", o.ID, err)
		}
		listed[i] = fresh
	}
	return listed, nil
}
