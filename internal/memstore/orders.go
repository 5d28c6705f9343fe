package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

// Orders keeps deep copies so callers can never mutate stored state.
type Orders struct {
	mu         sync.RWMutex
	byID       map[string]orders.Order
	byExternal map[string]string

	// FailSave, when set, is returned by Save instead of storing.
	FailSave func(o orders.Order) error
}

func NewOrders() *Orders {
	return &Orders{byID: map[string]orders.Order{}, byExternal: map[string]string{}}
}

func (s *Orders) Save(_ context.Context, o orders.Order) error {
	if s.FailSave != nil {
		if err := s.FailSave(o); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ExternalID != "" {
		if owner, ok := s.byExternal[o.ExternalID]; ok && owner != o.ID {
			return fmt.Errorf("%w: external id %s", orders.ErrAlreadyExists, o.ExternalID)
		}
		s.byExternal[o.ExternalID] = o.ID
	}
	s.byID[o.ID] = o.Clone()
	return nil
}

func (s *Orders) Load(_ context.Context, id string) (orders.Order, error) {
	s.mu.RLock()
	o, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return o.Clone(), nil
}

// ListByCustomer returns the customer's orders, newest first.
func (s *Orders) ListByCustomer(_ context.Context, customerID string) ([]orders.Order, error) {
	s.mu.RLock()
	out := make([]orders.Order, 0)
	for _, o := range s.byID {
		if o.CustomerID == customerID {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// OpenReservations returns the handles still held by stored orders.
func (s *Orders) OpenReservations(_ context.Context) ([]orders.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Reservation, 0)
	for _, o := range s.byID {
		if o.Reservation != nil {
			out = append(out, o.Reservation.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Orders) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
