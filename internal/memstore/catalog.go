// Package memstore provides in-memory implementations of the order store,
// product catalog and customer directory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[string]orders.Product
}

func NewCatalog(products ...orders.Product) *Catalog {
	c := &Catalog{products: make(map[string]orders.Product, len(products))}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

func (c *Catalog) Put(p orders.Product) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
}

func (c *Catalog) Get(_ context.Context, productID string) (orders.Product, error) {
	c.mu.RLock()
	p, ok := c.products[productID]
	c.mu.RUnlock()
	if !ok {
		return orders.Product{}, orders.ProductNotFound(productID)
	}
	return p, nil
}

func (c *Catalog) List(_ context.Context) ([]orders.Product, error) {
	c.mu.RLock()
	out := make([]orders.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) SetPrice(productID string, price decimal.Decimal) error {
	return c.update(productID, func(p *orders.Product) { p.Price = price })
}

func (c *Catalog) SetActive(productID string, active bool) error {
	return c.update(productID, func(p *orders.Product) { p.Active = active })
}

func (c *Catalog) update(productID string, fn func(*orders.Product)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return orders.ProductNotFound(productID)
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	c.products[productID] = p
	return nil
}

type Customers struct {
	mu   sync.RWMutex
	byID map[string]orders.Customer
}

func NewCustomers(customers ...orders.Customer) *Customers {
	d := &Customers{byID: make(map[string]orders.Customer, len(customers))}
	for _, c := range customers {
		d.byID[c.ID] = c
	}
	return d
}

func (d *Customers) Put(c orders.Customer) {
	d.mu.Lock()
	d.byID[c.ID] = c
	d.mu.Unlock()
}

func (d *Customers) Exists(_ context.Context, customerID string) (bool, error) {
	d.mu.RLock()
	_, ok := d.byID[customerID]
	d.mu.RUnlock()
	return ok, nil
}

func (d *Customers) DefaultShippingAddress(_ context.Context, customerID string) (string, error) {
	d.mu.RLock()
	c, ok := d.byID[customerID]
	d.mu.RUnlock()
	if !ok {
		return "", orders.InvalidRequestf("customer %s not found", customerID)
	}
	return c.Address, nil
}
