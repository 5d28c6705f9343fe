// Package inventory holds the stock ledger: the only component allowed to
// change how many units of a product are available.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

// ProductLookup answers existence and the sellable flag. It is consulted
// before any stock lock is taken.
type ProductLookup interface {
	Get(ctx context.Context, productID string) (orders.Product, error)
}

// Movement is one applied stock delta.
type Movement = orders.StockMovement

const (
	ReasonReserve = orders.MovementReserve
	ReasonRelease = orders.MovementRelease
	ReasonReceive = orders.MovementReceive
)

// Journal receives applied movements after all locks are released. A batch is
// applied whole or not at all; deltas of one product commute, so batches may
// land in any order.
type Journal interface {
	Record(ctx context.Context, movements []Movement) error
}

type StockLevel struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

type Option func(*Ledger)

func WithJournal(j Journal) Option { return func(l *Ledger) { l.journal = j } }

// WithLockTimeout bounds how long a caller waits for contended products.
// Zero waits until the context is done.
func WithLockTimeout(d time.Duration) Option { return func(l *Ledger) { l.lockTimeout = d } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

type Ledger struct {
	log         *zap.Logger
	catalog     ProductLookup
	journal     Journal
	lockTimeout time.Duration
	now         func() time.Time

	mu    sync.RWMutex // guards the cells map, not the counters
	cells map[string]*cell

	resMu sync.Mutex
	held  map[string][]orders.LineRequest

	// movements the journal has not accepted yet, retried on every write
	journalMu sync.Mutex
	backlog   []Movement
}

const journalTimeout = 5 * time.Second

func NewLedger(log *zap.Logger, catalog ProductLookup, opts ...Option) *Ledger {
	l := &Ledger{
		log:         log,
		catalog:     catalog,
		lockTimeout: 2 * time.Second,
		now:         time.Now,
		cells:       map[string]*cell{},
		held:        map[string][]orders.LineRequest{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load installs the stock counter of a product. Used at boot and by tests;
// loading a product twice is rejected so a live counter is never overwritten.
func (l *Ledger) Load(productID string, qty int) error {
	if productID == "" || qty < 0 {
		return orders.InvalidRequestf("load %q: stock must be >= 0", productID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cells[productID]; ok {
		return fmt.Errorf("product %s already loaded", productID)
	}
	l.cells[productID] = newCell(qty)
	return nil
}

// Adopt registers a reservation granted before a restart. Its quantities are
// already reflected in the loaded stock, so nothing is debited.
func (l *Ledger) Adopt(res orders.Reservation) error {
	if res.ID == "" {
		return fmt.Errorf("%w: empty handle", orders.ErrInvalidReservation)
	}
	merged, ids, err := mergeLines(res.Lines)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", orders.ErrInvalidReservation, res.ID, err)
	}
	ids, _, err = l.cellsFor(ids)
	if err != nil {
		return err
	}
	lines := make([]orders.LineRequest, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, orders.LineRequest{ProductID: id, Qty: merged[id]})
	}

	l.resMu.Lock()
	defer l.resMu.Unlock()
	if _, ok := l.held[res.ID]; ok {
		return fmt.Errorf("%w: %s already held", orders.ErrInvalidReservation, res.ID)
	}
	l.held[res.ID] = lines
	return nil
}

func (l *Ledger) CurrentStock(productID string) (int, error) {
	c, ok := l.cell(productID)
	if !ok {
		return 0, orders.ProductNotFound(productID)
	}
	return int(c.qty.Load()), nil
}

// LowStock lists products at or below threshold, sorted by product id.
func (l *Ledger) LowStock(threshold int) []StockLevel {
	l.mu.RLock()
	out := make([]StockLevel, 0)
	for id, c := range l.cells {
		if n := int(c.qty.Load()); n <= threshold {
			out = append(out, StockLevel{ProductID: id, Available: n})
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// ReserveBatch debits every requested product or none of them.
func (l *Ledger) ReserveBatch(ctx context.Context, reqs []orders.LineRequest) (orders.Reservation, error) {
	merged, order, err := mergeLines(reqs)
	if err != nil {
		return orders.Reservation{}, err
	}

	// catalog checks happen before any lock, in submission order
	for _, id := range order {
		p, err := l.catalog.Get(ctx, id)
		if err != nil {
			return orders.Reservation{}, err
		}
		if !p.Active {
			return orders.Reservation{}, orders.ProductInactive(id, p.Name)
		}
	}

	ids, cells, err := l.cellsFor(order)
	if err != nil {
		return orders.Reservation{}, err
	}
	set, err := acquire(ctx, ids, cells, l.lockTimeout)
	if err != nil {
		return orders.Reservation{}, err
	}

	res, err := func() (orders.Reservation, error) {
		defer set.release()
		for _, id := range order {
			c, _ := l.cell(id)
			if avail := int(c.qty.Load()); avail < merged[id] {
				return orders.Reservation{}, &orders.StockError{ProductID: id, Requested: merged[id], Available: avail}
			}
		}
		lines := make([]orders.LineRequest, 0, len(ids))
		for i, id := range ids {
			cells[i].qty.Add(-int64(merged[id]))
			lines = append(lines, orders.LineRequest{ProductID: id, Qty: merged[id]})
		}
		res := orders.Reservation{ID: uuid.NewString(), Lines: lines, CreatedAt: l.now().UTC()}
		l.resMu.Lock()
		l.held[res.ID] = lines
		l.resMu.Unlock()
		return res, nil
	}()
	if err != nil {
		return orders.Reservation{}, err
	}

	l.record(ctx, res.ID, ReasonReserve, res.Lines, -1)
	return res.Clone(), nil
}

// Release credits back exactly what the ledger recorded for the handle, once.
func (l *Ledger) Release(ctx context.Context, res orders.Reservation) error {
	lines, err := l.retire(ctx, res, true)
	if err != nil {
		return err
	}
	l.record(ctx, res.ID, ReasonRelease, lines, 1)
	return nil
}

// Commit retires the handle without returning stock: the units are sold.
func (l *Ledger) Commit(ctx context.Context, res orders.Reservation) error {
	_, err := l.retire(ctx, res, false)
	return err
}

// Receive adds delivered units to a product's stock.
func (l *Ledger) Receive(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, orders.InvalidRequestf("received quantity must be positive, got %d", qty)
	}
	ids, cells, err := l.cellsFor([]string{productID})
	if err != nil {
		return 0, err
	}
	set, err := acquire(ctx, ids, cells, l.lockTimeout)
	if err != nil {
		return 0, err
	}
	n := int(cells[0].qty.Add(int64(qty)))
	set.release()

	l.record(ctx, "", ReasonReceive, []orders.LineRequest{{ProductID: productID, Qty: qty}}, 1)
	return n, nil
}

func (l *Ledger) retire(ctx context.Context, res orders.Reservation, credit bool) ([]orders.LineRequest, error) {
	// held lines are unique per product and sorted by id
	l.resMu.Lock()
	lines, ok := l.held[res.ID]
	l.resMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not held", orders.ErrInvalidReservation, res.ID)
	}

	ids := make([]string, 0, len(lines))
	for _, ln := range lines {
		ids = append(ids, ln.ProductID)
	}
	ids, cells, err := l.cellsFor(ids)
	if err != nil {
		return nil, err
	}
	set, err := acquire(ctx, ids, cells, l.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer set.release()

	// a concurrent retire may have won while we waited for the locks
	l.resMu.Lock()
	_, ok = l.held[res.ID]
	delete(l.held, res.ID)
	l.resMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not held", orders.ErrInvalidReservation, res.ID)
	}
	if credit {
		for i, ln := range lines {
			cells[i].qty.Add(int64(ln.Qty))
		}
	}
	return lines, nil
}

// cellsFor resolves ids to cells sorted by product id.
func (l *Ledger) cellsFor(ids []string) ([]string, []*cell, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	cells := make([]*cell, 0, len(sorted))
	for _, id := range sorted {
		c, ok := l.cell(id)
		if !ok {
			return nil, nil, orders.ProductNotFound(id)
		}
		cells = append(cells, c)
	}
	return sorted, cells, nil
}

func (l *Ledger) cell(id string) (*cell, bool) {
	l.mu.RLock()
	c, ok := l.cells[id]
	l.mu.RUnlock()
	return c, ok
}

func (l *Ledger) record(ctx context.Context, resID, reason string, lines []orders.LineRequest, sign int) {
	if l.journal == nil {
		return
	}
	mv := make([]Movement, 0, len(lines))
	for _, ln := range lines {
		mv = append(mv, Movement{ProductID: ln.ProductID, Delta: sign * ln.Qty, ReservationID: resID, Reason: reason})
	}

	l.journalMu.Lock()
	defer l.journalMu.Unlock()
	l.backlog = append(l.backlog, mv...)
	if err := l.flushLocked(ctx); err != nil {
		l.log.Error("stock journal write failed",
			zap.String("reservation_id", resID), zap.String("reason", reason),
			zap.Int("pending", len(l.backlog)), zap.Error(err))
	}
}

// Flush retries movements the journal has not accepted yet.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	l.journalMu.Lock()
	defer l.journalMu.Unlock()
	return l.flushLocked(ctx)
}

// PendingMovements counts movements applied in memory but not yet journaled.
// Non-zero means the persisted stock is behind the ledger.
func (l *Ledger) PendingMovements() int {
	l.journalMu.Lock()
	defer l.journalMu.Unlock()
	return len(l.backlog)
}

// flushLocked writes the backlog detached from the caller's cancellation:
// a movement already applied in memory must reach the journal.
func (l *Ledger) flushLocked(ctx context.Context) error {
	if len(l.backlog) == 0 {
		return nil
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := l.journal.Record(wctx, l.backlog); err != nil {
		return err
	}
	l.backlog = nil
	return nil
}

// mergeLines validates requests and sums duplicates. order keeps the first
// occurrence of each product in submission order.
func mergeLines(reqs []orders.LineRequest) (map[string]int, []string, error) {
	if len(reqs) == 0 {
		return nil, nil, orders.InvalidRequestf("no lines to reserve")
	}
	merged := make(map[string]int, len(reqs))
	order := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if r.ProductID == "" {
			return nil, nil, orders.InvalidRequestf("line without product id")
		}
		if r.Qty <= 0 {
			return nil, nil, orders.InvalidRequestf("quantity for product %s must be positive, got %d", r.ProductID, r.Qty)
		}
		if _, seen := merged[r.ProductID]; !seen {
			order = append(order, r.ProductID)
		}
		merged[r.ProductID] += r.Qty
	}
	return merged, order, nil
}

// IsRetryable reports errors a caller may retry unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, orders.ErrConcurrencyConflict)
}
