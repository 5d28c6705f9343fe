package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-retail-orders/internal/memstore"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
)

func newTestLedger(t *testing.T, stock map[string]int, opts ...Option) (*Ledger, *memstore.Catalog) {
	t.Helper()
	cat := memstore.NewCatalog()
	l := NewLedger(zap.NewNop(), cat, opts...)
	for id, qty := range stock {
		cat.Put(orders.Product{ID: id, Name: "product " + id, Price: decimal.NewFromInt(10), Active: true})
		require.NoError(t, l.Load(id, qty))
	}
	return l, cat
}

func stockOf(t *testing.T, l *Ledger, id string) int {
	t.Helper()
	n, err := l.CurrentStock(id)
	require.NoError(t, err)
	return n
}

func TestReserveBatch_DebitsAllLines(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 10, "B": 5})

	res, err := l.ReserveBatch(context.Background(), []orders.LineRequest{
		{ProductID: "B", Qty: 2},
		{ProductID: "A", Qty: 3},
		{ProductID: "B", Qty: 1},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, []orders.LineRequest{{ProductID: "A", Qty: 3}, {ProductID: "B", Qty: 3}}, res.Lines)
	assert.Equal(t, 7, stockOf(t, l, "A"))
	assert.Equal(t, 2, stockOf(t, l, "B"))
}

func TestReserveBatch_InsufficientLeavesOtherProductsUntouched(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 10, "B": 1})

	_, err := l.ReserveBatch(context.Background(), []orders.LineRequest{
		{ProductID: "A", Qty: 4},
		{ProductID: "B", Qty: 2},
	})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	var se *orders.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "B", se.ProductID)
	assert.Equal(t, 2, se.Requested)
	assert.Equal(t, 1, se.Available)

	assert.Equal(t, 10, stockOf(t, l, "A"))
	assert.Equal(t, 1, stockOf(t, l, "B"))
}

func TestReserveBatch_NamesFirstShortfallInSubmissionOrder(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 0, "Z": 0})

	_, err := l.ReserveBatch(context.Background(), []orders.LineRequest{
		{ProductID: "Z", Qty: 1},
		{ProductID: "A", Qty: 1},
	})
	var se *orders.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Z", se.ProductID)
}

func TestReserveBatch_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		lines []orders.LineRequest
		want  error
	}{
		{"empty", nil, orders.ErrInvalidRequest},
		{"zero quantity", []orders.LineRequest{{ProductID: "A", Qty: 0}}, orders.ErrInvalidRequest},
		{"negative quantity", []orders.LineRequest{{ProductID: "A", Qty: -1}}, orders.ErrInvalidRequest},
		{"missing product id", []orders.LineRequest{{Qty: 1}}, orders.ErrInvalidRequest},
		{"unknown product", []orders.LineRequest{{ProductID: "A", Qty: 1}, {ProductID: "nope", Qty: 1}}, orders.ErrProductNotFound},
		{"inactive product", []orders.LineRequest{{ProductID: "A", Qty: 1}, {ProductID: "OFF", Qty: 1}}, orders.ErrProductInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, cat := newTestLedger(t, map[string]int{"A": 5, "OFF": 5})
			require.NoError(t, cat.SetActive("OFF", false))

			_, err := l.ReserveBatch(context.Background(), tt.lines)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, 5, stockOf(t, l, "A"))
			assert.Equal(t, 5, stockOf(t, l, "OFF"))
		})
	}
}

func TestReserveBatch_ProductInCatalogButNotLoaded(t *testing.T) {
	l, cat := newTestLedger(t, map[string]int{"A": 5})
	cat.Put(orders.Product{ID: "ghost", Active: true})

	_, err := l.ReserveBatch(context.Background(), []orders.LineRequest{{ProductID: "ghost", Qty: 1}})
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}

func TestRelease_RestoresExactlyOnce(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"P": 10})
	ctx := context.Background()

	res, err := l.ReserveBatch(ctx, []orders.LineRequest{{ProductID: "P", Qty: 3}})
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, l, "P"))

	require.NoError(t, l.Release(ctx, res))
	assert.Equal(t, 10, stockOf(t, l, "P"))

	err = l.Release(ctx, res)
	require.ErrorIs(t, err, orders.ErrInvalidReservation)
	assert.Equal(t, 10, stockOf(t, l, "P"))
}

func TestRelease_UsesRecordedQuantitiesNotCallerCopy(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"P": 10})
	ctx := context.Background()

	res, err := l.ReserveBatch(ctx, []orders.LineRequest{{ProductID: "P", Qty: 3}})
	require.NoError(t, err)

	forged := res.Clone()
	forged.Lines[0].Qty = 50
	require.NoError(t, l.Release(ctx, forged))
	assert.Equal(t, 10, stockOf(t, l, "P"))
}

func TestRelease_NeverGranted(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"P": 10})

	err := l.Release(context.Background(), orders.Reservation{ID: "made-up", Lines: []orders.LineRequest{{ProductID: "P", Qty: 1}}})
	require.ErrorIs(t, err, orders.ErrInvalidReservation)
	assert.Equal(t, 10, stockOf(t, l, "P"))
}

func TestRelease_ConcurrentDoubleReleaseCreditsOnce(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"P": 10})
	ctx := context.Background()
	res, err := l.ReserveBatch(ctx, []orders.LineRequest{{ProductID: "P", Qty: 4}})
	require.NoError(t, err)

	var ok, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Release(ctx, res)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, orders.ErrInvalidReservation):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 7, invalid.Load())
	assert.Equal(t, 10, stockOf(t, l, "P"))
}

func TestCommit_RetiresWithoutCredit(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"P": 10})
	ctx := context.Background()
	res, err := l.ReserveBatch(ctx, []orders.LineRequest{{ProductID: "P", Qty: 3}})
	require.NoError(t, err)

	require.NoError(t, l.Commit(ctx, res))
	assert.Equal(t, 7, stockOf(t, l, "P"))

	require.ErrorIs(t, l.Release(ctx, res), orders.ErrInvalidReservation)
	require.ErrorIs(t, l.Commit(ctx, res), orders.ErrInvalidReservation)
	assert.Equal(t, 7, stockOf(t, l, "P"))
}

func TestNoOversellUnderConcurrency(t *testing.T) {
	const initial = 50
	l, _ := newTestLedger(t, map[string]int{"P": initial}, WithLockTimeout(0))

	var granted atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 200; i++ {
		qty := i%3 + 1
		g.Go(func() error {
			_, err := l.ReserveBatch(ctx, []orders.LineRequest{{ProductID: "P", Qty: qty}})
			if err == nil {
				granted.Add(int64(qty))
				return nil
			}
			if errors.Is(err, orders.ErrInsufficientStock) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	left := stockOf(t, l, "P")
	assert.GreaterOrEqual(t, left, 0)
	assert.LessOrEqual(t, granted.Load(), int64(initial))
	assert.EqualValues(t, initial, granted.Load()+int64(left))
}

func TestCrossedOrdersDoNotDeadlock(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 1000, "B": 1000}, WithLockTimeout(0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			_, err := l.ReserveBatch(gctx, []orders.LineRequest{{ProductID: "A", Qty: 1}, {ProductID: "B", Qty: 2}})
			return err
		})
		g.Go(func() error {
			_, err := l.ReserveBatch(gctx, []orders.LineRequest{{ProductID: "B", Qty: 1}, {ProductID: "A", Qty: 2}})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1000-300, stockOf(t, l, "A"))
	assert.Equal(t, 1000-300, stockOf(t, l, "B"))
}

func TestReserveBatch_ContendedLockTimesOut(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 10, "B": 10}, WithLockTimeout(20*time.Millisecond))

	// hold B as if another reservation were mid-flight
	c, _ := l.cell("B")
	c.sem <- struct{}{}

	_, err := l.ReserveBatch(context.Background(), []orders.LineRequest{{ProductID: "A", Qty: 1}, {ProductID: "B", Qty: 1}})
	require.ErrorIs(t, err, orders.ErrConcurrencyConflict)
	assert.True(t, IsRetryable(err))

	c.unlock()

	// A was released on the failure path
	_, err = l.ReserveBatch(context.Background(), []orders.LineRequest{{ProductID: "A", Qty: 1}})
	require.NoError(t, err)
	assert.Equal(t, 9, stockOf(t, l, "A"))
	assert.Equal(t, 10, stockOf(t, l, "B"))
}

func TestReserveBatch_ContextCancelledWhileWaiting(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 10}, WithLockTimeout(0))
	c, _ := l.cell("A")
	c.sem <- struct{}{}
	defer c.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.ReserveBatch(ctx, []orders.LineRequest{{ProductID: "A", Qty: 1}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceiveAndLowStock(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 2, "B": 9, "C": 5})

	assert.Equal(t, []StockLevel{{ProductID: "A", Available: 2}, {ProductID: "C", Available: 5}}, l.LowStock(5))

	n, err := l.Receive(context.Background(), "A", 10)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, []StockLevel{{ProductID: "C", Available: 5}}, l.LowStock(5))

	_, err = l.Receive(context.Background(), "A", 0)
	require.ErrorIs(t, err, orders.ErrInvalidRequest)
	_, err = l.Receive(context.Background(), "nope", 1)
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}

func TestAdopt_AllowsReleaseAfterRestart(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 7, "B": 3})
	res := orders.Reservation{ID: "r-1", Lines: []orders.LineRequest{{ProductID: "B", Qty: 1}, {ProductID: "A", Qty: 3}, {ProductID: "B", Qty: 1}}}

	require.NoError(t, l.Adopt(res))
	require.ErrorIs(t, l.Adopt(res), orders.ErrInvalidReservation)
	assert.Equal(t, 7, stockOf(t, l, "A"))

	require.NoError(t, l.Release(context.Background(), res))
	assert.Equal(t, 10, stockOf(t, l, "A"))
	assert.Equal(t, 5, stockOf(t, l, "B"))
}

func TestLoad_Rejections(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int{"A": 1})
	require.Error(t, l.Load("A", 3))
	require.ErrorIs(t, l.Load("B", -1), orders.ErrInvalidRequest)
	_, err := l.CurrentStock("B")
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}

type recordingJournal struct {
	mu  sync.Mutex
	got []Movement
	err error
}

func (j *recordingJournal) Record(_ context.Context, mv []Movement) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.got = append(j.got, mv...)
	return j.err
}

func TestJournalReceivesMovements(t *testing.T) {
	j := &recordingJournal{}
	l, _ := newTestLedger(t, map[string]int{"A": 10, "B": 10}, WithJournal(j))
	ctx := context.Background()

	res, err := l.ReserveBatch(ctx, []orders.LineRequest{{ProductID: "B", Qty: 2}, {ProductID: "A", Qty: 1}})
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, res))
	_, err = l.Receive(ctx, "A", 4)
	require.NoError(t, err)

	assert.Equal(t, []Movement{
		{ProductID: "A", Delta: -1, ReservationID: res.ID, Reason: ReasonReserve},
		{ProductID: "B", Delta: -2, ReservationID: res.ID, Reason: ReasonReserve},
		{ProductID: "A", Delta: 1, ReservationID: res.ID, Reason: ReasonRelease},
		{ProductID: "B", Delta: 2, ReservationID: res.ID, Reason: ReasonRelease},
		{ProductID: "A", Delta: 4, Reason: ReasonReceive},
	}, j.got)
}

func TestJournalFailureDoesNotFailReservation(t *testing.T) {
	j := &recordingJournal{err: errors.New("db down")}
	l, _ := newTestLedger(t, map[string]int{"A": 10}, WithJournal(j))

	_, err := l.ReserveBatch(context.Background(), []orders.LineRequest{{ProductID: "A", Qty: 1}})
	require.NoError(t, err)
	assert.Equal(t, 9, stockOf(t, l, "A"))
}
