package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the PostgreSQL order store.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, COALESCE(external_id, ''), customer_id, status, total_amount::text,
	shipping_address, reservation, created_at, updated_at`

// Save upserts the order row. Lines are written once, on first save;
// they never change afterwards.
func (r *Repo) Save(ctx context.Context, o Order) error {
	var reservation []byte
	if o.Reservation != nil {
		b, err := json.Marshal(o.Reservation)
		if err != nil {
			return fmt.Errorf("encode reservation: %w", err)
		}
		reservation = b
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, status, total_amount, shipping_address, reservation, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    reservation = EXCLUDED.reservation,
		    updated_at = EXCLUDED.updated_at`,
		o.ID, o.ExternalID, o.CustomerID, string(o.Status), o.TotalAmount.String(),
		o.ShippingAddress, reservation, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: external id %s", ErrAlreadyExists, o.ExternalID)
		}
		return err
	}

	b := &pgx.Batch{}
	for i, l := range o.Lines {
		b.Queue(`
			INSERT INTO order_lines(order_id, line_no, product_id, qty, unit_price)
			VALUES ($1, $2, $3, $4, $5::numeric)
			ON CONFLICT (order_id, line_no) DO NOTHING`,
			o.ID, i, l.ProductID, l.Qty, l.UnitPrice.String())
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert lines: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) Load(ctx context.Context, id string) (Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, OrderNotFound(id)
	}
	if err != nil {
		return Order{}, err
	}
	lines, err := r.lines(ctx, []string{id})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[id]
	return o, nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *Repo) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id=$1 ORDER BY created_at DESC, id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// OpenReservations lists the handles still held by orders, for ledger boot.
func (r *Repo) OpenReservations(ctx context.Context) ([]Reservation, error) {
	rows, err := r.DB.Query(ctx, `SELECT reservation FROM orders WHERE reservation IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Reservation, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var res Reservation
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repo) lines(ctx context.Context, orderIDs []string) (map[string][]OrderLine, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, qty, unit_price::text
		FROM order_lines WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID, price string
			l              OrderLine
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Qty, &price); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %s unit price: %w", orderID, err)
		}
		out[orderID] = append(out[orderID], l)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o           Order
		status      string
		total       string
		reservation []byte
	)
	if err := row.Scan(&o.ID, &o.ExternalID, &o.CustomerID, &status, &total,
		&o.ShippingAddress, &reservation, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.TotalAmount = amount
	if reservation != nil {
		var res Reservation
		if err := json.Unmarshal(reservation, &res); err != nil {
			return Order{}, fmt.Errorf("order %s reservation: %w", o.ID, err)
		}
		o.Reservation = &res
	}
	return o, nil
}
