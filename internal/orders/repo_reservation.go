package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockRepo mirrors ledger movements into products.stock and keeps the
// movement history. The in-process ledger stays authoritative; this table is
// what the next boot loads stock from.
type StockRepo struct{ DB *pgxpool.Pool }

func (r *StockRepo) Record(ctx context.Context, movements []StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, m := range movements {
		b.Queue(`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`, m.ProductID, m.Delta)
		b.Queue(`
			INSERT INTO stock_movements(product_id, delta, reservation_id, reason)
			VALUES ($1, $2, NULLIF($3, ''), $4)`,
			m.ProductID, m.Delta, m.ReservationID, m.Reason)
	}
	br := tx.SendBatch(ctx, b)
	for _, m := range movements {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("apply %s %+d: %w", m.ProductID, m.Delta, err)
		}
		if ct.RowsAffected() != 1 {
			_ = br.Close()
			return fmt.Errorf("apply %s: %w", m.ProductID, ErrProductNotFound)
		}
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("journal %s: %w", m.ProductID, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
