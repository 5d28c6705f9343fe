package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type CatalogRepo struct{ DB *pgxpool.Pool }

const productColumns = `id, sku, name, price::text, stock, active, created_at, updated_at`

func (r *CatalogRepo) Get(ctx context.Context, productID string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ProductNotFound(productID)
	}
	return p, err
}

// List returns every product ordered by id, inactive ones included.
func (r *CatalogRepo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	v, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	p.Price = v
	return p, nil
}

type CustomerRepo struct{ DB *pgxpool.Pool }

func (r *CustomerRepo) Exists(ctx context.Context, customerID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id=$1)`, customerID).Scan(&ok)
	return ok, err
}

func (r *CustomerRepo) DefaultShippingAddress(ctx context.Context, customerID string) (string, error) {
	var addr string
	err := r.DB.QueryRow(ctx, `SELECT address FROM customers WHERE id=$1`, customerID).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", InvalidRequestf("customer %s not found", customerID)
	}
	return addr, err
}
