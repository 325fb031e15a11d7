package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrStoreUnavailable indicates the repository has no database configured.
var ErrStoreUnavailable = errors.New("catalog: store unavailable")

// Repository persists catalog products.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, id string) (Product, error)
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) (Product, error)
	Delete(ctx context.Context, id string) error
}

// NewPGRepository constructs a Repository backed by a pgx connection pool.
func NewPGRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

type pgRepository struct {
	pool *pgxpool.Pool
}

const productColumns = `id::text, name, description, price::text, discounted_price::text, offer_ends_at, image_url, stock, created_at, updated_at`

func (r *pgRepository) List(ctx context.Context) ([]Product, error) {
	if r == nil || r.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *pgRepository) Get(ctx context.Context, id string) (Product, error) {
	if r == nil || r.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *pgRepository) Create(ctx context.Context, p Product) (Product, error) {
	if r == nil || r.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO products (id, name, description, price, discounted_price, offer_ends_at, image_url, stock, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $9)
RETURNING `+productColumns, p.ID, p.Name, p.Description, p.Price.String(), optionalDecimal(p.DiscountedPrice), p.OfferEndsAt, p.ImageURL, p.Stock, p.CreatedAt)
	return scanProduct(row)
}

func (r *pgRepository) Update(ctx context.Context, p Product) (Product, error) {
	if r == nil || r.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	row := r.pool.QueryRow(ctx, `UPDATE products SET name = $2, description = $3, price = $4::numeric, discounted_price = $5::numeric,
offer_ends_at = $6, image_url = $7, stock = $8, updated_at = $9
WHERE id = $1
RETURNING `+productColumns, p.ID, p.Name, p.Description, p.Price.String(), optionalDecimal(p.DiscountedPrice), p.OfferEndsAt, p.ImageURL, p.Stock, p.UpdatedAt)
	updated, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return updated, err
}

func (r *pgRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p          Product
		price      string
		discounted *string
		offerEnds  *time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &discounted, &offerEnds, &p.ImageURL, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("parse price for %s: %w", p.ID, err)
	}
	p.Price = parsed
	if discounted != nil {
		d, err := decimal.NewFromString(*discounted)
		if err != nil {
			return Product{}, fmt.Errorf("parse discounted price for %s: %w", p.ID, err)
		}
		p.DiscountedPrice = &d
	}
	p.OfferEndsAt = offerEnds
	return p, nil
}

func optionalDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
