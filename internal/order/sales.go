package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrStoreUnavailable indicates the sales store has no database configured.
	ErrStoreUnavailable = errors.New("order: store unavailable")
	// ErrSaleNotFound indicates the requested sale does not exist.
	ErrSaleNotFound = errors.New("sale not found")
)

// Status tracks payment confirmation of a sale.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a status string.
func ParseStatus(v string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(v))); s {
	case StatusPending, StatusApproved, StatusRejected:
		return s, true
	}
	return "", false
}

// Sale is a recorded order.
type Sale struct {
	ID            string          `json:"id"`
	CartID        string          `json:"cartId"`
	Items         []Item          `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	DiscountCode  string          `json:"discountCode,omitempty"`
	Customer      Customer        `json:"customer"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// SalesFilter narrows sale listings. Zero values mean no constraint.
type SalesFilter struct {
	From   *time.Time
	To     *time.Time
	Status Status
}

// Channel submits an order and returns its identifier. Implementations make a single attempt.
type Channel interface {
	Submit(ctx context.Context, s Summary) (string, error)
}

// SalesStore records sales and serves the admin views.
type SalesStore interface {
	Channel
	List(ctx context.Context, f SalesFilter) ([]Sale, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (Sale, error)
}

// NewPGSalesStore constructs a SalesStore backed by a pgx connection pool.
func NewPGSalesStore(pool *pgxpool.Pool, now func() time.Time) SalesStore {
	if now == nil {
		now = time.Now
	}
	return &pgSalesStore{pool: pool, now: now}
}

type pgSalesStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

const saleColumns = `id::text, cart_id, items, subtotal::text, discount::text, total::text, discount_code, customer_first_name, customer_last_name, payment_method, status, created_at, updated_at`

// Submit inserts the sale as pending and decrements stock for each product, flooring at zero.
func (s *pgSalesStore) Submit(ctx context.Context, sum Summary) (string, error) {
	if s == nil || s.pool == nil {
		return "", ErrStoreUnavailable
	}
	items, err := json.Marshal(sum.Items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	var code any
	if sum.DiscountCode != "" {
		code = sum.DiscountCode
	}
	id := uuid.NewString()
	now := s.now().UTC()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `INSERT INTO sales (id, cart_id, items, subtotal, discount, total, discount_code, customer_first_name, customer_last_name, payment_method, status, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12, $12)`,
		id, sum.CartID, items, sum.Subtotal.String(), sum.Discount.String(), sum.Total.String(), code,
		sum.Customer.FirstName, sum.Customer.LastName, string(sum.PaymentMethod), string(StatusPending), now); err != nil {
		return "", fmt.Errorf("insert sale: %w", err)
	}
	for _, it := range sum.Items {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = GREATEST(stock - $2, 0), updated_at = $3 WHERE id::text = $1`, it.ID, it.Quantity, now); err != nil {
			return "", fmt.Errorf("decrement stock for %s: %w", it.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *pgSalesStore) List(ctx context.Context, f SalesFilter) ([]Sale, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.From != nil {
		add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		add("created_at < ?", *f.To)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *pgSalesStore) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (Sale, error) {
	if s == nil || s.pool == nil {
		return Sale{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE sales SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+saleColumns, id, string(status), at.UTC())
	sale, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	return sale, err
}

func scanSale(row pgx.Row) (Sale, error) {
	var (
		sale                      Sale
		items                     []byte
		subtotal, discount, total string
		code                      *string
		method, status            string
	)
	if err := row.Scan(&sale.ID, &sale.CartID, &items, &subtotal, &discount, &total, &code,
		&sale.Customer.FirstName, &sale.Customer.LastName, &method, &status, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
		return Sale{}, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return Sale{}, fmt.Errorf("decode items for sale %s: %w", sale.ID, err)
	}
	var err error
	if sale.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return Sale{}, err
	}
	if sale.Discount, err = decimal.NewFromString(discount); err != nil {
		return Sale{}, err
	}
	if sale.Total, err = decimal.NewFromString(total); err != nil {
		return Sale{}, err
	}
	if code != nil {
		sale.DiscountCode = *code
	}
	sale.PaymentMethod = PaymentMethod(method)
	sale.Status = Status(status)
	return sale, nil
}
