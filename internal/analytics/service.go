package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DailySales is one day of accepted sales in shop time. Rejected sales are excluded.
type DailySales struct {
	Day      string          `json:"day"`
	Orders   int64           `json:"orders"`
	Revenue  decimal.Decimal `json:"revenue"`
	Discount decimal.Decimal `json:"discount"`
}

// TopProduct aggregates sold quantity and revenue for one product.
type TopProduct struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Querier defines the database access required for analytics operations.
type Querier interface {
	SalesDaily(ctx context.Context, from, to time.Time, tz string) ([]DailySales, error)
	TopProducts(ctx context.Context, limit, offset int) ([]TopProduct, error)
}

// Service provides cached access to sales aggregates.
type Service struct {
	Q            Querier
	R            *redis.Client
	TTL          time.Duration
	DefaultRange int
	Location     *time.Location
	Now          func() time.Time
	Logger       *zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// SalesRange returns the daily series for sales created in [from, to).
func (s *Service) SalesRange(ctx context.Context, from, to time.Time) ([]DailySales, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("analytics service not configured")
	}
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}
	tz := s.location().String()
	key := cacheKey("bakery", "an", "sales", tz, from.Unix(), to.Unix())
	var cached []DailySales
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.SalesDaily(ctx, from, to, tz)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// TopProducts returns products ordered by quantity sold.
func (s *Service) TopProducts(ctx context.Context, limit, offset int) ([]TopProduct, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("analytics service not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	key := cacheKey("bakery", "an", "top", limit, offset)
	var cached []TopProduct
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.TopProducts(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

func (s *Service) load(ctx context.Context, key string, dst any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && s.Logger != nil {
			s.Logger.Warn().Err(err).Str("key", key).Msg("analytics cache read failed")
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.R.Set(ctx, key, data, s.TTL).Err(); err != nil && s.Logger != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("analytics cache write failed")
	}
}

// NewPGQuerier returns a Querier reading from the sales table.
func NewPGQuerier(pool *pgxpool.Pool) Querier {
	return &pgQuerier{pool: pool}
}

type pgQuerier struct {
	pool *pgxpool.Pool
}

func (q *pgQuerier) SalesDaily(ctx context.Context, from, to time.Time, tz string) ([]DailySales, error) {
	rows, err := q.pool.Query(ctx, `SELECT to_char(date_trunc('day', created_at AT TIME ZONE $3), 'YYYY-MM-DD') AS day,
       count(*), COALESCE(sum(total), 0)::text, COALESCE(sum(discount), 0)::text
FROM sales
WHERE status <> 'rejected' AND created_at >= $1 AND created_at < $2
GROUP BY 1 ORDER BY 1`, from, to, tz)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DailySales{}
	for rows.Next() {
		var (
			d                 DailySales
			revenue, discount string
		)
		if err := rows.Scan(&d.Day, &d.Orders, &revenue, &discount); err != nil {
			return nil, err
		}
		if d.Revenue, err = decimal.NewFromString(revenue); err != nil {
			return nil, fmt.Errorf("parse revenue for %s: %w", d.Day, err)
		}
		if d.Discount, err = decimal.NewFromString(discount); err != nil {
			return nil, fmt.Errorf("parse discount for %s: %w", d.Day, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *pgQuerier) TopProducts(ctx context.Context, limit, offset int) ([]TopProduct, error) {
	rows, err := q.pool.Query(ctx, `SELECT item->>'id', max(item->>'name'),
       sum((item->>'quantity')::bigint), sum((item->>'lineTotal')::numeric)::text
FROM sales, jsonb_array_elements(items) AS item
WHERE status <> 'rejected'
GROUP BY 1
ORDER BY 3 DESC, 4 DESC, 1
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TopProduct{}
	for rows.Next() {
		var (
			p       TopProduct
			revenue string
		)
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Quantity, &revenue); err != nil {
			return nil, err
		}
		if p.Revenue, err = decimal.NewFromString(revenue); err != nil {
			return nil, fmt.Errorf("parse revenue for %s: %w", p.ProductID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
