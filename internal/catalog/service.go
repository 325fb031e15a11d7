package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bakery/internal/cart"
	"github.com/noah-isme/backend-bakery/internal/common"
)

// Service orchestrates catalog persistence, validation and caching.
type Service struct {
	repo   Repository
	cache  *Cache
	now    func() time.Time
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Repository Repository
	Cache      *Cache
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("catalog: repository is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Service{repo: cfg.Repository, cache: cfg.Cache, now: now, logger: logger}, nil
}

// List returns all products, newest first.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	var cached []Product
	if ok, err := s.cache.GetJSON(ctx, listCacheKey, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("catalog cache read failed")
	}
	products, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []Product{}
	}
	if err := s.cache.SetJSON(ctx, listCacheKey, products); err != nil {
		s.logger.Warn().Err(err).Msg("catalog cache write failed")
	}
	return products, nil
}

// Get returns a single product.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	id, err := parseID(id)
	if err != nil {
		return Product{}, err
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// CartProduct resolves a product for the cart engine.
func (s *Service) CartProduct(ctx context.Context, id string) (cart.Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) || common.IsAppError(err) {
			return cart.Product{}, fmt.Errorf("%w: %s", cart.ErrProductNotFound, id)
		}
		return cart.Product{}, err
	}
	return p.CartProduct(s.now()), nil
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, in ProductInput) (Product, error) {
	in = in.normalize()
	if err := s.validate(in); err != nil {
		return Product{}, err
	}
	now := s.now().UTC()
	p := fromInput(uuid.NewString(), in)
	p.CreatedAt = now
	p.UpdatedAt = now
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	s.invalidate(ctx)
	return created, nil
}

// Update replaces the editable fields of an existing product.
func (s *Service) Update(ctx context.Context, id string, in ProductInput) (Product, error) {
	id, err := parseID(id)
	if err != nil {
		return Product{}, err
	}
	in = in.normalize()
	if err := s.validate(in); err != nil {
		return Product{}, err
	}
	p := fromInput(id, in)
	p.UpdatedAt = s.now().UTC()
	updated, err := s.repo.Update(ctx, p)
	if err != nil {
		return Product{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a product.
func (s *Service) Delete(ctx context.Context, id string) error {
	id, err := parseID(id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Stats computes dashboard counters at the current instant.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	products, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := s.now()
	stats := Stats{TotalProducts: len(products)}
	for _, p := range products {
		if p.OfferActive(now) {
			stats.ActiveOffers++
		}
		if p.HasDiscount() {
			stats.ProductsWithDiscount++
		}
	}
	return stats, nil
}

func (s *Service) validate(in ProductInput) error {
	if err := common.ValidateStruct(in); err != nil {
		return err
	}
	return in.checkPrices()
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, listCacheKey); err != nil {
		s.logger.Warn().Err(err).Msg("catalog cache invalidation failed")
	}
}

func fromInput(id string, in ProductInput) Product {
	p := Product{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		ImageURL:    in.ImageURL,
		Stock:       in.Stock,
	}
	if in.DiscountedPrice != nil {
		v := *in.DiscountedPrice
		p.DiscountedPrice = &v
	}
	if in.OfferEndsAt != nil {
		t := in.OfferEndsAt.UTC()
		p.OfferEndsAt = &t
	}
	return p
}

func parseID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", badRequest("id", "id must be a valid UUID", err)
	}
	return parsed.String(), nil
}
