package catalog

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bakery/internal/cart"
	"github.com/noah-isme/backend-bakery/internal/common"
)

// ErrNotFound indicates the requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a bakery catalog entry.
type Product struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discountedPrice,omitempty"`
	OfferEndsAt     *time.Time       `json:"offerEndsAt,omitempty"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	Stock           int              `json:"stock"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// HasDiscount reports whether an individual discount below the base price is set.
func (p Product) HasDiscount() bool {
	return p.DiscountedPrice != nil && p.DiscountedPrice.LessThan(p.Price)
}

// OfferActive reports whether a time-limited offer is still running at now.
func (p Product) OfferActive(now time.Time) bool {
	return p.OfferEndsAt != nil && now.Before(*p.OfferEndsAt)
}

// CartProduct converts the product for the cart engine. The discounted price is dropped once the
// offer window has closed.
func (p Product) CartProduct(now time.Time) cart.Product {
	out := cart.Product{
		ID:          p.ID,
		Name:        p.Name,
		ImageURL:    p.ImageURL,
		Price:       p.Price,
		OfferEndsAt: p.OfferEndsAt,
	}
	if p.DiscountedPrice != nil && (p.OfferEndsAt == nil || p.OfferActive(now)) {
		v := *p.DiscountedPrice
		out.DiscountedPrice = &v
	}
	return out
}

// ProductInput is the admin payload for creating or replacing a product.
type ProductInput struct {
	Name            string           `json:"name" validate:"required,max=120"`
	Description     string           `json:"description" validate:"max=2000"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discountedPrice"`
	OfferEndsAt     *time.Time       `json:"offerEndsAt"`
	ImageURL        string           `json:"imageUrl" validate:"omitempty,url"`
	Stock           int              `json:"stock" validate:"gte=0"`
}

func (in ProductInput) normalize() ProductInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	return in
}

func (in ProductInput) checkPrices() error {
	if !in.Price.IsPositive() {
		return badRequest("price", "price must be greater than zero", nil)
	}
	if in.DiscountedPrice != nil && !in.DiscountedPrice.IsPositive() {
		return badRequest("discountedPrice", "discountedPrice must be greater than zero", nil)
	}
	return nil
}

// Stats summarises the catalog for the admin dashboard.
type Stats struct {
	TotalProducts        int `json:"totalProducts"`
	ActiveOffers         int `json:"activeOffers"`
	ProductsWithDiscount int `json:"productsWithDiscount"`
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details: map[string]any{
			"field": field,
		},
	}
}
