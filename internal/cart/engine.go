package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bakery/internal/obs"
	"github.com/noah-isme/backend-bakery/internal/pricing"
	"github.com/noah-isme/backend-bakery/internal/voucher"
)

var (
	// ErrInvalidQuantity is returned when a quantity is not a finite integer.
	ErrInvalidQuantity = errors.New("cart: quantity must be a finite integer")
	// ErrQuantityTooLarge is returned for integer quantities outside the int32 range.
	ErrQuantityTooLarge = errors.New("cart: quantity exceeds the supported maximum")
	// ErrPersistenceWriteFailed wraps store failures on save. The in-memory cart is kept.
	ErrPersistenceWriteFailed = errors.New("cart: persistence write failed")
	// ErrPersistenceReadFailed wraps store failures on load. The engine starts empty.
	ErrPersistenceReadFailed = errors.New("cart: persistence read failed")
	// ErrProductNotFound is returned by product sources for unknown product ids.
	ErrProductNotFound = errors.New("cart: product not found")
)

var nopLogger = zerolog.Nop()

// Product is the catalog view consumed by AddItem.
type Product struct {
	ID              string
	Name            string
	ImageURL        string
	Price           decimal.Decimal
	DiscountedPrice *decimal.Decimal
	OfferEndsAt     *time.Time
}

// activeDiscountedPrice returns the individual discount while the offer window is open.
func (p Product) activeDiscountedPrice(now time.Time) *decimal.Decimal {
	if p.DiscountedPrice == nil {
		return nil
	}
	if p.OfferEndsAt != nil && !now.Before(*p.OfferEndsAt) {
		return nil
	}
	v := *p.DiscountedPrice
	return &v
}

// LineItem is one product entry in the cart. It doubles as the persisted record shape.
type LineItem struct {
	ID              string           `json:"id"`
	Name            string           `json:"name,omitempty"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discountedPrice,omitempty"`
	Quantity        int              `json:"quantity"`
}

func (it LineItem) line() pricing.Line {
	return pricing.Line{Qty: it.Quantity, BasePrice: it.Price, DiscountedPrice: it.DiscountedPrice}
}

func (it LineItem) clone() LineItem {
	if it.DiscountedPrice != nil {
		v := *it.DiscountedPrice
		it.DiscountedPrice = &v
	}
	return it
}

// Discount is the applied promotional code. A nil *Discount means no discount.
type Discount struct {
	Code      string          `json:"code"`
	Percent   decimal.Decimal `json:"percent"`
	AppliedAt time.Time       `json:"appliedAt"`
}

// Options groups Engine dependencies.
type Options struct {
	Store  Store
	Codes  *voucher.Registry
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Engine owns the line items and discount state of a single cart. All methods are safe for
// concurrent use; mutations are serialized per engine.
type Engine struct {
	mu          sync.Mutex
	id          string
	items       []LineItem
	discount    *Discount
	discountErr string

	store  Store
	codes  *voucher.Registry
	now    func() time.Time
	logger *zerolog.Logger
}

// NewEngine constructs an engine for cartID and hydrates it from the configured store. Load
// failures are logged and leave the cart empty.
func NewEngine(ctx context.Context, cartID string, opts Options) *Engine {
	e := &Engine{
		id:     cartID,
		store:  opts.Store,
		codes:  opts.Codes,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = &nopLogger
	}
	if err := e.hydrate(ctx); err != nil {
		e.logger.Warn().Err(err).Str("cart_id", cartID).Msg("cart load failed, starting empty")
	}
	return e
}

func (e *Engine) hydrate(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	items, err := e.store.Load(ctx, e.id)
	if err != nil {
		obs.IncCounter(obs.CartPersistenceFailures, "load")
		return fmt.Errorf("%w: %w", ErrPersistenceReadFailed, err)
	}
	e.items = normalizeItems(items)
	return nil
}

// ID returns the cart identifier.
func (e *Engine) ID() string { return e.id }

// AddItem merges qty units of the product into the cart. Quantities below one are treated as one.
// An existing individual discount is never replaced; a missing one is filled from the product.
// The returned error is only ever ErrPersistenceWriteFailed.
func (e *Engine) AddItem(ctx context.Context, p Product, qty int) error {
	if qty < 1 {
		qty = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	discounted := p.activeDiscountedPrice(e.now())
	if idx := e.indexLocked(p.ID); idx >= 0 {
		item := &e.items[idx]
		item.Quantity += qty
		if item.DiscountedPrice == nil && discounted != nil {
			item.DiscountedPrice = discounted
		}
	} else {
		e.items = append(e.items, LineItem{
			ID:              p.ID,
			Name:            p.Name,
			ImageURL:        p.ImageURL,
			Price:           p.Price,
			DiscountedPrice: discounted,
			Quantity:        qty,
		})
	}
	return e.commitLocked(ctx, "add_item")
}

// RemoveItem deletes the line item if present. Unknown ids are a no-op.
func (e *Engine) RemoveItem(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(ctx, id)
}

func (e *Engine) removeLocked(ctx context.Context, id string) error {
	idx := e.indexLocked(id)
	if idx < 0 {
		return nil
	}
	e.items = append(e.items[:idx], e.items[idx+1:]...)
	return e.commitLocked(ctx, "remove_item")
}

// UpdateQuantity sets the quantity of an existing item; values below one remove it.
func (e *Engine) UpdateQuantity(ctx context.Context, id string, qty int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if qty < 1 {
		return e.removeLocked(ctx, id)
	}
	idx := e.indexLocked(id)
	if idx < 0 {
		return nil
	}
	e.items[idx].Quantity = qty
	return e.commitLocked(ctx, "update_quantity")
}

// Clear empties the cart and removes any applied discount.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = nil
	e.discount = nil
	e.discountErr = ""
	return e.commitLocked(ctx, "clear")
}

// ApplyDiscountCode validates the code against the registry and replaces any active discount.
// On failure the discount state is unchanged and the error is voucher.ErrCodeInvalid or
// voucher.ErrCodeExpired.
func (e *Engine) ApplyDiscountCode(code string) (Discount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	rule, err := e.codes.Lookup(code, now)
	if err != nil {
		e.discountErr = voucher.Message(rule, err)
		result := "invalid"
		if errors.Is(err, voucher.ErrCodeExpired) {
			result = "expired"
		}
		obs.IncCounter(obs.DiscountCodeAttempts, result)
		e.logger.Info().Str("cart_id", e.id).Str("code", voucher.NormalizeCode(code)).Str("result", result).Msg("discount code rejected")
		return Discount{}, err
	}
	d := Discount{Code: rule.Code, Percent: rule.Percent, AppliedAt: now}
	e.discount = &d
	e.discountErr = ""
	obs.IncCounter(obs.DiscountCodeAttempts, "applied")
	obs.IncCounter(obs.CartMutationsTotal, "apply_discount")
	return d, nil
}

// RemoveDiscountCode resets the discount state.
func (e *Engine) RemoveDiscountCode() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discount = nil
	e.discountErr = ""
	obs.IncCounter(obs.CartMutationsTotal, "remove_discount")
}

// Discount returns the active discount, if any.
func (e *Engine) Discount() (Discount, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discount == nil {
		return Discount{}, false
	}
	return *e.discount, true
}

// DiscountError returns the message of the last rejected code, cleared on success.
func (e *Engine) DiscountError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discountErr
}

// Items returns a copy of the line items in insertion order.
func (e *Engine) Items() []LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneItems(e.items)
}

// Contains reports whether the product is in the cart.
func (e *Engine) Contains(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexLocked(id) >= 0
}

// UnitFinalPrice applies the individual discount and then the active code to one unit.
func (e *Engine) UnitFinalPrice(item LineItem) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pricing.UnitFinalPrice(item.line(), e.percentLocked())
}

// Subtotal sums undiscounted line totals.
func (e *Engine) Subtotal() decimal.Decimal { return e.summary().Subtotal }

// DiscountedTotal sums line totals after individual and code discounts.
func (e *Engine) DiscountedTotal() decimal.Decimal { return e.summary().DiscountedTotal }

// TotalDiscount is Subtotal minus DiscountedTotal.
func (e *Engine) TotalDiscount() decimal.Decimal { return e.summary().TotalDiscount }

// ItemCount sums quantities across line items.
func (e *Engine) ItemCount() int { return e.summary().ItemCount }

func (e *Engine) summary() pricing.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked()
}

func (e *Engine) summaryLocked() pricing.Summary {
	lines := make([]pricing.Line, 0, len(e.items))
	for _, it := range e.items {
		lines = append(lines, it.line())
	}
	return pricing.Compute(lines, e.percentLocked())
}

func (e *Engine) percentLocked() decimal.Decimal {
	if e.discount == nil {
		return decimal.Zero
	}
	return e.discount.Percent
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.items {
		if e.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) commitLocked(ctx context.Context, op string) error {
	obs.IncCounter(obs.CartMutationsTotal, op)
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(ctx, e.id, cloneItems(e.items)); err != nil {
		obs.IncCounter(obs.CartPersistenceFailures, "save")
		e.logger.Warn().Err(err).Str("cart_id", e.id).Str("op", op).Msg("cart save failed, keeping in-memory state")
		return fmt.Errorf("%w: %w", ErrPersistenceWriteFailed, err)
	}
	return nil
}

// ParseQuantity converts a decoded JSON number into a quantity.
func ParseQuantity(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, ErrInvalidQuantity
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, ErrQuantityTooLarge
	}
	return int(v), nil
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.clone())
	}
	return out
}

// normalizeItems enforces collection invariants on records coming from storage.
func normalizeItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		if it.ID == "" || it.Quantity < 1 || !it.Price.IsPositive() {
			continue
		}
		if it.DiscountedPrice != nil && !it.DiscountedPrice.IsPositive() {
			it.DiscountedPrice = nil
		}
		if idx, ok := index[it.ID]; ok {
			out[idx].Quantity += it.Quantity
			if out[idx].DiscountedPrice == nil {
				out[idx].DiscountedPrice = it.DiscountedPrice
			}
			continue
		}
		index[it.ID] = len(out)
		out = append(out, it.clone())
	}
	return out
}
