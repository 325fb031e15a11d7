package cart

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bakery/internal/obs"
	"github.com/noah-isme/backend-bakery/internal/pricing"
)

// LineView is a line item with its computed prices.
type LineView struct {
	LineItem
	UnitFinalPrice decimal.Decimal `json:"unitFinalPrice"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
}

// Snapshot is a consistent read of the cart taken under a single lock.
type Snapshot struct {
	CartID        string     `json:"cartId"`
	Items         []LineView `json:"items"`
	Discount      *Discount  `json:"discount,omitempty"`
	DiscountError string     `json:"discountError,omitempty"`
	pricing.Summary
}

// Snapshot returns the cart contents and totals.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Settle runs fn against a snapshot while holding the cart, and clears the cart and its discount
// when fn succeeds. Errors from fn are returned untouched and leave the cart as it was.
func (e *Engine) Settle(ctx context.Context, fn func(Snapshot) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.snapshotLocked()); err != nil {
		return err
	}
	e.items = nil
	e.discount = nil
	e.discountErr = ""
	obs.IncCounter(obs.CartMutationsTotal, "settle")
	if e.store == nil {
		return nil
	}
	err := e.store.Save(ctx, e.id, nil)
	if err != nil {
		err = e.store.Save(context.WithoutCancel(ctx), e.id, nil)
	}
	if err != nil {
		obs.IncCounter(obs.CartPersistenceFailures, "settle")
		e.logger.Error().Err(err).Str("cart_id", e.id).Msg("settled cart still stored, ordered items may reappear")
		return fmt.Errorf("%w: %w", ErrPersistenceWriteFailed, err)
	}
	return nil
}

func (e *Engine) snapshotLocked() Snapshot {
	percent := e.percentLocked()
	views := make([]LineView, 0, len(e.items))
	for _, it := range e.items {
		unit := pricing.UnitFinalPrice(it.line(), percent)
		views = append(views, LineView{
			LineItem:       it.clone(),
			UnitFinalPrice: unit,
			LineTotal:      unit.Mul(decimal.NewFromInt(int64(it.Quantity))),
		})
	}
	snap := Snapshot{
		CartID:        e.id,
		Items:         views,
		DiscountError: e.discountErr,
		Summary:       e.summaryLocked(),
	}
	if e.discount != nil {
		d := *e.discount
		snap.Discount = &d
	}
	return snap
}
