package pricing

import "github.com/shopspring/decimal"

// Money is a decimal monetary amount in the shop currency.
type Money = decimal.Decimal

// Line describes a cart line used for pricing calculation.
type Line struct {
	Qty             int
	BasePrice       Money
	DiscountedPrice *Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal        Money `json:"subtotal"`
	DiscountedTotal Money `json:"discountedTotal"`
	TotalDiscount   Money `json:"totalDiscount"`
	ItemCount       int   `json:"itemCount"`
}

// HasIndividualDiscount reports whether the line carries a per-product price below its base price.
func (l Line) HasIndividualDiscount() bool {
	return l.DiscountedPrice != nil && l.DiscountedPrice.LessThan(l.BasePrice)
}

// UnitFinalPrice applies the individual discount first and the code percentage second.
// percent is a fraction; zero means no code discount is active.
func UnitFinalPrice(l Line, percent Money) Money {
	price := l.BasePrice
	if l.HasIndividualDiscount() {
		price = *l.DiscountedPrice
	}
	if percent.IsPositive() {
		price = price.Mul(decimal.NewFromInt(1).Sub(percent))
	}
	return price
}

// Compute calculates cart totals for the provided lines and code percentage.
func Compute(lines []Line, percent Money) Summary {
	subtotal := decimal.Zero
	discounted := decimal.Zero
	count := 0
	for _, l := range lines {
		if l.Qty <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(l.Qty))
		subtotal = subtotal.Add(l.BasePrice.Mul(qty))
		discounted = discounted.Add(UnitFinalPrice(l, percent).Mul(qty))
		count += l.Qty
	}
	return Summary{
		Subtotal:        subtotal,
		DiscountedTotal: discounted,
		TotalDiscount:   subtotal.Sub(discounted),
		ItemCount:       count,
	}
}
