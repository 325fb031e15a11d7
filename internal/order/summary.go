package order

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bakery/internal/cart"
)

// PaymentMethod is how the customer settles the order with the shop.
type PaymentMethod string

const (
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCash     PaymentMethod = "cash"
)

// Customer identifies who placed the order.
type Customer struct {
	FirstName string `json:"firstName" validate:"required,max=80"`
	LastName  string `json:"lastName" validate:"required,max=80"`
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Item is one ordered line with its final unit price.
type Item struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitFinalPrice decimal.Decimal `json:"unitFinalPrice"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
}

// Summary is the payload handed to the order submission channel.
type Summary struct {
	CartID        string          `json:"cartId"`
	Items         []Item          `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	DiscountCode  string          `json:"discountCode,omitempty"`
	Customer      Customer        `json:"customer"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
}

// BuildSummary derives the submission payload from a cart snapshot.
func BuildSummary(snap cart.Snapshot, customer Customer, method PaymentMethod) Summary {
	items := make([]Item, 0, len(snap.Items))
	for _, line := range snap.Items {
		name := line.Name
		if name == "" {
			name = line.ID
		}
		items = append(items, Item{
			ID:             line.ID,
			Name:           name,
			Quantity:       line.Quantity,
			UnitFinalPrice: line.UnitFinalPrice,
			LineTotal:      line.LineTotal,
		})
	}
	s := Summary{
		CartID:        snap.CartID,
		Items:         items,
		Subtotal:      snap.Subtotal,
		Discount:      snap.TotalDiscount,
		Total:         snap.DiscountedTotal,
		Customer:      Customer{FirstName: strings.TrimSpace(customer.FirstName), LastName: strings.TrimSpace(customer.LastName)},
		PaymentMethod: method,
	}
	if snap.Discount != nil {
		s.DiscountCode = snap.Discount.Code
	}
	return s
}
