package order

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// ErrShopPhoneMissing is returned when no WhatsApp number is configured for the shop.
var ErrShopPhoneMissing = errors.New("order: shop whatsapp phone not configured")

// Message renders the order text the customer sends to the shop.
func Message(shopName string, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi! I'm reaching out from the *%s* website.\n\n", shopName)
	b.WriteString("*MY ORDER:*\n")
	for _, it := range s.Items {
		fmt.Fprintf(&b, "• %s x%d - $%s\n", it.Name, it.Quantity, it.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\n*TOTAL: $%s*", s.Total.StringFixed(2))
	if name := s.Customer.FullName(); name != "" {
		fmt.Fprintf(&b, "\n\n*Customer:* %s", name)
	}
	if s.DiscountCode != "" {
		fmt.Fprintf(&b, "\n*Discount code:* %s", s.DiscountCode)
	}
	switch s.PaymentMethod {
	case PaymentTransfer:
		b.WriteString("\n*Payment method:* Bank transfer (receipt attached)")
	case PaymentCash:
		b.WriteString("\n*Payment method:* Cash on delivery")
	}
	b.WriteString("\n\nThank you very much!")
	return b.String()
}

// WhatsAppLink builds a wa.me click-to-chat URL for phone with the message prefilled.
func WhatsAppLink(phone, message string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return "", ErrShopPhoneMissing
	}
	text := strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
	return "https://wa.me/" + digits + "?text=" + text, nil
}
