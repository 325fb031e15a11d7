package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bakery/internal/cart"
	"github.com/noah-isme/backend-bakery/internal/common"
	"github.com/noah-isme/backend-bakery/internal/events"
	"github.com/noah-isme/backend-bakery/internal/lock"
	"github.com/noah-isme/backend-bakery/internal/obs"
)

var (
	// ErrEmptyCart is returned when checking out a cart without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCheckoutInProgress is returned when another checkout holds the cart.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	// ErrSubmitFailed wraps channel failures. The cart is left untouched.
	ErrSubmitFailed = errors.New("order submission failed")
)

// Locker guards checkout against concurrent submissions of the same cart.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// CheckoutInput is the customer-supplied checkout payload.
type CheckoutInput struct {
	Customer      Customer      `json:"customer"`
	PaymentMethod PaymentMethod `json:"paymentMethod" validate:"required,oneof=transfer cash"`
}

// CheckoutResult is returned after a successful submission.
type CheckoutResult struct {
	OrderID       string  `json:"orderId"`
	Summary       Summary `json:"summary"`
	Message       string  `json:"message"`
	WhatsAppURL   string  `json:"whatsappUrl,omitempty"`
	TransferAlias string  `json:"transferAlias,omitempty"`
}

// SalesStats aggregates sales for the admin dashboard.
type SalesStats struct {
	TotalSales     int             `json:"totalSales"`
	ByStatus       map[Status]int  `json:"byStatus"`
	Revenue        decimal.Decimal `json:"revenue"`
	PendingRevenue decimal.Decimal `json:"pendingRevenue"`
	DiscountGiven  decimal.Decimal `json:"discountGiven"`
}

// Service coordinates checkout handoff and sales administration.
type Service struct {
	Sessions      *cart.Sessions
	Sales         SalesStore
	Locker        Locker
	Events        *events.Bus
	ShopName      string
	ShopPhone     string
	TransferAlias string
	LockTTL       time.Duration
	Now           func() time.Time
	Logger        *zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *zerolog.Logger {
	if s != nil && s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// Checkout submits the cart once through the sales channel and clears it on success.
func (s *Service) Checkout(ctx context.Context, cartID string, in CheckoutInput) (CheckoutResult, error) {
	if s == nil || s.Sessions == nil || s.Sales == nil {
		return CheckoutResult{}, errors.New("checkout service not configured")
	}
	if err := common.ValidateStruct(in); err != nil {
		return CheckoutResult{}, err
	}
	if strings.TrimSpace(in.Customer.FirstName) == "" || strings.TrimSpace(in.Customer.LastName) == "" {
		return CheckoutResult{}, common.NewAppError("VALIDATION_FAILED", "customer first and last name are required", http.StatusBadRequest, nil)
	}
	engine, err := s.Sessions.Get(ctx, cartID)
	if err != nil {
		return CheckoutResult{}, err
	}

	var (
		orderID string
		summary Summary
	)
	settle := func(ctx context.Context) error {
		return engine.Settle(ctx, func(snap cart.Snapshot) error {
			if len(snap.Items) == 0 {
				return ErrEmptyCart
			}
			summary = BuildSummary(snap, in.Customer, in.PaymentMethod)
			id, err := s.Sales.Submit(ctx, summary)
			if err != nil {
				obs.IncCounter(obs.OrdersSubmittedTotal, "failed")
				return fmt.Errorf("%w: %w", ErrSubmitFailed, err)
			}
			obs.IncCounter(obs.OrdersSubmittedTotal, "submitted")
			orderID = id
			return nil
		})
	}
	if s.Locker != nil {
		err = s.Locker.TryWithLock(ctx, lock.CheckoutKey(engine.ID()), s.LockTTL, settle)
		if errors.Is(err, lock.ErrNotAcquired) {
			return CheckoutResult{}, ErrCheckoutInProgress
		}
	} else {
		err = settle(ctx)
	}
	if err != nil && orderID == "" {
		return CheckoutResult{}, err
	}
	if err != nil {
		s.logger().Warn().Err(err).Str("cart_id", engine.ID()).Str("order_id", orderID).Msg("cart not cleared after checkout")
	}

	if s.Events != nil {
		if _, emitErr := s.Events.Emit(ctx, events.TopicOrderCreated, orderID, map[string]any{
			"orderId":       orderID,
			"cartId":        summary.CartID,
			"total":         summary.Total,
			"discountCode":  summary.DiscountCode,
			"paymentMethod": summary.PaymentMethod,
			"customer":      summary.Customer.FullName(),
		}); emitErr != nil {
			s.logger().Error().Err(emitErr).Str("order_id", orderID).Msg("emit order.created")
		}
	}

	result := CheckoutResult{OrderID: orderID, Summary: summary, Message: Message(s.ShopName, summary)}
	if summary.PaymentMethod == PaymentTransfer {
		result.TransferAlias = s.TransferAlias
	}
	link, linkErr := WhatsAppLink(s.ShopPhone, result.Message)
	if linkErr != nil {
		s.logger().Warn().Err(linkErr).Msg("whatsapp handoff unavailable")
	} else {
		result.WhatsAppURL = link
	}
	s.logger().Info().Str("order_id", orderID).Str("cart_id", summary.CartID).Str("total", summary.Total.StringFixed(2)).Msg("order submitted")
	return result, nil
}

// ListSales returns sales matching the filter, newest first.
func (s *Service) ListSales(ctx context.Context, f SalesFilter) ([]Sale, error) {
	if s == nil || s.Sales == nil {
		return nil, errors.New("sales store not configured")
	}
	return s.Sales.List(ctx, f)
}

// UpdateStatus moves a sale to pending, approved or rejected and emits order.status_changed.
func (s *Service) UpdateStatus(ctx context.Context, id string, status string) (Sale, error) {
	if s == nil || s.Sales == nil {
		return Sale{}, errors.New("sales store not configured")
	}
	parsedID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return Sale{}, common.NewAppError("BAD_REQUEST", "invalid sale id", http.StatusBadRequest, err)
	}
	target, ok := ParseStatus(status)
	if !ok {
		return Sale{}, common.NewAppError("BAD_REQUEST", "status must be one of pending, approved, rejected", http.StatusBadRequest, nil)
	}
	sale, err := s.Sales.UpdateStatus(ctx, parsedID.String(), target, s.now())
	if err != nil {
		return Sale{}, err
	}
	if s.Events != nil {
		if _, emitErr := s.Events.Emit(ctx, events.TopicOrderStatusChanged, sale.ID, map[string]any{
			"orderId": sale.ID,
			"status":  sale.Status,
		}); emitErr != nil {
			s.logger().Error().Err(emitErr).Str("order_id", sale.ID).Msg("emit order.status_changed")
		}
	}
	return sale, nil
}

// Stats summarises sales matching the filter.
func (s *Service) Stats(ctx context.Context, f SalesFilter) (SalesStats, error) {
	sales, err := s.ListSales(ctx, f)
	if err != nil {
		return SalesStats{}, err
	}
	stats := SalesStats{
		TotalSales: len(sales),
		ByStatus:   map[Status]int{StatusPending: 0, StatusApproved: 0, StatusRejected: 0},
	}
	for _, sale := range sales {
		stats.ByStatus[sale.Status]++
		switch sale.Status {
		case StatusApproved:
			stats.Revenue = stats.Revenue.Add(sale.Total)
			stats.DiscountGiven = stats.DiscountGiven.Add(sale.Discount)
		case StatusPending:
			stats.PendingRevenue = stats.PendingRevenue.Add(sale.Total)
		}
	}
	return stats, nil
}
