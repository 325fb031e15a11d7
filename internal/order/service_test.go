package order_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bakery/internal/cart"
	"github.com/noah-isme/backend-bakery/internal/events"
	"github.com/noah-isme/backend-bakery/internal/lock"
	"github.com/noah-isme/backend-bakery/internal/order"
	"github.com/noah-isme/backend-bakery/internal/voucher"
)

type memSales struct {
	mu        sync.Mutex
	sales     map[string]order.Sale
	submitted []order.Summary
	submitErr error
	calls     int
}

func newMemSales() *memSales {
	return &memSales{sales: map[string]order.Sale{}}
}

func (m *memSales) Submit(_ context.Context, s order.Summary) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.submitErr != nil {
		return "", m.submitErr
	}
	id := uuid.NewString()
	m.submitted = append(m.submitted, s)
	m.sales[id] = order.Sale{ID: id, CartID: s.CartID, Items: s.Items, Subtotal: s.Subtotal, Discount: s.Discount, Total: s.Total, Status: order.StatusPending}
	return id, nil
}

func (m *memSales) List(_ context.Context, f order.SalesFilter) ([]order.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Sale
	for _, s := range m.sales {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memSales) UpdateStatus(_ context.Context, id string, status order.Status, at time.Time) (order.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return order.Sale{}, order.ErrSaleNotFound
	}
	s.Status = status
	s.UpdatedAt = at
	m.sales[id] = s
	return s, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memEvents) InsertDomainEvent(_ context.Context, ev events.Event) (events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return ev, nil
}

var shopLoc = time.FixedZone("ART", -3*60*60)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	svc      *order.Service
	sessions *cart.Sessions
	sales    *memSales
	events   *memEvents
	store    *cart.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	now := time.Date(2025, 10, 20, 10, 0, 0, 0, shopLoc)
	reg, err := voucher.ParseRegistry("EXPO2025:0.10:2025-10-24T23:59:59", shopLoc)
	require.NoError(t, err)
	store := cart.NewMemoryStore()
	sessions := cart.NewSessions(cart.Options{Store: store, Codes: reg, Now: func() time.Time { return now }}, time.Hour)
	sales := newMemSales()
	evs := &memEvents{}
	svc := &order.Service{
		Sessions:      sessions,
		Sales:         sales,
		Events:        &events.Bus{Store: evs},
		ShopName:      "Gossip Cake",
		ShopPhone:     "+54 9 351 555-0101",
		TransferAlias: "gossip.cake.mp",
		Now:           func() time.Time { return now },
	}
	return fixture{svc: svc, sessions: sessions, sales: sales, events: evs, store: store}
}

func (f fixture) fillCart(t *testing.T, withCode bool) string {
	t.Helper()
	ctx := context.Background()
	id := cart.NewID()
	discounted := dec("8")
	require.NoError(t, f.sessions.Do(ctx, id, func(e *cart.Engine) error {
		if err := e.AddItem(ctx, cart.Product{ID: "tart", Name: "Fruit tart", Price: dec("10"), DiscountedPrice: &discounted}, 2); err != nil {
			return err
		}
		if withCode {
			_, err := e.ApplyDiscountCode("EXPO2025")
			return err
		}
		return nil
	}))
	return id
}

func validInput() order.CheckoutInput {
	return order.CheckoutInput{
		Customer:      order.Customer{FirstName: "Ana", LastName: "Pérez"},
		PaymentMethod: order.PaymentTransfer,
	}
}

func TestCheckoutSubmitsOnceAndClearsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fillCart(t, true)

	res, err := f.svc.Checkout(ctx, id, validInput())
	require.NoError(t, err)
	require.NotEmpty(t, res.OrderID)
	require.Equal(t, 1, f.sales.calls)

	sum := f.sales.submitted[0]
	require.Len(t, sum.Items, 1)
	require.True(t, sum.Items[0].UnitFinalPrice.Equal(dec("7.2")))
	require.True(t, sum.Total.Equal(dec("14.4")))
	require.True(t, sum.Discount.Equal(dec("5.6")))
	require.Equal(t, "EXPO2025", sum.DiscountCode)

	require.Contains(t, res.Message, "• Fruit tart x2 - $14.40")
	require.Contains(t, res.Message, "*TOTAL: $14.40*")
	require.Contains(t, res.Message, "*Customer:* Ana Pérez")
	require.Contains(t, res.Message, "*Discount code:* EXPO2025")
	require.Contains(t, res.Message, "Bank transfer")
	require.Equal(t, "gossip.cake.mp", res.TransferAlias)

	require.True(t, strings.HasPrefix(res.WhatsAppURL, "https://wa.me/5493515550101?text="))
	parsed, err := url.Parse(res.WhatsAppURL)
	require.NoError(t, err)
	require.Equal(t, res.Message, parsed.Query().Get("text"))

	engine, err := f.sessions.Get(ctx, id)
	require.NoError(t, err)
	require.Zero(t, engine.ItemCount())
	_, ok := engine.Discount()
	require.False(t, ok)
	stored, err := f.store.Load(ctx, id)
	require.NoError(t, err)
	require.Empty(t, stored)

	require.Len(t, f.events.events, 1)
	require.Equal(t, events.TopicOrderCreated, f.events.events[0].Topic)
	require.Equal(t, res.OrderID, f.events.events[0].AggregateID)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), cart.NewID(), validInput())
	require.ErrorIs(t, err, order.ErrEmptyCart)
	require.Zero(t, f.sales.calls)
}

func TestCheckoutSubmitFailureKeepsCart(t *testing.T) {
	f := newFixture(t)
	f.sales.submitErr = errors.New("db down")
	ctx := context.Background()
	id := f.fillCart(t, true)

	_, err := f.svc.Checkout(ctx, id, validInput())
	require.ErrorIs(t, err, order.ErrSubmitFailed)
	require.Equal(t, 1, f.sales.calls)

	engine, err := f.sessions.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, engine.ItemCount())
	_, ok := engine.Discount()
	require.True(t, ok)
	require.Empty(t, f.events.events)
}

func TestCheckoutValidatesInput(t *testing.T) {
	f := newFixture(t)
	id := f.fillCart(t, false)

	_, err := f.svc.Checkout(context.Background(), id, order.CheckoutInput{Customer: order.Customer{FirstName: "Ana", LastName: "P"}, PaymentMethod: "card"})
	require.Error(t, err)

	_, err = f.svc.Checkout(context.Background(), id, order.CheckoutInput{Customer: order.Customer{FirstName: " ", LastName: "P"}, PaymentMethod: order.PaymentCash})
	require.Error(t, err)
	require.Zero(t, f.sales.calls)
}

func TestCheckoutRejectsConcurrentCheckout(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	f.svc.Locker = lock.Locker{R: client, TTL: time.Second}
	id := f.fillCart(t, false)

	require.NoError(t, mr.Set(lock.CheckoutKey(id), "other-holder"))
	_, err = f.svc.Checkout(context.Background(), id, validInput())
	require.ErrorIs(t, err, order.ErrCheckoutInProgress)
	require.Zero(t, f.sales.calls)

	mr.Del(lock.CheckoutKey(id))
	res, err := f.svc.Checkout(context.Background(), id, validInput())
	require.NoError(t, err)
	require.NotEmpty(t, res.OrderID)
	require.False(t, mr.Exists(lock.CheckoutKey(id)))
}

func TestCheckoutWithoutShopPhoneStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.svc.ShopPhone = ""
	id := f.fillCart(t, false)

	res, err := f.svc.Checkout(context.Background(), id, order.CheckoutInput{Customer: order.Customer{FirstName: "Luis", LastName: "Gómez"}, PaymentMethod: order.PaymentCash})
	require.NoError(t, err)
	require.Empty(t, res.WhatsAppURL)
	require.Contains(t, res.Message, "Cash on delivery")
	require.NotContains(t, res.Message, "Discount code")
}

func TestUpdateStatusAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Checkout(ctx, f.fillCart(t, false), validInput())
	require.NoError(t, err)
	second, err := f.svc.Checkout(ctx, f.fillCart(t, true), validInput())
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, f.fillCart(t, false), validInput())
	require.NoError(t, err)

	sale, err := f.svc.UpdateStatus(ctx, first.OrderID, "APPROVED")
	require.NoError(t, err)
	require.Equal(t, order.StatusApproved, sale.Status)
	_, err = f.svc.UpdateStatus(ctx, second.OrderID, "rejected")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, first.OrderID, "shipped")
	require.Error(t, err)
	_, err = f.svc.UpdateStatus(ctx, uuid.NewString(), "approved")
	require.ErrorIs(t, err, order.ErrSaleNotFound)

	stats, err := f.svc.Stats(ctx, order.SalesFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalSales)
	require.Equal(t, 1, stats.ByStatus[order.StatusApproved])
	require.Equal(t, 1, stats.ByStatus[order.StatusRejected])
	require.Equal(t, 1, stats.ByStatus[order.StatusPending])
	require.True(t, stats.Revenue.Equal(dec("16")))
	require.True(t, stats.PendingRevenue.Equal(dec("16")))
	require.True(t, stats.DiscountGiven.Equal(dec("4")))

	var statusEvents int
	for _, ev := range f.events.events {
		if ev.Topic == events.TopicOrderStatusChanged {
			statusEvents++
		}
	}
	require.Equal(t, 2, statusEvents)
}
