package cart_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bakery/internal/cart"
)

func TestSessionsReuseEngineAndEvictIdle(t *testing.T) {
	var (
		mu  sync.Mutex
		now = beforeExpo()
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := cart.NewMemoryStore()
	sessions := cart.NewSessions(cart.Options{Store: store, Codes: newRegistry(t), Now: clock}, 10*time.Minute)
	ctx := context.Background()
	id := cart.NewID()

	first, err := sessions.Get(ctx, id)
	require.NoError(t, err)
	second, err := sessions.Get(ctx, " "+id+" ")
	require.NoError(t, err)
	require.Same(t, first, second)

	require.NoError(t, first.AddItem(ctx, cart.Product{ID: "loaf", Price: dec("5")}, 2))
	_, err = first.ApplyDiscountCode("EXPO2025")
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(11 * time.Minute)
	mu.Unlock()
	require.Equal(t, 1, sessions.Sweep(clock()))
	require.Zero(t, sessions.Len())

	rehydrated, err := sessions.Get(ctx, id)
	require.NoError(t, err)
	require.NotSame(t, first, rehydrated)
	require.Equal(t, 2, rehydrated.ItemCount())
	_, ok := rehydrated.Discount()
	require.False(t, ok)
}

func TestSessionsRejectInvalidID(t *testing.T) {
	sessions := cart.NewSessions(cart.Options{}, time.Minute)
	err := sessions.Do(context.Background(), "../etc", func(*cart.Engine) error { return nil })
	require.ErrorIs(t, err, cart.ErrInvalidCartID)
}

func TestSessionsSerializeConcurrentAdds(t *testing.T) {
	sessions := cart.NewSessions(cart.Options{Store: cart.NewMemoryStore()}, time.Minute)
	ctx := context.Background()
	id := cart.NewID()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sessions.Do(ctx, id, func(e *cart.Engine) error {
				return e.AddItem(ctx, cart.Product{ID: "cookie", Price: dec("1")}, 1)
			})
		}()
	}
	wg.Wait()

	engine, err := sessions.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 50, engine.ItemCount())
}
