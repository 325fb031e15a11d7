package cart

import (
	"context"
	"sync"
)

// Store persists cart line items. Discount state is never persisted.
type Store interface {
	Load(ctx context.Context, cartID string) ([]LineItem, error)
	Save(ctx context.Context, cartID string, items []LineItem) error
}

// MemoryStore keeps carts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string][]LineItem
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string][]LineItem)}
}

// Load returns a copy of the stored items, or nil when the cart is unknown.
func (m *MemoryStore) Load(_ context.Context, cartID string) ([]LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.carts[cartID]
	if !ok {
		return nil, nil
	}
	return cloneItems(items), nil
}

// Save replaces the stored items. An empty list deletes the cart.
func (m *MemoryStore) Save(_ context.Context, cartID string, items []LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(items) == 0 {
		delete(m.carts, cartID)
		return nil
	}
	m.carts[cartID] = cloneItems(items)
	return nil
}
