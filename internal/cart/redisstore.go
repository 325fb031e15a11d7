package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCartTTL = 7 * 24 * time.Hour

// RedisStore persists carts as JSON documents under cart:<id> with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore constructs a Redis-backed store. A non-positive ttl falls back to seven days.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &RedisStore{client: client, ttl: ttl, prefix: "cart:"}
}

func (s *RedisStore) key(cartID string) string {
	return s.prefix + cartID
}

// Load reads the stored items and refreshes the TTL. Missing keys yield an empty cart.
func (s *RedisStore) Load(ctx context.Context, cartID string) ([]LineItem, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("cart store not configured")
	}
	data, err := s.client.GetEx(ctx, s.key(cartID), s.ttl).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", cartID, err)
	}
	return items, nil
}

// Save writes the items as a JSON array. An empty list removes the key.
func (s *RedisStore) Save(ctx context.Context, cartID string, items []LineItem) error {
	if s == nil || s.client == nil {
		return errors.New("cart store not configured")
	}
	if len(items) == 0 {
		return s.client.Del(ctx, s.key(cartID)).Err()
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(cartID), data, s.ttl).Err()
}
