package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCartID is returned for identifiers that are not UUIDs.
var ErrInvalidCartID = errors.New("cart: invalid cart id")

const defaultIdleTTL = 30 * time.Minute

type session struct {
	engine   *Engine
	lastUsed time.Time
}

// Sessions keeps one live Engine per cart id. Discount state lives only as long as the session.
type Sessions struct {
	opts Options
	idle time.Duration

	mu      sync.Mutex
	engines map[string]*session
}

// NewSessions constructs a session registry. Engines idle longer than idle are evicted by Sweep.
func NewSessions(opts Options, idle time.Duration) *Sessions {
	if idle <= 0 {
		idle = defaultIdleTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sessions{opts: opts, idle: idle, engines: make(map[string]*session)}
}

// NewID returns a fresh cart identifier.
func NewID() string {
	return uuid.NewString()
}

// NormalizeID validates and canonicalizes a cart identifier.
func NormalizeID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", ErrInvalidCartID
	}
	return parsed.String(), nil
}

// Get returns the engine for id, hydrating it from the store on first use.
func (s *Sessions) Get(ctx context.Context, id string) (*Engine, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()

	s.mu.Lock()
	if sess, ok := s.engines[id]; ok {
		sess.lastUsed = now
		s.mu.Unlock()
		return sess.engine, nil
	}
	s.mu.Unlock()

	engine := NewEngine(ctx, id, s.opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.engines[id]; ok {
		sess.lastUsed = now
		return sess.engine, nil
	}
	s.engines[id] = &session{engine: engine, lastUsed: now}
	return engine, nil
}

// Do runs fn against the engine for id.
func (s *Sessions) Do(ctx context.Context, id string, fn func(*Engine) error) error {
	engine, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(engine)
}

// Forget drops the live engine for id. Persisted items are untouched.
func (s *Sessions) Forget(id string) {
	id, err := NormalizeID(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.engines, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.engines)
}

// Sweep evicts sessions idle since before now minus the idle window and returns how many were removed.
func (s *Sessions) Sweep(now time.Time) int {
	cutoff := now.Add(-s.idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.engines {
		if sess.lastUsed.Before(cutoff) {
			delete(s.engines, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle sessions on every tick until ctx is cancelled.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.opts.Now()); n > 0 && s.opts.Logger != nil {
				s.opts.Logger.Debug().Int("evicted", n).Msg("cart sessions swept")
			}
		}
	}
}
