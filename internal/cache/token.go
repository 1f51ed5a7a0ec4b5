// Package cache holds short-lived credentials for authority sources.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSkew is how long before expiry a token stops being handed out.
const DefaultSkew = 30 * time.Second

// ErrEmptyToken is returned when a fetch produced no token value.
var ErrEmptyToken = errors.New("empty token")

// Token is a credential with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// FetchFunc obtains a fresh token.
type FetchFunc func(ctx context.Context) (Token, error)

// TokenCache returns a cached token or fetches a new one when it is missing
// or about to expire. Concurrent refreshes may both hit the source; fetching
// a token is idempotent.
type TokenCache interface {
	GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (string, error)
	Invalidate(ctx context.Context, key string) error
}

// MemoryTokenCache is an in-process TokenCache. Concurrent misses for the
// same key share one fetch.
type MemoryTokenCache struct {
	mu      sync.RWMutex
	entries map[string]Token
	skew    time.Duration
	group   singleflight.Group
	now     func() time.Time
}

// NewMemoryTokenCache creates a memory cache. A non-positive skew means
// DefaultSkew.
func NewMemoryTokenCache(skew time.Duration) *MemoryTokenCache {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &MemoryTokenCache{entries: map[string]Token{}, skew: skew, now: time.Now}
}

func (m *MemoryTokenCache) lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.entries[key]
	if !ok || !m.now().Add(m.skew).Before(t.ExpiresAt) {
		return "", false
	}
	return t.Value, true
}

func (m *MemoryTokenCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (string, error) {
	if v, ok := m.lookup(key); ok {
		return v, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.lookup(key); ok {
			return v, nil
		}
		t, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		if t.Value == "" {
			return "", ErrEmptyToken
		}
		m.mu.Lock()
		m.entries[key] = t
		m.mu.Unlock()
		return t.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *MemoryTokenCache) Invalidate(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
