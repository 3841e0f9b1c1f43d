package provider

import (
	"context"
	"sync"
	"time"
)

// TokenCache holds a credential and its expiry as an explicit object
// passed to whoever needs it. Invalidation is explicit too: callers
// that observe a rejected credential call Invalidate and the next
// Token call refetches.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	fetch     func(ctx context.Context) (string, time.Time, error)
}

// NewTokenCache builds a cache around a fetch function that returns a
// credential and its expiry.
func NewTokenCache(fetch func(ctx context.Context) (string, time.Time, error)) *TokenCache {
	return &TokenCache{fetch: fetch}
}

// StaticToken returns a cache for a credential that never expires, e.g.
// a long-lived API key from the environment.
func StaticToken(token string) *TokenCache {
	return &TokenCache{token: token, expiresAt: time.Now().Add(100 * 365 * 24 * time.Hour)}
}

// Token returns the cached credential, refetching when it is missing or
// expired.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}
	if c.fetch == nil {
		return c.token, nil
	}

	token, expiresAt, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}

// Invalidate discards the cached credential.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
