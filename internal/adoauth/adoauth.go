// Package adoauth implements the Token Provider (spec §4's leaf component,
// §6.3's auth column): it produces bearer tokens for ADO REST and, through a
// distinct authenticator, for the Analytics/OData endpoint, which rejects
// OAuth tokens outright and only accepts Azure-CLI-issued ones.
//
// Refresh is single-flighted so concurrent callers racing a cache miss share
// one in-flight token fetch, per spec §5 "Token cache: single-flight;
// concurrent callers share one in-flight refresh."
package adoauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a bearer token with its expiry, as returned by a Source.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

func (t Token) validFor(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Add(skew).Before(t.ExpiresAt)
}

// Source acquires a fresh token from an upstream identity provider. REST and
// Analytics have distinct Source implementations because ADO Analytics
// rejects the primary OAuth flow's tokens (spec §6.3).
type Source interface {
	Acquire(ctx context.Context) (Token, error)
}

// Cache wraps a Source with single-flighted, expiry-aware caching so repeat
// callers don't each round-trip to the identity provider. An optional
// Backend makes the cache shared across processes (e.g. a Redis-backed
// Backend for multiple server instances fronting the same ADO org); the
// zero value keeps everything in-process.
type Cache struct {
	source Source
	skew   time.Duration
	group  singleflight.Group
	key    string

	mu      sync.RWMutex
	cached  Token
	backend Backend
}

// Backend is an optional shared store for cached tokens, so a Cache can be
// backed by something other than process memory (see redisbackend.go).
type Backend interface {
	Load(ctx context.Context, key string) (Token, bool, error)
	Store(ctx context.Context, key string, tok Token) error
}

// NewCache constructs a Cache. key namespaces the token within an optional
// shared Backend (e.g. "rest" vs "analytics"); skew is how much lead time
// before expiry a cached token is considered stale (typically a minute or
// two, to avoid races against ADO's own clock).
func NewCache(source Source, key string, skew time.Duration, backend Backend) *Cache {
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Cache{source: source, key: key, skew: skew, backend: backend}
}

// Token returns a valid bearer token, refreshing via Source.Acquire if the
// cached one is stale or absent. Concurrent calls during a refresh share the
// same in-flight Acquire call.
func (c *Cache) Token(ctx context.Context) (Token, error) {
	now := time.Now()

	c.mu.RLock()
	cur := c.cached
	c.mu.RUnlock()
	if cur.validFor(now, c.skew) {
		return cur, nil
	}

	if c.backend != nil {
		if tok, ok, err := c.backend.Load(ctx, c.key); err == nil && ok && tok.validFor(now, c.skew) {
			c.mu.Lock()
			c.cached = tok
			c.mu.Unlock()
			return tok, nil
		}
	}

	v, err, _ := c.group.Do(c.key, func() (any, error) {
		tok, err := c.source.Acquire(ctx)
		if err != nil {
			return Token{}, err
		}
		c.mu.Lock()
		c.cached = tok
		c.mu.Unlock()
		if c.backend != nil {
			_ = c.backend.Store(ctx, c.key, tok)
		}
		return tok, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate clears the cached token, forcing the next Token call to
// refresh. Useful after a 401 from ADO suggests the cached token was
// revoked out of band.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cached = Token{}
	c.mu.Unlock()
}
