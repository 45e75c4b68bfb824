package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

// DefaultTTL is how long a fetched token is reused before asking the source
// again. Rapid reconnects within the window share one credential fetch.
const DefaultTTL = 60 * time.Second

// expiryLeeway treats a token as stale slightly before its JWT exp claim so a
// connect attempt never rides an about-to-expire credential.
const expiryLeeway = 5 * time.Second

// TokenSource supplies a short-lived bearer credential on demand.
//
// Implementations may fail, for example when the user must re-authenticate.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a plain function to a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a TokenSource that always yields the same token.
func Static(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", fmt.Errorf("token not set")
		}
		return token, nil
	})
}

// CachedTokenSource wraps another TokenSource and caches its result for a
// fixed TTL. When the cached token is a JWT its exp claim is also honored, so
// a token that expires inside the TTL window is refreshed early.
type CachedTokenSource struct {
	src TokenSource
	ttl time.Duration

	mu        sync.Mutex
	token     string
	fetchedAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewCached wraps src with a TTL cache. A non-positive ttl uses DefaultTTL.
func NewCached(src TokenSource, ttl time.Duration) *CachedTokenSource {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedTokenSource{
		src: src,
		ttl: ttl,
		now: time.Now,
	}
}

// Token returns the cached token when fresh, otherwise fetches a new one.
func (c *CachedTokenSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Sub(c.fetchedAt) < c.ttl && !tokenExpired(c.token, now) {
		return c.token, nil
	}

	token, err := c.src.Token(ctx)
	if err != nil {
		// Keep nothing: the next caller retries the source.
		return "", fmt.Errorf("fetch token: %w", err)
	}
	c.token = token
	c.fetchedAt = now
	return token, nil
}

// Invalidate drops the cached token so the next Token call hits the source.
func (c *CachedTokenSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.fetchedAt = time.Time{}
}

// tokenExpired reports whether a JWT bearer token has passed (or is about to
// pass) its exp claim. Opaque non-JWT tokens are never considered expired
// here; the TTL alone governs them.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	if now.Add(expiryLeeway).After(exp.Time) {
		logger.Debugf("cached token expires at %s, refreshing", exp.Time.Format(time.RFC3339))
		return true
	}
	return false
}
