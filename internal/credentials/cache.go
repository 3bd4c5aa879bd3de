// Package credentials holds the process-wide remote access token. Callers go
// through Cache.Token, which refreshes the token from its Source once the
// cached copy expires; the token is never read directly.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL = time.Hour
	// refreshSkew retires tokens slightly before their stated expiry.
	refreshSkew = time.Minute
)

var ErrNoToken = errors.New("source returned no token")

// Credential is one access token and the time it stops being valid. A zero
// ExpiresAt means the source did not say.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Source obtains a fresh credential from wherever it is issued.
type Source interface {
	Fetch(ctx context.Context) (*Credential, error)
}

// Store persists the cached credential across process restarts.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type Cache struct {
	mu      sync.Mutex
	source  Source
	store   Store
	key     string
	ttl     time.Duration
	current *Credential
	logger  logging.Logger
	now     func() time.Time
}

// NewCache builds a cache over source. store may be nil; name separates the
// persisted entries of different tenants.
func NewCache(source Source, store Store, name string, ttl time.Duration, logger logging.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		source: source,
		store:  store,
		key:    "credentials:" + name,
		ttl:    ttl,
		logger: logger.With("module", "credentials"),
		now:    time.Now,
	}
}

func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Token returns a valid access token, refreshing it if the cached one has
// expired.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid(c.current) {
		return c.current.Token, nil
	}
	if stored := c.load(ctx); c.valid(stored) {
		c.current = stored
		return stored.Token, nil
	}

	cred, err := c.source.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	if cred == nil || cred.Token == "" {
		return "", ErrNoToken
	}
	cred = &Credential{Token: cred.Token, ExpiresAt: c.expiry(cred)}
	c.current = cred
	c.save(ctx, cred)
	c.logger.Info(ctx, "access token refreshed", "expires_at", cred.ExpiresAt.UTC().Format(time.RFC3339))
	return cred.Token, nil
}

// Invalidate drops the cached token, e.g. after the remote rejected it.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	if c.store != nil {
		if err := c.store.Set(ctx, c.key, []byte("{}")); err != nil {
			c.logger.Warn(ctx, "failed to clear stored token", "error", err)
		}
	}
}

func (c *Cache) valid(cred *Credential) bool {
	return cred != nil && cred.Token != "" && c.now().Add(refreshSkew).Before(cred.ExpiresAt)
}

// expiry is the earliest of the source's stated expiry, the token's own exp
// claim and now+TTL.
func (c *Cache) expiry(cred *Credential) time.Time {
	exp := c.now().Add(c.ttl)
	if !cred.ExpiresAt.IsZero() && cred.ExpiresAt.Before(exp) {
		exp = cred.ExpiresAt
	}
	if jwtExp, ok := ExpiryFromJWT(cred.Token); ok && jwtExp.Before(exp) {
		exp = jwtExp
	}
	return exp
}

func (c *Cache) load(ctx context.Context) *Credential {
	if c.store == nil {
		return nil
	}
	raw, err := c.store.Get(ctx, c.key)
	if err != nil {
		c.logger.Warn(ctx, "failed to read stored token", "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil
	}
	return &cred
}

func (c *Cache) save(ctx context.Context, cred *Credential) {
	if c.store == nil {
		return
	}
	b, err := json.Marshal(cred)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, c.key, b); err != nil {
		c.logger.Warn(ctx, "failed to persist token", "error", err)
	}
}

// ExpiryFromJWT reads the exp claim of a JWT without verifying it. Opaque
// tokens report false.
func ExpiryFromJWT(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
