package auth

import (
	"context"
	"time"

	"github.com/laborar/portal/pkg"
)

const (
	DefaultTTL = 8 * time.Hour

	// number of random bytes behind every session token
	tokenLength = 32
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)

	_ Janitor = (*MemoryStore)(nil)
	_ Janitor = (*RedisStore)(nil)
	_ Janitor = (*PostgresStore)(nil)
)

// Store keeps the mapping from an opaque session token to its user.
type Store interface {
	// Create issues a new session bound to user and returns its token.
	Create(ctx context.Context, user User) (string, error)
	// Lookup returns ErrSessionNotFound for unknown, destroyed or expired tokens.
	Lookup(ctx context.Context, token string) (*User, error)
	// Destroy removes the session. Destroying an unknown token is not an error.
	Destroy(ctx context.Context, token string) error
}

// Janitor is implemented by stores that need expired sessions swept periodically.
type Janitor interface {
	ScanAndClean(ctx context.Context)
}

type Session struct {
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newSession(user User, now time.Time, ttl time.Duration) Session {
	return Session{
		User:      user,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// storeBase holds what every backend shares: ttl, clock and token source.
type storeBase struct {
	ttl time.Duration
	now func() time.Time
	// ability to inject random string generator func for tokens (for unit and dev testing)
	RandStringFunc func(s int) (string, error)
}

func newStoreBase(ttl time.Duration) storeBase {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return storeBase{
		ttl:            ttl,
		now:            time.Now,
		RandStringFunc: pkg.GenerateRandomString,
	}
}

func (b *storeBase) newToken() (string, error) {
	return b.RandStringFunc(tokenLength)
}

// SetClock replaces the time source, used to exercise expiry in tests.
func (b *storeBase) SetClock(now func() time.Time) {
	b.now = now
}

func (b *storeBase) TTL() time.Duration {
	return b.ttl
}
