package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type User struct {
	Username string `json:"username"`
}

// Credentials is the single username/password pair accepted by the login.
// Resolved once from config at startup.
type Credentials struct {
	Username string
	Password string
}

// Matches reports whether both fields are exactly (case-sensitive) equal to
// the configured pair.
func (c Credentials) Matches(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(username))
	passOK := subtle.ConstantTimeCompare([]byte(c.Password), []byte(password))
	return userOK&passOK == 1
}

type contextKey string

const userContextKey contextKey = "laborar_user"

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok && u != nil
}
