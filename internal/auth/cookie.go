package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultCookieName = "laborar.sid"

// CookieCodec carries session tokens in a cookie signed with the session
// secret, so a forged or altered cookie never reaches the store.
type CookieCodec struct {
	name   string
	secret []byte
	secure bool
	maxAge time.Duration
}

func NewCookieCodec(name, secret string, secure bool, maxAge time.Duration) *CookieCodec {
	if name == "" {
		name = DefaultCookieName
	}
	return &CookieCodec{
		name:   name,
		secret: []byte(secret),
		secure: secure,
		maxAge: maxAge,
	}
}

func (c *CookieCodec) Name() string {
	return c.name
}

// Encode returns the cookie value for token: "<token>.<hmac-sha256>".
func (c *CookieCodec) Encode(token string) (string, error) {
	sig, err := jwt.SigningMethodHS256.Sign(token, c.secret)
	if err != nil {
		return "", err
	}
	return token + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Decode verifies the signature and returns the token.
func (c *CookieCodec) Decode(value string) (string, bool) {
	idx := strings.LastIndexByte(value, '.')
	if idx <= 0 || idx == len(value)-1 {
		return "", false
	}

	token, encodedSig := value[:idx], value[idx+1:]
	sig, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return "", false
	}

	if err := jwt.SigningMethodHS256.Verify(token, sig, c.secret); err != nil {
		return "", false
	}

	return token, true
}

// ReadToken extracts a verified session token from the request, if any.
func (c *CookieCodec) ReadToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return c.Decode(cookie.Value)
}

func (c *CookieCodec) SetSession(w http.ResponseWriter, token string) error {
	value, err := c.Encode(token)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.maxAge.Seconds()),
		Expires:  time.Now().Add(c.maxAge),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
