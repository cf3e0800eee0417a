package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/laborar/portal/internal/auth"
	"github.com/laborar/portal/internal/telemetry/metrics"
	"github.com/laborar/portal/internal/telemetry/tracing"
	"github.com/laborar/portal/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -source=$GOFILE -destination=auth_mocks_test.go -package=middleware_test

type sessionLookup interface {
	Lookup(ctx context.Context, token string) (*auth.User, error)
}

type Protection int

const (
	Public Protection = iota
	ProtectedPage
	ProtectedAPI
)

// AccessRules decides which paths need a session. Matching is case-insensitive
// and a rule path covers itself and everything below it.
type AccessRules struct {
	// landing area, e.g. /inicio and /inicio/...
	ProtectedPrefixes []string
	// every path under APIPrefix is protected, except PublicAPIPaths
	APIPrefix      string
	PublicAPIPaths []string
	// where page requests without a session are sent
	LoginPath string
}

func DefaultAccessRules() AccessRules {
	return AccessRules{
		ProtectedPrefixes: []string{"/inicio"},
		APIPrefix:         "/api/",
		PublicAPIPaths: []string{
			"/api/login",
			"/api/logout",
			"/api/salud",
		},
		LoginPath: "/login",
	}
}

func (rules AccessRules) Classify(path string) Protection {
	path = strings.ToLower(path)

	for _, prefix := range rules.ProtectedPrefixes {
		if pathUnder(path, strings.ToLower(prefix)) {
			return ProtectedPage
		}
	}

	if rules.APIPrefix != "" && strings.HasPrefix(path, strings.ToLower(rules.APIPrefix)) {
		for _, public := range rules.PublicAPIPaths {
			if pathUnder(path, strings.ToLower(public)) {
				return Public
			}
		}
		return ProtectedAPI
	}

	return Public
}

func pathUnder(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

type SessionGate struct {
	rules          AccessRules
	sessions       sessionLookup
	cookies        *auth.CookieCodec
	metricsManager *metrics.Manager
}

func NewSessionGate(
	rules AccessRules,
	sessions sessionLookup,
	cookies *auth.CookieCodec,
	metricsManager *metrics.Manager,
) *SessionGate {
	if rules.LoginPath == "" {
		rules.LoginPath = "/login"
	}
	return &SessionGate{
		rules:          rules,
		sessions:       sessions,
		cookies:        cookies,
		metricsManager: metricsManager,
	}
}

// Check lets requests to protected paths through only with a valid session,
// putting its user into the request context. Everything else passes untouched.
func (g *SessionGate) Check() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protection := g.rules.Classify(r.URL.Path)
			if protection == Public {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.sessionGate")
			defer span.End()

			token, ok := g.cookies.ReadToken(r)
			if !ok {
				log.Tracef("[missing session] [session gate] unauthorized => %s", r.URL.Path)
				span.SetStatus(codes.Error, "missing-session")
				g.reject(w, r, protection)
				return
			}

			user, err := g.sessions.Lookup(ctx, token)
			if err != nil {
				if errors.Is(err, auth.ErrSessionNotFound) {
					log.Tracef("[invalid session] [session gate] unauthorized => %s", r.URL.Path)
					span.SetStatus(codes.Error, "not-logged")
				} else {
					log.Errorf("[failed session lookup] => %s: %s", r.URL.Path, err)
					span.SetStatus(codes.Error, "lookup-err")
					span.RecordError(err)
				}
				g.reject(w, r, protection)
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

func (g *SessionGate) reject(w http.ResponseWriter, r *http.Request, protection Protection) {
	if protection == ProtectedAPI {
		if g.metricsManager != nil {
			g.metricsManager.CounterGateRejected.WithLabelValues("api").Inc()
		}
		pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	if g.metricsManager != nil {
		g.metricsManager.CounterGateRejected.WithLabelValues("page").Inc()
	}
	http.Redirect(w, r, g.rules.LoginPath, http.StatusFound)
}
