package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/laborar/portal/internal/auth"
	"github.com/laborar/portal/internal/middleware"
	"github.com/laborar/portal/internal/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAccessRules_Classify(t *testing.T) {
	rules := middleware.DefaultAccessRules()

	testCases := []struct {
		path     string
		expected middleware.Protection
	}{
		{"/", middleware.Public},
		{"/login", middleware.Public},
		{"/login.html", middleware.Public},
		{"/styles.css", middleware.Public},
		{"/inicio", middleware.ProtectedPage},
		{"/inicio/", middleware.ProtectedPage},
		{"/inicio/perfil", middleware.ProtectedPage},
		{"/INICIO", middleware.ProtectedPage},
		{"/Inicio/Perfil", middleware.ProtectedPage},
		{"/inicios", middleware.Public},
		{"/inicio.html", middleware.Public},
		// static aliases are refused by the static handler, not the gate
		{"/inicio.html/", middleware.Public},
		{"/api/login", middleware.Public},
		{"/API/LOGIN", middleware.Public},
		{"/api/logout", middleware.Public},
		{"/api/salud", middleware.Public},
		{"/api/me", middleware.ProtectedAPI},
		{"/api/datos", middleware.ProtectedAPI},
		{"/api/loginx", middleware.ProtectedAPI},
		{"/api/otra/cosa", middleware.ProtectedAPI},
		{"/Api/Me", middleware.ProtectedAPI},
		{"/api", middleware.Public},
		{"/salud", middleware.Public},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, rules.Classify(tc.path))
		})
	}
}

func TestSessionGate_Check(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSessions := NewMocksessionLookup(ctrl)
	cookies := auth.NewCookieCodec(auth.DefaultCookieName, "gate-secret", false, time.Hour)
	metricsManager := metrics.NewTestManager()

	gate := middleware.NewSessionGate(
		middleware.DefaultAccessRules(),
		mockSessions,
		cookies,
		metricsManager,
	)

	signed := func(token string) string {
		v, err := cookies.Encode(token)
		require.NoError(t, err)
		return v
	}

	testCases := []struct {
		name               string
		path               string
		cookieValue        string
		mockToken          string
		mockUser           *auth.User
		mockErr            error
		expectedStatusCode int
		expectedLocation   string
		expectedBody       string
		expectedUser       string
	}{
		{
			name:               "PublicPathWithoutCookie",
			path:               "/login",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "PublicAPIPathWithoutCookie",
			path:               "/api/salud",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "ProtectedPageWithoutCookie",
			path:               "/inicio",
			expectedStatusCode: http.StatusFound,
			expectedLocation:   "/login",
		},
		{
			name:               "ProtectedSubPageWithoutCookie",
			path:               "/inicio/algo",
			expectedStatusCode: http.StatusFound,
			expectedLocation:   "/login",
		},
		{
			name:               "ProtectedAPIWithoutCookie",
			path:               "/api/me",
			expectedStatusCode: http.StatusUnauthorized,
			expectedBody:       `{"error":"unauthorized"}`,
		},
		{
			name:               "ProtectedAPIWithTamperedCookie",
			path:               "/api/datos",
			cookieValue:        "some-token.not-a-signature",
			expectedStatusCode: http.StatusUnauthorized,
			expectedBody:       `{"error":"unauthorized"}`,
		},
		{
			name:               "ProtectedPageWithValidSession",
			path:               "/inicio",
			cookieValue:        signed("valid-token"),
			mockToken:          "valid-token",
			mockUser:           &auth.User{Username: "prueba"},
			expectedStatusCode: http.StatusOK,
			expectedUser:       "prueba",
		},
		{
			name:               "ProtectedAPIWithValidSession",
			path:               "/api/me",
			cookieValue:        signed("valid-token-2"),
			mockToken:          "valid-token-2",
			mockUser:           &auth.User{Username: "prueba"},
			expectedStatusCode: http.StatusOK,
			expectedUser:       "prueba",
		},
		{
			name:               "ProtectedAPIWithUnknownSession",
			path:               "/api/me",
			cookieValue:        signed("gone-token"),
			mockToken:          "gone-token",
			mockErr:            auth.ErrSessionNotFound,
			expectedStatusCode: http.StatusUnauthorized,
			expectedBody:       `{"error":"unauthorized"}`,
		},
		{
			name:               "ProtectedPageWithStoreFailure",
			path:               "/inicio",
			cookieValue:        signed("store-down"),
			mockToken:          "store-down",
			mockErr:            errors.New("connection refused"),
			expectedStatusCode: http.StatusFound,
			expectedLocation:   "/login",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: tc.cookieValue})
			}

			if tc.mockToken != "" {
				mockSessions.EXPECT().
					Lookup(gomock.Any(), tc.mockToken).
					Return(tc.mockUser, tc.mockErr).
					Times(1)
			}

			var seenUser string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if user, ok := auth.UserFromContext(r.Context()); ok {
					seenUser = user.Username
				}
			})

			rr := httptest.NewRecorder()
			gate.Check()(handler).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			assert.Equal(t, tc.expectedLocation, rr.Header().Get("Location"))
			assert.Equal(t, tc.expectedUser, seenUser)
			if tc.expectedBody != "" {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}

	// 3 api rejections, 3 page rejections
	assert.Equal(t, float64(3), testutil.ToFloat64(metricsManager.CounterGateRejected.WithLabelValues("api")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metricsManager.CounterGateRejected.WithLabelValues("page")))
}
