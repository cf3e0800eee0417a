package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/laborar/portal/internal/auth"
	"github.com/laborar/portal/internal/telemetry/metrics"
	"github.com/laborar/portal/internal/telemetry/tracing"
	"github.com/laborar/portal/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	loginPath   = "/login"
	landingPath = "/inicio"

	invalidCredentialsHTML = `Credenciales inválidas. <a href="/login">Volver</a>`
	invalidCredentialsJSON = "Usuario o contraseña incorrectos"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	OK       bool   `json:"ok"`
	Redirect string `json:"redirect,omitempty"`
	Error    string `json:"error,omitempty"`
}

type meResponse struct {
	User *auth.User `json:"user"`
}

type datosResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
	TS  int64  `json:"ts"`
}

type Handler struct {
	authService    *auth.Service
	cookies        *auth.CookieCodec
	documents      *Documents
	metricsManager *metrics.Manager
	now            func() time.Time
}

func NewHandler(
	authService *auth.Service,
	cookies *auth.CookieCodec,
	documents *Documents,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		authService:    authService,
		cookies:        cookies,
		documents:      documents,
		metricsManager: metricsManager,
		now:            time.Now,
	}
}

// SetupRoutes registers the portal routes. The static catch-all is registered
// last, so it only sees paths no other route claimed.
func (handler *Handler) SetupRoutes(router *mux.Router, static http.Handler) {
	router.HandleFunc("/", handler.handleRoot).Methods("GET", "HEAD").Name("root")
	router.HandleFunc("/salud", handler.handleHealth).Methods("GET", "HEAD").Name("health")
	router.HandleFunc("/api/salud", handler.handleHealth).Methods("GET", "HEAD").Name("api-health")

	router.HandleFunc("/login", handler.handleLoginPage).Methods("GET", "HEAD").Name("login-page")
	router.HandleFunc("/login", handler.handleFormLogin).Methods("POST").Name("login")
	router.HandleFunc("/api/login", handler.handleAPILogin).Methods("POST").Name("api-login")
	router.HandleFunc("/logout", handler.handleLogout).Methods("GET", "POST").Name("logout")
	router.HandleFunc("/api/logout", handler.handleLogout).Methods("POST").Name("api-logout")

	router.HandleFunc("/inicio", handler.handleLanding).Methods("GET", "HEAD").Name("inicio")
	router.HandleFunc("/inicio.html", handler.handleLandingRedirect).Methods("GET", "HEAD").Name("inicio-html")
	router.HandleFunc("/api/me", handler.handleMe).Methods("GET").Name("api-me")
	router.HandleFunc("/api/datos", handler.handleDatos).Methods("GET").Name("api-datos")

	if static != nil {
		router.PathPrefix("/").Handler(static)
	}
	router.NotFoundHandler = NotFoundHandler()
	router.MethodNotAllowedHandler = NotFoundHandler()
}

func (handler *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, loginPath, http.StatusFound)
}

func (handler *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "ok")
}

func (handler *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	handler.documents.Serve(w, r, LoginDocument)
}

func (handler *Handler) handleFormLogin(w http.ResponseWriter, r *http.Request) {
	if !handler.login(w, r, "portalHandler.login") {
		pkg.WriteResponse(w, pkg.ContentType.HTML, invalidCredentialsHTML, http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, landingPath, http.StatusSeeOther)
}

func (handler *Handler) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	if !handler.login(w, r, "portalHandler.apiLogin") {
		pkg.WriteJSON(w, http.StatusUnauthorized, loginResponse{
			OK:    false,
			Error: invalidCredentialsJSON,
		})
		return
	}
	pkg.WriteJSON(w, http.StatusOK, loginResponse{
		OK:       true,
		Redirect: landingPath,
	})
}

// login runs the credential check and, on success, sets the session cookie.
// A failure to persist the session is reported like a rejected login: no
// cookie is set either way.
func (handler *Handler) login(w http.ResponseWriter, r *http.Request, spanName string) bool {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), spanName)
	defer span.End()

	loginReq := readLoginRequest(r)
	span.SetAttributes(attribute.String("user.username", loginReq.Username))

	token, err := handler.authService.Login(ctx, loginReq.Username, loginReq.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Tracef("failed login attempt for user [%s] from [%s]", loginReq.Username, pkg.ReadUserIP(r))
			span.SetStatus(codes.Error, "invalid credentials")
		} else {
			log.Errorf("login failed: %s", err)
			span.SetStatus(codes.Error, "login failed")
			span.RecordError(err)
		}
		handler.countLogin("failure")
		return false
	}

	if err := handler.cookies.SetSession(w, token); err != nil {
		log.Errorf("login failed, set session cookie: %s", err)
		if logoutErr := handler.authService.Logout(ctx, token); logoutErr != nil {
			log.Errorf("drop orphan session: %s", logoutErr)
		}
		handler.countLogin("failure")
		return false
	}

	log.Tracef("new login success for user [%s]", loginReq.Username)
	span.SetStatus(codes.Ok, "logged in")
	handler.countLogin("success")
	return true
}

func (handler *Handler) countLogin(result string) {
	if handler.metricsManager != nil {
		handler.metricsManager.CounterLogins.WithLabelValues(result).Inc()
	}
}

// readLoginRequest accepts JSON or url-encoded bodies. Anything unreadable
// yields empty credentials.
func readLoginRequest(r *http.Request) loginRequest {
	var loginReq loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if r.Body == nil {
			return loginReq
		}
		if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
			log.Tracef("login, unmarshal json params: %s", err)
			return loginRequest{}
		}
		return loginReq
	}

	if err := r.ParseForm(); err != nil {
		log.Tracef("login, parse form: %s", err)
		return loginReq
	}
	return loginRequest{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "portalHandler.logout")
	defer span.End()

	if token, ok := handler.cookies.ReadToken(r); ok {
		if err := handler.authService.Logout(ctx, token); err != nil {
			log.Errorf("logout, destroy session: %s", err)
			span.RecordError(err)
		} else if handler.metricsManager != nil {
			handler.metricsManager.CounterLogouts.Inc()
		}
	}

	handler.cookies.Clear(w)
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

func (handler *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	handler.documents.Serve(w, r, LandingDocument)
}

func (handler *Handler) handleLandingRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, landingPath, http.StatusFound)
}

func (handler *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	pkg.WriteJSON(w, http.StatusOK, meResponse{User: user})
}

func (handler *Handler) handleDatos(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		pkg.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	pkg.WriteJSON(w, http.StatusOK, datosResponse{
		OK:  true,
		Msg: "Solo con sesión",
		TS:  handler.now().UnixMilli(),
	})
}
