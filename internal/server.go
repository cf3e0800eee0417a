package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/laborar/portal/internal/auth"
	"github.com/laborar/portal/internal/config"
	"github.com/laborar/portal/internal/db"
	"github.com/laborar/portal/internal/middleware"
	"github.com/laborar/portal/internal/portal"
	"github.com/laborar/portal/internal/telemetry/metrics"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type sessionStore interface {
	auth.Store
	auth.Janitor
}

// implemented by the in-memory store only
type sessionCounter interface {
	Count() int64
}

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	sessions    sessionStore
	cookies     *auth.CookieCodec
	authService *auth.Service

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config *config.Config
	// flushes the tracer provider on shutdown, may be nil
	OtelShutdown func()
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	s := &Server{
		config:       cfg,
		otelShutdown: params.OtelShutdown,
		cookies: auth.NewCookieCodec(
			cfg.SessionCookieName,
			cfg.SessionSecret,
			cfg.CookieSecure,
			cfg.SessionTTL,
		),
	}

	var extraCollectors []prometheus.Collector
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       0, // use default DB
		})
		if cfg.TracingEnabled {
			s.redisClient.AddHook(redisotel.NewTracingHook())
		}

		rdbStatus := s.redisClient.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}

		s.sessions = auth.NewRedisStore(cfg.SessionTTL, s.redisClient)
	case config.SessionBackendPostgres:
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         cfg.PostgresUser,
			DBPassword:     cfg.PostgresPass,
			TracingEnabled: cfg.TracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		s.dbPool = dbPool

		pgStore := auth.NewPostgresStore(cfg.SessionTTL, dbPool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("ensure sessions schema: %w", err)
		}
		s.sessions = pgStore

		extraCollectors = append(extraCollectors, pgxpoolprometheus.NewCollector(
			dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	default:
		s.sessions = auth.NewMemoryStore(cfg.SessionTTL, cfg.MemoryStoreSize)
	}
	log.Debugf("session backend: %s", cfg.SessionBackend)

	s.promRegistry = metrics.SetupPrometheus(extraCollectors...)
	s.metricsManager = metrics.NewManager("backend", "portal", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	s.authService = auth.NewService(s.sessions, auth.Credentials{
		Username: cfg.DemoUser,
		Password: cfg.DemoPass,
	})

	return s, nil
}

func (s *Server) routerSetup() http.Handler {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("portal-router"))

	portalHandler := portal.NewHandler(
		s.authService,
		s.cookies,
		portal.NewDocuments(s.config.PublicDir, s.config.ViewsDir),
		s.metricsManager,
	)
	portalHandler.SetupRoutes(r, portal.NewStaticFiles(s.config.PublicDir))

	sessionGate := middleware.NewSessionGate(
		middleware.DefaultAccessRules(),
		s.sessions,
		s.cookies,
		s.metricsManager,
	)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.SecureHeaders(s.config.CookieSecure))
	r.Use(sessionGate.Check())
	r.Use(middleware.DrainAndCloseRequest())

	return handlers.ProxyHeaders(handlers.CompressHandler(r))
}

func (s *Server) Serve(ctx context.Context) {
	ipAndPort := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.httpServer = &http.Server{
		Handler:      s.routerSetup(),
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	go s.runSessionJanitor(ctx, s.config.SessionCleanEvery)

	s.metricsManager.GaugeLifeSignal.Set(1)
}

// runSessionJanitor sweeps expired sessions until ctx is done.
func (s *Server) runSessionJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		log.Debugln("session janitor disabled")
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugln("session janitor stopped")
			return
		case <-ticker.C:
			s.cleanSessions(ctx)
		}
	}
}

func (s *Server) cleanSessions(ctx context.Context) {
	s.sessions.ScanAndClean(ctx)
	if counter, ok := s.sessions.(sessionCounter); ok {
		s.metricsManager.GaugeActiveSessions.Set(float64(counter.Count()))
	}
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	if s.otelShutdown != nil {
		s.otelShutdown()
		log.Trace("otel shut down ...")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
