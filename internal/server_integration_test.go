//go:build integration_test || all_tests

package internal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/laborar/portal/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/suite"
)

const integrationServerHost = "127.0.0.1"

// Define the suite, and absorb the built-in basic suite
// functionality from testify - including a T() method which
// returns the current testing context
type IntegrationTestSuite struct {
	suite.Suite

	dockerPool *dockertest.Pool
	// session backend => running server
	servers   map[string]*Server
	endpoints map[string]string
	cancel    context.CancelFunc
	teardown  []func()
}

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

// runs before all tests are executed
func (s *IntegrationTestSuite) SetupSuite() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.teardown = make([]func(), 0)
	s.servers = make(map[string]*Server)
	s.endpoints = make(map[string]string)

	// uses a sensible default on windows (tcp/http) and linux/osx (socket)
	var err error
	s.dockerPool, err = dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not create new dockertest pool: %s", err)
	}
	if err = s.dockerPool.Client.Ping(); err != nil {
		log.Fatalf("could not ping dockertest pool: %s", err)
	}

	redisPort, err := s.redisSetup(ctx)
	if err != nil {
		s.cleanup()
		log.Fatalf("failed to setup redis: %s", err)
	}

	pgPort, err := s.postgresSetup(ctx)
	if err != nil {
		s.cleanup()
		log.Fatalf("failed to setup postgres: %s", err)
	}

	for i, backend := range []string{
		config.SessionBackendMemory,
		config.SessionBackendRedis,
		config.SessionBackendPostgres,
	} {
		cfg := s.testConfig(backend, 9000+i, redisPort, pgPort)
		server, err := NewServer(ctx, NewServerParams{Config: cfg})
		if err != nil {
			s.cleanup()
			log.Fatalf("new %s server: %s", backend, err)
		}
		server.Serve(ctx)

		s.servers[backend] = server
		s.endpoints[backend] = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	for backend, endpoint := range s.endpoints {
		if err := s.dockerPool.Retry(func() error {
			resp, err := http.Get(endpoint + "/salud")
			if err != nil {
				return err
			}
			return resp.Body.Close()
		}); err != nil {
			s.cleanup()
			log.Fatalf("%s server not ready: %s", backend, err)
		}
	}
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.cleanup()
}

func (s *IntegrationTestSuite) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, server := range s.servers {
		server.GracefulShutdown()
	}
	for _, teardown := range s.teardown {
		teardown()
	}
}

func (s *IntegrationTestSuite) testConfig(backend string, port int, redisPort, pgPort string) *config.Config {
	cfg := config.Default()
	cfg.Host = integrationServerHost
	cfg.Port = port
	cfg.PublicDir = s.T().TempDir()
	cfg.ViewsDir = s.T().TempDir()
	cfg.SessionBackend = backend
	cfg.SessionSecret = "integration-secret"
	cfg.RedisHost = "localhost"
	cfg.RedisPort = redisPort
	cfg.PostgresHost = "localhost"
	cfg.PostgresPort = pgPort
	cfg.PostgresDBName = "laborar"
	cfg.PrometheusMetricsHost = integrationServerHost
	cfg.PrometheusMetricsPort = strconv.Itoa(port + 100)
	cfg.SessionCleanEvery = time.Second
	return cfg
}

func (s *IntegrationTestSuite) redisSetup(ctx context.Context) (string, error) {
	redisResource, err := s.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		return "", fmt.Errorf("run redis: %s", err)
	}

	s.teardown = append(s.teardown, func() {
		if err := redisResource.Close(); err != nil {
			fmt.Printf("redis teardown: %s\n", err)
		}
	})

	redisPort := redisResource.GetPort("6379/tcp")
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:" + redisPort})
	defer rdb.Close()

	if err := s.dockerPool.Retry(func() error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		return "", fmt.Errorf("connect to redis: %w", err)
	}

	return redisPort, nil
}

func (s *IntegrationTestSuite) postgresSetup(ctx context.Context) (string, error) {
	pgResource, err := s.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_DB=laborar",
			"POSTGRES_HOST_AUTH_METHOD=trust",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return "", fmt.Errorf("dockerpool run postgres: %s", err)
	}

	s.teardown = append(s.teardown, func() {
		if err := pgResource.Close(); err != nil {
			fmt.Printf("postgres teardown: %s\n", err)
		}
	})

	pgPort := pgResource.GetPort("5432/tcp")
	dsn := fmt.Sprintf("postgres://postgres@localhost:%s/laborar?sslmode=disable", pgPort)
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return "", fmt.Errorf("create connection pool: %w", err)
	}
	defer db.Close()

	if err := s.dockerPool.Retry(func() error {
		return db.Ping(ctx)
	}); err != nil {
		return "", fmt.Errorf("connect to db: %w", err)
	}

	return pgPort, nil
}

func (s *IntegrationTestSuite) newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	s.Require().NoError(err)
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func (s *IntegrationTestSuite) TestLoginLogout() {
	for backend, endpoint := range s.endpoints {
		s.Run(backend, func() {
			client := s.newClient()

			resp, err := client.Get(endpoint + "/inicio")
			s.Require().NoError(err)
			s.Require().NoError(resp.Body.Close())
			s.Equal("/login", resp.Request.URL.Path)

			resp, err = client.PostForm(endpoint+"/login", url.Values{"username": {"prueba"}, "password": {"mala"}})
			s.Require().NoError(err)
			s.Require().NoError(resp.Body.Close())
			s.Equal(http.StatusUnauthorized, resp.StatusCode)

			resp, err = client.PostForm(endpoint+"/login", url.Values{"username": {"prueba"}, "password": {"1234"}})
			s.Require().NoError(err)
			s.Require().NoError(resp.Body.Close())
			s.Equal(http.StatusOK, resp.StatusCode)
			s.Equal("/inicio", resp.Request.URL.Path)
			s.Equal("no-cache", resp.Header.Get("Pragma"))

			resp, err = client.Get(endpoint + "/api/me")
			s.Require().NoError(err)
			body, err := io.ReadAll(resp.Body)
			s.Require().NoError(err)
			s.Require().NoError(resp.Body.Close())
			s.Equal(http.StatusOK, resp.StatusCode)
			s.JSONEq(`{"user":{"username":"prueba"}}`, string(body))

			resp, err = client.PostForm(endpoint+"/api/logout", url.Values{})
			s.Require().NoError(err)
			s.Require().NoError(resp.Body.Close())
			s.Equal("/login", resp.Request.URL.Path)

			resp, err = client.Get(endpoint + "/api/me")
			s.Require().NoError(err)
			s.Require().NoError(resp.Body.Close())
			s.Equal(http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func (s *IntegrationTestSuite) TestMetricsEndpoint() {
	for backend, server := range s.servers {
		s.Run(backend, func() {
			metricsURL := fmt.Sprintf("http://%s/metrics", server.metricsHttpServer.Addr)
			resp, err := http.Get(metricsURL)
			s.Require().NoError(err)
			body, err := io.ReadAll(resp.Body)
			s.Require().NoError(err)
			s.Require().NoError(resp.Body.Close())

			s.Equal(http.StatusOK, resp.StatusCode)
			s.Contains(string(body), "backend_portal_life_signal 1")
			if backend == config.SessionBackendPostgres {
				s.Contains(string(body), "pgxpool_")
			}
		})
	}
}
