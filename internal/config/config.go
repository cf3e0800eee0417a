package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	SessionBackendMemory   = "memory"
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

type Config struct {
	Environment string `toml:"-"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	PublicDir   string `toml:"public_dir"`
	ViewsDir    string `toml:"views_dir"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`

	// session
	SessionSecret     string        `toml:"session_secret"`
	SessionTTL        time.Duration `toml:"session_ttl"`
	SessionBackend    string        `toml:"session_backend"`
	SessionCookieName string        `toml:"session_cookie_name"`
	CookieSecure      bool          `toml:"cookie_secure"`
	SessionCleanEvery time.Duration `toml:"session_clean_every"`
	MemoryStoreSize   int           `toml:"memory_store_size"`

	// demo credentials
	DemoUser string `toml:"demo_user"`
	DemoPass string `toml:"demo_pass"`

	// redis
	RedisHost     string `toml:"redis_host"`
	RedisPort     string `toml:"redis_port"`
	RedisPassword string `toml:"-"`

	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	PostgresUser   string `toml:"postgres_user"`
	PostgresPass   string `toml:"-"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
	TracingEnabled        bool   `toml:"tracing_enabled"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Default returns the hardcoded fallbacks used when neither the config file
// nor the environment set a value.
func Default() *Config {
	return &Config{
		Host:                  "0.0.0.0",
		Port:                  3000,
		PublicDir:             "./public",
		ViewsDir:              "./views",
		LogLevel:              "info",
		SessionSecret:         "dev-secret",
		SessionTTL:            8 * time.Hour,
		SessionBackend:        SessionBackendMemory,
		SessionCookieName:     "laborar.sid",
		SessionCleanEvery:     time.Hour,
		DemoUser:              "prueba",
		DemoPass:              "1234",
		RedisHost:             "localhost",
		RedisPort:             "6379",
		PostgresHost:          "localhost",
		PostgresPort:          "5432",
		PostgresDBName:        "laborar",
		PostgresUser:          "postgres",
		PrometheusMetricsHost: "127.0.0.1",
		PrometheusMetricsPort: "9091",
	}
}

// Load resolves the config for env: defaults, then the [env] table of the
// TOML file at path (a missing file is fine), then environment variables.
func Load(env, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := loadFile(env, path)
		if err != nil {
			return nil, err
		}
		if fileCfg != nil {
			cfg.merge(fileCfg)
		}
	}

	if strings.HasPrefix(strings.ToLower(env), "prod") {
		cfg.CookieSecure = true
	}

	if err := cfg.updateFromEnv(); err != nil {
		return nil, err
	}

	cfg.Environment = env
	return cfg, cfg.validate()
}

func loadFile(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	return t.Get(env)
}

// merge copies every non-zero field of other over cfg.
func (cfg *Config) merge(other *Config) {
	mergeString(&cfg.Host, other.Host)
	if other.Port != 0 {
		cfg.Port = other.Port
	}
	mergeString(&cfg.PublicDir, other.PublicDir)
	mergeString(&cfg.ViewsDir, other.ViewsDir)
	mergeString(&cfg.LogLevel, other.LogLevel)
	mergeString(&cfg.LogsPath, other.LogsPath)
	cfg.LogToStdout = other.LogToStdout
	cfg.LogFormatJSON = other.LogFormatJSON
	mergeString(&cfg.SessionSecret, other.SessionSecret)
	if other.SessionTTL > 0 {
		cfg.SessionTTL = other.SessionTTL
	}
	mergeString(&cfg.SessionBackend, other.SessionBackend)
	mergeString(&cfg.SessionCookieName, other.SessionCookieName)
	cfg.CookieSecure = other.CookieSecure
	if other.SessionCleanEvery > 0 {
		cfg.SessionCleanEvery = other.SessionCleanEvery
	}
	if other.MemoryStoreSize > 0 {
		cfg.MemoryStoreSize = other.MemoryStoreSize
	}
	mergeString(&cfg.DemoUser, other.DemoUser)
	mergeString(&cfg.DemoPass, other.DemoPass)
	mergeString(&cfg.RedisHost, other.RedisHost)
	mergeString(&cfg.RedisPort, other.RedisPort)
	mergeString(&cfg.PostgresHost, other.PostgresHost)
	mergeString(&cfg.PostgresPort, other.PostgresPort)
	mergeString(&cfg.PostgresDBName, other.PostgresDBName)
	mergeString(&cfg.PostgresUser, other.PostgresUser)
	mergeString(&cfg.PrometheusMetricsHost, other.PrometheusMetricsHost)
	mergeString(&cfg.PrometheusMetricsPort, other.PrometheusMetricsPort)
	cfg.TracingEnabled = other.TracingEnabled
}

func mergeString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func (cfg *Config) updateFromEnv() error {
	if secret, ok := os.LookupEnv("SESSION_SECRET"); ok && secret != "" {
		cfg.SessionSecret = secret
	}
	if user, ok := os.LookupEnv("DEMO_USER"); ok && user != "" {
		cfg.DemoUser = user
	}
	if pass, ok := os.LookupEnv("DEMO_PASS"); ok && pass != "" {
		cfg.DemoPass = pass
	}
	if host, ok := os.LookupEnv("HOST"); ok && host != "" {
		cfg.Host = host
	}
	if portStr, ok := os.LookupEnv("PORT"); ok && portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid PORT [%s]: %w", portStr, err)
		}
		cfg.Port = port
	}
	if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok && lvl != "" {
		cfg.LogLevel = lvl
	}
	if backend, ok := os.LookupEnv("SESSION_BACKEND"); ok && backend != "" {
		cfg.SessionBackend = strings.ToLower(backend)
	}
	if host, ok := os.LookupEnv("REDIS_HOST"); ok && host != "" {
		cfg.RedisHost = host
	}
	if port, ok := os.LookupEnv("REDIS_PORT"); ok && port != "" {
		cfg.RedisPort = port
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASS")
	if host, ok := os.LookupEnv("POSTGRES_HOST"); ok && host != "" {
		cfg.PostgresHost = host
	}
	if port, ok := os.LookupEnv("POSTGRES_PORT"); ok && port != "" {
		cfg.PostgresPort = port
	}
	if db, ok := os.LookupEnv("POSTGRES_DB"); ok && db != "" {
		cfg.PostgresDBName = db
	}
	if user, ok := os.LookupEnv("POSTGRES_USER"); ok && user != "" {
		cfg.PostgresUser = user
	}
	cfg.PostgresPass = os.Getenv("POSTGRES_PASS")
	if strings.EqualFold(os.Getenv("NODE_ENV"), "production") || strings.EqualFold(os.Getenv("ENV"), "production") {
		cfg.CookieSecure = true
	}
	return nil
}

func (cfg *Config) validate() error {
	switch cfg.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis, SessionBackendPostgres:
	default:
		return fmt.Errorf("unknown session backend: %s", cfg.SessionBackend)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.ViewsDir != "" && filepath.Clean(cfg.ViewsDir) == filepath.Clean(cfg.PublicDir) {
		return errors.New("views dir must differ from the public dir")
	}
	if cfg.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	return nil
}
