// Package config loads the back-office service configuration from an
// optional .env file, an optional YAML file and PORTAL_* environment
// variables, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"igrejaportal.org/internal/auth"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Identity IdentityConfig `yaml:"identity"`
	Audit    AuditConfig    `yaml:"audit"`
	Roles    RolesConfig    `yaml:"roles"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IdentityConfig points at the hosted identity provider.
type IdentityConfig struct {
	IssuerURL         string        `yaml:"issuer_url"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	AdminURL          string        `yaml:"admin_url"`
	ServiceKey        string        `yaml:"service_key"`
	SessionSecret     string        `yaml:"session_secret"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	AccessCookie      string        `yaml:"access_cookie"`
	RefreshCookie     string        `yaml:"refresh_cookie"`
	SessionCookie     string        `yaml:"session_cookie"`
	SecureCookies     bool          `yaml:"secure_cookies"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	EnrichConcurrency int           `yaml:"enrich_concurrency"`
}

type AuditConfig struct {
	RetentionDays int  `yaml:"retention_days"`
	SweepOnView   bool `yaml:"sweep_on_view"`
}

type RolesConfig struct {
	BootstrapMode string `yaml:"bootstrap_mode"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Redis: RedisConfig{LockTTL: 10 * time.Second},
		Log:   LogConfig{Level: "info", Format: "json"},
		Identity: IdentityConfig{
			SessionTTL:        8 * time.Hour,
			AccessCookie:      "portal-access-token",
			RefreshCookie:     "portal-refresh-token",
			SessionCookie:     "portal-session",
			SecureCookies:     true,
			RequestTimeout:    5 * time.Second,
			EnrichConcurrency: 8,
		},
		Audit: AuditConfig{RetentionDays: 30, SweepOnView: true},
		Roles: RolesConfig{BootstrapMode: string(auth.BootstrapCheckThenInsert)},
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("PORTAL_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.HTTPAddr = getEnv("PORTAL_HTTP_ADDR", s.HTTPAddr)
	s.GRPCAddr = getEnv("PORTAL_GRPC_ADDR", s.GRPCAddr)
	s.ReadTimeout = getEnvDuration("PORTAL_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("PORTAL_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("PORTAL_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("PORTAL_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.RateLimitRPS = getEnvFloat("PORTAL_RATE_LIMIT_RPS", s.RateLimitRPS)
	s.RateLimitBurst = getEnvInt("PORTAL_RATE_LIMIT_BURST", s.RateLimitBurst)
	s.MaxBodyBytes = int64(getEnvInt("PORTAL_MAX_BODY_BYTES", int(s.MaxBodyBytes)))
	if v := os.Getenv("PORTAL_ALLOWED_ORIGINS"); v != "" {
		s.AllowedOrigins = splitList(v)
	}

	d := &c.Database
	d.DSN = getEnv("PORTAL_DATABASE_URL", d.DSN)
	d.MaxOpenConns = getEnvInt("PORTAL_DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("PORTAL_DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("PORTAL_DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.AutoMigrate = getEnvBool("PORTAL_AUTO_MIGRATE", d.AutoMigrate)

	c.Redis.URL = getEnv("PORTAL_REDIS_URL", c.Redis.URL)
	c.Redis.LockTTL = getEnvDuration("PORTAL_REDIS_LOCK_TTL", c.Redis.LockTTL)

	c.Log.Level = getEnv("PORTAL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("PORTAL_LOG_FORMAT", c.Log.Format)

	id := &c.Identity
	id.IssuerURL = getEnv("PORTAL_IDENTITY_ISSUER_URL", id.IssuerURL)
	id.ClientID = getEnv("PORTAL_IDENTITY_CLIENT_ID", id.ClientID)
	id.ClientSecret = getEnv("PORTAL_IDENTITY_CLIENT_SECRET", id.ClientSecret)
	id.AdminURL = getEnv("PORTAL_IDENTITY_ADMIN_URL", id.AdminURL)
	id.ServiceKey = getEnv("PORTAL_IDENTITY_SERVICE_KEY", id.ServiceKey)
	id.SessionSecret = getEnv("PORTAL_SESSION_SECRET", id.SessionSecret)
	id.SessionTTL = getEnvDuration("PORTAL_SESSION_TTL", id.SessionTTL)
	id.AccessCookie = getEnv("PORTAL_ACCESS_COOKIE", id.AccessCookie)
	id.RefreshCookie = getEnv("PORTAL_REFRESH_COOKIE", id.RefreshCookie)
	id.SessionCookie = getEnv("PORTAL_SESSION_COOKIE", id.SessionCookie)
	id.SecureCookies = getEnvBool("PORTAL_SECURE_COOKIES", id.SecureCookies)
	id.RequestTimeout = getEnvDuration("PORTAL_IDENTITY_TIMEOUT", id.RequestTimeout)
	id.EnrichConcurrency = getEnvInt("PORTAL_ENRICH_CONCURRENCY", id.EnrichConcurrency)

	c.Audit.RetentionDays = getEnvInt("PORTAL_AUDIT_RETENTION_DAYS", c.Audit.RetentionDays)
	c.Audit.SweepOnView = getEnvBool("PORTAL_AUDIT_SWEEP_ON_VIEW", c.Audit.SweepOnView)

	c.Roles.BootstrapMode = getEnv("PORTAL_BOOTSTRAP_MODE", c.Roles.BootstrapMode)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database DSN is required (PORTAL_DATABASE_URL)"))
	}
	if strings.TrimSpace(c.Identity.IssuerURL) == "" {
		errs = append(errs, errors.New("identity issuer URL is required (PORTAL_IDENTITY_ISSUER_URL)"))
	}
	if strings.TrimSpace(c.Identity.SessionSecret) == "" {
		errs = append(errs, errors.New("session secret is required (PORTAL_SESSION_SECRET)"))
	}
	if c.Audit.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("audit retention days must be positive, got %d", c.Audit.RetentionDays))
	}
	if c.Identity.EnrichConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("enrich concurrency must be positive, got %d", c.Identity.EnrichConcurrency))
	}
	mode, err := auth.ParseBootstrapMode(c.Roles.BootstrapMode)
	if err != nil {
		errs = append(errs, err)
	} else if mode == auth.BootstrapRedisLock && strings.TrimSpace(c.Redis.URL) == "" {
		errs = append(errs, errors.New("redis URL is required for the redis bootstrap mode (PORTAL_REDIS_URL)"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
