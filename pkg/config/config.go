package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for zoku-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sync      SyncConfig      `yaml:"sync"`
	Providers ProvidersConfig `yaml:"providers"`

	// CredentialsKey encrypts source credentials and jewels at rest.
	// Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"ZOKU_CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"zoku"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"zoku_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis connection used for sync leases.
// Leaving Host empty keeps leases in PostgreSQL.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// SyncConfig controls the sync orchestrator and the background scheduler.
type SyncConfig struct {
	// CollectTimeout bounds a single provider fetch. It stays below the host's
	// request limit so a timed-out sync can still record its failure.
	CollectTimeout time.Duration `yaml:"collect_timeout" env:"SYNC_COLLECT_TIMEOUT" env-default:"25s"`
	// ScheduleInterval is the period between scheduled runs. Zero disables the scheduler.
	ScheduleInterval time.Duration `yaml:"schedule_interval" env:"SYNC_SCHEDULE_INTERVAL" env-default:"15m"`
	// Concurrency caps how many sources a scheduled run syncs at once.
	Concurrency int `yaml:"concurrency" env:"SYNC_CONCURRENCY" env-default:"4"`
	// LeaseTTL is how long a per-source sync lease lives if its holder never releases it.
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"SYNC_LEASE_TTL" env-default:"2m"`
	// BackfillDays is the history window for a newly created source.
	BackfillDays int `yaml:"backfill_days" env:"SYNC_BACKFILL_DAYS" env-default:"30"`
}

// BackfillWindow returns BackfillDays as a duration.
func (c *SyncConfig) BackfillWindow() time.Duration {
	return time.Duration(c.BackfillDays) * 24 * time.Hour
}

// ProvidersConfig holds outbound HTTP settings shared by provider collectors.
type ProvidersConfig struct {
	GitHubAPIURL      string        `yaml:"github_api_url" env:"PROVIDER_GITHUB_API_URL" env-default:"https://api.github.com"`
	GoogleAPIURL      string        `yaml:"google_api_url" env:"PROVIDER_GOOGLE_API_URL" env-default:"https://www.googleapis.com"`
	GoogleTokenURL    string        `yaml:"google_token_url" env:"PROVIDER_GOOGLE_TOKEN_URL" env-default:"https://oauth2.googleapis.com/token"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" env:"PROVIDER_HTTP_TIMEOUT" env-default:"20s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"PROVIDER_REQUESTS_PER_SECOND" env-default:"10"`
	UserAgent         string        `yaml:"user_agent" env:"PROVIDER_USER_AGENT" env-default:"zoku-engine"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validateSync(); err != nil {
		return nil, fmt.Errorf("invalid sync configuration: %w", err)
	}

	// Use HTTPS scheme if TLS is configured
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth.jwks_endpoints is required when auth.enable_verification is true")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.CollectTimeout <= 0 {
		return fmt.Errorf("collect_timeout must be positive")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.Sync.LeaseTTL <= c.Sync.CollectTimeout {
		return fmt.Errorf("lease_ttl (%s) must exceed collect_timeout (%s)", c.Sync.LeaseTTL, c.Sync.CollectTimeout)
	}
	if c.Sync.BackfillDays < 1 {
		return fmt.Errorf("backfill_days must be at least 1")
	}
	if c.Sync.ScheduleInterval < 0 {
		return fmt.Errorf("schedule_interval must not be negative")
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

// IsLocal reports whether the server runs in the local development environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local"
}

// ConnectionString returns a PostgreSQL URL usable by both pgxpool and database/sql.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(resolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns the host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(resolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// resolveHostForDocker maps loopback hosts to host.docker.internal when the
// engine runs inside a container, so a developer's local Postgres and Redis stay reachable.
func resolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
