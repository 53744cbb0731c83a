package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for catalog-sync.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Authentication for the admin API
	Auth AuthConfig `yaml:"auth"`

	// Registry database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	Logging LoggingConfig `yaml:"logging"`

	// Remote catalog and sync behavior
	Superset SupersetConfig `yaml:"superset"`

	// Credential encryption key for local database passwords.
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
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

	// AdminRole is the role claim required by the sync and registry endpoints.
	AdminRole string `yaml:"admin_role" env:"AUTH_ADMIN_ROLE" env-default:"admin"`
}

// DatabaseConfig holds PostgreSQL registry configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"catalog"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"catalog_sync"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// LoggingConfig controls the zap logger and the optional rotating file sink.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	File       string `yaml:"file" env:"LOG_FILE" env-default:""`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"30"`
}

// SupersetConfig describes the remote catalog and how to authenticate with it.
type SupersetConfig struct {
	// Enabled is the master switch; when false every sync entry point is a no-op.
	Enabled bool   `yaml:"enabled" env:"SUPERSET_ENABLED" env-default:"false"`
	BaseURL string `yaml:"base_url" env:"SUPERSET_BASE_URL" env-default:""`

	AuthEnabled  bool   `yaml:"auth_enabled" env:"SUPERSET_AUTH_ENABLED" env-default:"true"`
	AuthStrategy string `yaml:"auth_strategy" env:"SUPERSET_AUTH_STRATEGY" env-default:"TOKEN_FIRST"`
	Username     string `yaml:"username" env:"SUPERSET_USERNAME" env-default:""`
	Password     string `yaml:"-" env:"SUPERSET_PASSWORD"` // Secret - not in YAML
	APIKey       string `yaml:"-" env:"SUPERSET_API_KEY"`  // Secret - not in YAML
	Provider     string `yaml:"provider" env:"SUPERSET_PROVIDER" env-default:"db"`

	TimeoutSeconds int `yaml:"timeout_seconds" env:"SUPERSET_TIMEOUT_SECONDS" env-default:"30"`
	PageSize       int `yaml:"page_size" env:"SUPERSET_PAGE_SIZE" env-default:"500"`

	// DatasourceType is used for local databases that carry no engine type.
	DatasourceType string `yaml:"datasource_type" env:"SUPERSET_DATASOURCE_TYPE" env-default:"postgresql"`

	Sync SyncConfig `yaml:"sync"`
}

// SyncConfig controls reconciliation passes and their triggers.
type SyncConfig struct {
	Enabled        bool          `yaml:"enabled" env:"SUPERSET_SYNC_ENABLED" env-default:"true"`
	Interval       time.Duration `yaml:"interval" env:"SUPERSET_SYNC_INTERVAL" env-default:"1h"`
	RetryInterval  time.Duration `yaml:"retry_interval" env:"SUPERSET_SYNC_RETRY_INTERVAL" env-default:"60s"`
	MaxRetries     int           `yaml:"max_retries" env:"SUPERSET_SYNC_MAX_RETRIES" env-default:"3"`
	RetryWorkers   int           `yaml:"retry_workers" env:"SUPERSET_SYNC_RETRY_WORKERS" env-default:"2"`
	Rebuild        bool          `yaml:"rebuild" env:"SUPERSET_SYNC_REBUILD" env-default:"false"`
	EventQueueSize int           `yaml:"event_queue_size" env:"SUPERSET_SYNC_EVENT_QUEUE_SIZE" env-default:"64"`
}

// Timeout returns the request timeout for catalog calls.
func (c *SupersetConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// CREDENTIALS_KEY, SUPERSET_PASSWORD, SUPERSET_API_KEY) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultPath, version)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Parse complex fields
	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := cfg.validateSync(); err != nil {
		return nil, fmt.Errorf("invalid sync configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
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

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
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
	s := &c.Superset.Sync
	if s.Interval <= 0 {
		return fmt.Errorf("superset.sync.interval must be positive, got %s", s.Interval)
	}
	if s.RetryInterval <= 0 {
		return fmt.Errorf("superset.sync.retry_interval must be positive, got %s", s.RetryInterval)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("superset.sync.max_retries must not be negative, got %d", s.MaxRetries)
	}
	if c.Superset.TimeoutSeconds <= 0 {
		return fmt.Errorf("superset.timeout_seconds must be positive, got %d", c.Superset.TimeoutSeconds)
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

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Render returns the effective configuration as YAML. Secrets are never
// included since they have no YAML representation.
func (c *Config) Render() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
