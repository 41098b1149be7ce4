// Package config loads and validates the trust core configuration using
// Viper.
//
// Configuration is layered: built-in defaults < YAML config file <
// environment variables. Environment variables use the CLK_ prefix (e.g.
// CLK_DATABASE_HOST overrides database.host in the YAML), so the same binary
// runs with a config.yaml in local development and with pure environment
// variables in containerized deployments.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// DSN builds the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// AuthConfig holds credential configuration.
type AuthConfig struct {
	// AdminTokens are environment-configured superuser bearer tokens. A
	// matching token bypasses workspace membership checks entirely.
	AdminTokens []string `mapstructure:"admin_tokens"`
	// APIKeySecret is the HMAC secret for stored key hashes.
	APIKeySecret string `mapstructure:"api_key_secret"`
	// OneTimeTokenSecret signs one-time key reveal tokens.
	OneTimeTokenSecret string `mapstructure:"one_time_token_secret"`
	// OneTimeTokenTTL bounds how long a reveal token stays redeemable.
	OneTimeTokenTTL time.Duration `mapstructure:"one_time_token_ttl"`
}

// SecurityConfig holds SSRF and at-rest encryption settings.
type SecurityConfig struct {
	// AllowLocalSinks permits audit sinks pointing at local/private network
	// destinations. Development only.
	AllowLocalSinks bool `mapstructure:"allow_local_sinks"`
	// EncryptionPassphrase derives the AES key protecting sink secrets at
	// rest. No CLK_ prefix alternative exists: infrastructure tooling injects
	// it as ENCRYPTION_PASSPHRASE.
	EncryptionPassphrase string `mapstructure:"encryption_passphrase"`
	// EncryptionSalt is the PBKDF2 salt, at least 16 bytes.
	EncryptionSalt string `mapstructure:"encryption_salt"`
}

// RateLimitConfig holds fixed-window rate limiter settings.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Default limiter applied to all privileged endpoints.
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	// Auth limiter applied to credential-sensitive endpoints.
	AuthRequestsPerWindow int           `mapstructure:"auth_requests_per_window"`
	AuthWindow            time.Duration `mapstructure:"auth_window"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	// RedisAddr switches the bucket store to Redis when set, for
	// multi-replica deployments. Empty means in-process.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
}

// AuditConfig holds audit pipeline settings.
type AuditConfig struct {
	// DeliveryTimeout bounds each outbound sink HTTP call.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	// TokenSweepInterval is how often expired one-time tokens are purged.
	TokenSweepInterval time.Duration `mapstructure:"token_sweep_interval"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds the metrics side-channel settings.
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys. This is
// necessary because AutomaticEnv() does not cooperate with nested structs
// during Unmarshal. Every key is a non-empty hardcoded string, so a BindEnv
// error indicates a programming bug.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"auth.admin_tokens",
		"auth.api_key_secret",
		"auth.one_time_token_secret",
		"auth.one_time_token_ttl",

		"security.allow_local_sinks",
		"security.encryption_passphrase",
		"security.encryption_salt",

		"rate_limit.enabled",
		"rate_limit.requests_per_window",
		"rate_limit.window",
		"rate_limit.auth_requests_per_window",
		"rate_limit.auth_window",
		"rate_limit.sweep_interval",
		"rate_limit.redis_addr",
		"rate_limit.redis_password",

		"audit.delivery_timeout",
		"audit.token_sweep_interval",

		"logging.level",
		"logging.format",

		"telemetry.metrics_enabled",
		"telemetry.prometheus_port",
	}

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/contextlink")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply.
	}

	v.SetEnvPrefix("CLK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secrets may be injected by infrastructure tooling that only knows
	// generic names.
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	if passphrase := os.Getenv("ENCRYPTION_PASSPHRASE"); passphrase != "" {
		cfg.Security.EncryptionPassphrase = passphrase
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "contextlink")
	v.SetDefault("database.user", "contextlink")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("auth.admin_tokens", []string{})
	v.SetDefault("auth.one_time_token_ttl", "15m")

	v.SetDefault("security.allow_local_sinks", false)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_window", 120)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.auth_requests_per_window", 10)
	v.SetDefault("rate_limit.auth_window", "1m")
	v.SetDefault("rate_limit.sweep_interval", "5m")

	v.SetDefault("audit.delivery_timeout", "10s")
	v.SetDefault("audit.token_sweep_interval", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Auth.APIKeySecret == "" {
		return fmt.Errorf("auth.api_key_secret is required")
	}
	if c.Auth.OneTimeTokenSecret == "" {
		return fmt.Errorf("auth.one_time_token_secret is required")
	}
	if c.Security.EncryptionPassphrase != "" && len(c.Security.EncryptionSalt) < 16 {
		return fmt.Errorf("security.encryption_salt must be at least 16 bytes when encryption is enabled")
	}
	return nil
}
