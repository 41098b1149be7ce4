package config

import (
	"os"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.DSN
// ---------------------------------------------------------------------------

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				Name:     "contextlink",
				User:     "contextlink",
				Password: "secret",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 dbname=contextlink user=contextlink password=secret sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.internal",
				Port:     5433,
				Name:     "trust",
				User:     "admin",
				Password: "pass",
				SSLMode:  "disable",
			},
			want: "host=db.internal port=5433 dbname=trust user=admin password=pass sslmode=disable",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:    "localhost",
				Port:    5432,
				Name:    "contextlink",
				User:    "contextlink",
				SSLMode: "prefer",
			},
			want: "host=localhost port=5432 dbname=contextlink user=contextlink password= sslmode=prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.DSN()
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Auth: AuthConfig{
			APIKeySecret:       "key-hash-secret",
			OneTimeTokenSecret: "reveal-token-secret",
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("invalid server port 0", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 0, got nil")
		}
	})

	t.Run("invalid server port 70000", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 70000
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 70000, got nil")
		}
	})

	t.Run("missing api_key_secret", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Auth.APIKeySecret = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty api_key_secret, got nil")
		}
	})

	t.Run("missing one_time_token_secret", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Auth.OneTimeTokenSecret = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty one_time_token_secret, got nil")
		}
	})

	t.Run("encryption passphrase with short salt", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.EncryptionPassphrase = "passphrase"
		cfg.Security.EncryptionSalt = "too-short"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for short encryption salt, got nil")
		}
	})

	t.Run("encryption passphrase with adequate salt", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.EncryptionPassphrase = "passphrase"
		cfg.Security.EncryptionSalt = "0123456789abcdef"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("no encryption passphrase needs no salt", func(t *testing.T) {
		cfg := minimalValidConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
auth:
  api_key_secret: "file-key-secret"
  one_time_token_secret: "file-token-secret"
  one_time_token_ttl: "5m"
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" {
		t.Errorf("Server.Host = %q, want testhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Auth.OneTimeTokenTTL != 5*time.Minute {
		t.Errorf("Auth.OneTimeTokenTTL = %v, want 5m", cfg.Auth.OneTimeTokenTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	const content = `
auth:
  api_key_secret: "file-key-secret"
  one_time_token_secret: "file-token-secret"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("default Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("default Database.SSLMode = %q, want require", cfg.Database.SSLMode)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("default RateLimit.Enabled = false, want true")
	}
	if cfg.RateLimit.RequestsPerWindow != 120 {
		t.Errorf("default RateLimit.RequestsPerWindow = %d, want 120", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.RateLimit.AuthRequestsPerWindow != 10 {
		t.Errorf("default RateLimit.AuthRequestsPerWindow = %d, want 10", cfg.RateLimit.AuthRequestsPerWindow)
	}
	if cfg.Auth.OneTimeTokenTTL != 15*time.Minute {
		t.Errorf("default Auth.OneTimeTokenTTL = %v, want 15m", cfg.Auth.OneTimeTokenTTL)
	}
	if cfg.Audit.DeliveryTimeout != 10*time.Second {
		t.Errorf("default Audit.DeliveryTimeout = %v, want 10s", cfg.Audit.DeliveryTimeout)
	}
	if cfg.Telemetry.PrometheusPort != 9090 {
		t.Errorf("default Telemetry.PrometheusPort = %d, want 9090", cfg.Telemetry.PrometheusPort)
	}
}

func TestLoad_MissingSecretsRejected(t *testing.T) {
	const content = `
server:
  port: 8080
`
	path := writeTempConfig(t, content)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error without secrets, got nil")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CLK_SERVER_PORT", "9191")
	t.Setenv("CLK_AUTH_API_KEY_SECRET", "env-key-secret")
	t.Setenv("CLK_AUTH_ONE_TIME_TOKEN_SECRET", "env-token-secret")

	cfg, err := Load(writeTempConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want env override 9191", cfg.Server.Port)
	}
	if cfg.Auth.APIKeySecret != "env-key-secret" {
		t.Errorf("Auth.APIKeySecret = %q, want env override", cfg.Auth.APIKeySecret)
	}
}

func TestLoad_PasswordExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "expanded-secret")
	const content = `
database:
  password: "${TEST_DB_PASS}"
auth:
  api_key_secret: "k"
  one_time_token_secret: "t"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "expanded-secret" {
		t.Errorf("Database.Password = %q, want expanded-secret", cfg.Database.Password)
	}
}

func TestLoad_EncryptionPassphraseEnv(t *testing.T) {
	t.Setenv("ENCRYPTION_PASSPHRASE", "injected-passphrase")
	const content = `
auth:
  api_key_secret: "k"
  one_time_token_secret: "t"
security:
  encryption_salt: "0123456789abcdef"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Security.EncryptionPassphrase != "injected-passphrase" {
		t.Errorf("EncryptionPassphrase = %q, want injected-passphrase", cfg.Security.EncryptionPassphrase)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}
