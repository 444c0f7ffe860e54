package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
app:
  name: League Console
  environment: production
  port: 8080
  base_url: https://console.example.com
identity:
  authority: https://login.example.com/
  client_id: console
  redirect_uri: https://console.example.com/
  post_logout_redirect_uri: https://console.example.com/signed-out
  automatic_silent_renew: true
backend:
  base_url: https://api.example.com/v1
storage:
  driver: sqlite
  filename: data/console.db
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndSecrets(t *testing.T) {
	t.Setenv("APP_SECRET_KEY", "app-secret")
	t.Setenv("OIDC_CLIENT_SECRET", "client-secret")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.App.SecretKey != "app-secret" {
		t.Fatalf("expected secret key from env, got %q", cfg.App.SecretKey)
	}
	if cfg.Identity.ClientSecret != "client-secret" {
		t.Fatalf("expected client secret from env, got %q", cfg.Identity.ClientSecret)
	}
	if cfg.Identity.Scope != "openid profile email" {
		t.Fatalf("unexpected default scope %q", cfg.Identity.Scope)
	}
	if cfg.Identity.ResponseType != "code" {
		t.Fatalf("unexpected default response type %q", cfg.Identity.ResponseType)
	}
	if cfg.Identity.LoadUserInfo {
		t.Fatal("expected load_user_info to default to false")
	}
	if !cfg.Identity.AutomaticSilentRenew {
		t.Fatal("expected automatic_silent_renew to default to true")
	}
	if cfg.Session.GuardMode != GuardModeRedirect {
		t.Fatalf("unexpected default guard mode %q", cfg.Session.GuardMode)
	}
	if cfg.ExpiringNotification().Seconds() != 60 {
		t.Fatalf("unexpected expiring notification %v", cfg.ExpiringNotification())
	}
	if cfg.IsDevelopment() {
		t.Fatal("expected production environment")
	}
}

func TestLoadReadsDotEnvBesideConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("REDIS_PASSWORD=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("REDIS_PASSWORD") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Redis.Password != "from-dotenv" {
		t.Fatalf("expected redis password from .env, got %q", cfg.Storage.Redis.Password)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing authority", func(c *Config) { c.Identity.Authority = "" }, "authority"},
		{"missing client id", func(c *Config) { c.Identity.ClientID = "" }, "client id"},
		{"implicit flow", func(c *Config) { c.Identity.ResponseType = "token" }, "response type"},
		{"user info call", func(c *Config) { c.Identity.LoadUserInfo = true }, "load_user_info"},
		{"scope without openid", func(c *Config) { c.Identity.Scope = "profile email" }, "openid"},
		{"cognito without pool", func(c *Config) { c.Identity.Provider = ProviderCognito }, "cognito"},
		{"missing backend", func(c *Config) { c.Backend.BaseURL = "" }, "backend"},
		{"bad storage driver", func(c *Config) { c.Storage.Driver = "cookies" }, "storage driver"},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis" }, "redis addr"},
		{"bad prune cron", func(c *Config) { c.Session.PruneCron = "every minute" }, "cron"},
		{"bad guard mode", func(c *Config) { c.Session.GuardMode = "maybe" }, "guard mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validYAML))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("baseline config invalid: %v", err)
			}

			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
