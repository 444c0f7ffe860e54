// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOIDC    = "oidc"
	ProviderCognito = "cognito"

	GuardModeRedirect = "redirect"
	GuardModeHold     = "hold"
)

type IdentityConfig struct {
	Provider              string `yaml:"provider"`
	Authority             string `yaml:"authority"`
	ClientID              string `yaml:"client_id"`
	ClientSecret          string `yaml:"-"` // Loaded from environment
	RedirectURI           string `yaml:"redirect_uri"`
	PostLogoutRedirectURI string `yaml:"post_logout_redirect_uri"`
	ResponseType          string `yaml:"response_type"`
	Scope                 string `yaml:"scope"`
	AutomaticSilentRenew  bool   `yaml:"automatic_silent_renew"`
	LoadUserInfo          bool   `yaml:"load_user_info"`
	// Seconds before access token expiry at which renewal is attempted.
	ExpiringNotificationSeconds int `yaml:"expiring_notification_seconds"`

	Cognito struct {
		PoolID string `yaml:"pool_id"`
		Domain string `yaml:"domain"`
		// Optional static credentials, loaded from environment
		AccessKeyID     string `yaml:"-"`
		SecretAccessKey string `yaml:"-"`
	} `yaml:"cognito"`
}

type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
	Redis    struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Password string `yaml:"-"` // Loaded from environment
	} `yaml:"redis"`
}

type SessionConfig struct {
	CookieName         string `yaml:"cookie_name"`
	IdleTimeoutMinutes int    `yaml:"idle_timeout_minutes"`
	PruneCron          string `yaml:"prune_cron"`
	GuardMode          string `yaml:"guard_mode"`
	HoldTimeoutMillis  int    `yaml:"hold_timeout_ms"`
}

type RateLimitConfig struct {
	AuthPerMinute int  `yaml:"auth_per_minute"`
	AuthBurst     int  `yaml:"auth_burst"`
	TrustProxy    bool `yaml:"trust_proxy"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
		SecretKey   string `yaml:"-"` // Loaded from environment
	} `yaml:"app"`

	Identity  IdentityConfig  `yaml:"identity"`
	Backend   BackendConfig   `yaml:"backend"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Load sensitive values from environment
	cfg.App.SecretKey = os.Getenv("APP_SECRET_KEY")
	cfg.Identity.ClientSecret = os.Getenv("OIDC_CLIENT_SECRET")
	cfg.Identity.Cognito.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.Identity.Cognito.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	cfg.Storage.Redis.Password = os.Getenv("REDIS_PASSWORD")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and fills defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	// Absent keys keep these values.
	cfg.Identity.AutomaticSilentRenew = true
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.Identity.Provider == "" {
		c.Identity.Provider = ProviderOIDC
	}
	if c.Identity.ResponseType == "" {
		c.Identity.ResponseType = "code"
	}
	if c.Identity.Scope == "" {
		c.Identity.Scope = "openid profile email"
	}
	if c.Identity.ExpiringNotificationSeconds == 0 {
		c.Identity.ExpiringNotificationSeconds = 60
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 15
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "leagueconsole_browser"
	}
	if c.Session.IdleTimeoutMinutes == 0 {
		c.Session.IdleTimeoutMinutes = 12 * 60
	}
	if c.Session.PruneCron == "" {
		c.Session.PruneCron = "*/15 * * * *"
	}
	if c.Session.GuardMode == "" {
		c.Session.GuardMode = GuardModeRedirect
	}
	if c.Session.HoldTimeoutMillis == 0 {
		c.Session.HoldTimeoutMillis = 1500
	}
	if c.RateLimit.AuthPerMinute == 0 {
		c.RateLimit.AuthPerMinute = 30
	}
	if c.RateLimit.AuthBurst == 0 {
		c.RateLimit.AuthBurst = 10
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}

	if err := c.Identity.validate(); err != nil {
		return err
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL is required")
	}
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend base URL is invalid: %w", err)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Filename == "" {
			return fmt.Errorf("storage filename is required for sqlite")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage redis addr is required for redis")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	if _, err := cron.ParseStandard(c.Session.PruneCron); err != nil {
		return fmt.Errorf("session prune cron is invalid: %w", err)
	}
	switch c.Session.GuardMode {
	case GuardModeRedirect, GuardModeHold:
	default:
		return fmt.Errorf("unsupported guard mode: %s", c.Session.GuardMode)
	}

	return nil
}

func (c IdentityConfig) validate() error {
	if c.Authority == "" {
		return fmt.Errorf("identity authority is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("identity client id is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("identity redirect URI is required")
	}
	if c.ResponseType != "code" {
		return fmt.Errorf("unsupported identity response type: %s", c.ResponseType)
	}
	if c.LoadUserInfo {
		return fmt.Errorf("identity load_user_info is not supported, profile claims come from the id token")
	}
	if !strings.Contains(" "+c.Scope+" ", " openid ") {
		return fmt.Errorf("identity scope must include openid")
	}
	switch c.Provider {
	case ProviderOIDC:
	case ProviderCognito:
		if c.Cognito.PoolID == "" || c.Cognito.Domain == "" {
			return fmt.Errorf("cognito pool id and domain are required")
		}
	default:
		return fmt.Errorf("unsupported identity provider: %s", c.Provider)
	}
	return nil
}

// IsDevelopment reports whether the app runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

func (c *Config) HoldTimeout() time.Duration {
	return time.Duration(c.Session.HoldTimeoutMillis) * time.Millisecond
}

func (c *Config) ExpiringNotification() time.Duration {
	return time.Duration(c.Identity.ExpiringNotificationSeconds) * time.Second
}
