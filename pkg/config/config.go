package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes every environment variable consumed by salesdesk.
const EnvPrefix = "salesdesk"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	Commerce CommerceConfig
	Division DivisionConfig
	Redis    RedisConfig
	Wizard   WizardConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Commerce.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SALESDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"SALESDESK_APP_PORT" default:"8085"`
	LogLevel     string `envconfig:"SALESDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SALESDESK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// CommerceConfig points the service at the remote commerce API. When a
// token refresh URL is set the bearer token is refreshed ahead of its JWT
// expiry; without it the configured token is used as-is.
type CommerceConfig struct {
	BaseURL         string        `envconfig:"SALESDESK_COMMERCE_BASE_URL" required:"true"`
	Timeout         time.Duration `envconfig:"SALESDESK_COMMERCE_TIMEOUT" default:"30s"`
	BearerToken     string        `envconfig:"SALESDESK_COMMERCE_BEARER_TOKEN"`
	TokenRefreshURL string        `envconfig:"SALESDESK_COMMERCE_TOKEN_REFRESH_URL"`
	RefreshAhead    time.Duration `envconfig:"SALESDESK_COMMERCE_TOKEN_REFRESH_AHEAD" default:"60s"`
	MaxUploadBytes  int64         `envconfig:"SALESDESK_COMMERCE_MAX_UPLOAD_BYTES" default:"10485760"`
}

func (c CommerceConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return fmt.Errorf("commerce base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("commerce base url must be http(s), got %q", c.BaseURL)
	}
	return nil
}

// DivisionConfig carries the default tenant scope applied when a request
// does not select a division explicitly.
type DivisionConfig struct {
	DefaultID        string        `envconfig:"SALESDESK_DIVISION_DEFAULT_ID"`
	ShowAllDivisions bool          `envconfig:"SALESDESK_DIVISION_SHOW_ALL" default:"false"`
	ContextTTL       time.Duration `envconfig:"SALESDESK_DIVISION_CONTEXT_TTL" default:"720h"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SALESDESK_REDIS_URL"`
	Address      string        `envconfig:"SALESDESK_REDIS_ADDR"`
	Password     string        `envconfig:"SALESDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"SALESDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SALESDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SALESDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SALESDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SALESDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SALESDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// WizardConfig tunes wizard session behavior.
type WizardConfig struct {
	SessionTTL    time.Duration `envconfig:"SALESDESK_WIZARD_SESSION_TTL" default:"2h"`
	SweepInterval time.Duration `envconfig:"SALESDESK_WIZARD_SWEEP_INTERVAL" default:"5m"`

	// Fallback coordinate seeded onto new drop-offs before the operator
	// picks a real location.
	FallbackLatitude  float64 `envconfig:"SALESDESK_WIZARD_FALLBACK_LAT" default:"28.6139"`
	FallbackLongitude float64 `envconfig:"SALESDESK_WIZARD_FALLBACK_LNG" default:"77.2090"`
}
