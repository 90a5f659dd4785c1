package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment names recognized by the loader.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// ErrShortSecret is returned when the session secret is too short to sign
// cookies safely.
var ErrShortSecret = errors.New("config: SESSION_SECRET must be at least 32 bytes")

// Config is the process-wide configuration. It is loaded once at startup and
// treated as immutable for the process lifetime; components receive it (or the
// fields they need) by reference.
type Config struct {
	// Environment selects development, test, or production behavior.
	// It controls cookie security flags and the route resolution mode.
	Environment string `env:"APP_ENV" envDefault:"development"`

	// Addr is the HTTP listen address.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// SessionSecret signs session cookies and derives CSRF tokens.
	// Must be at least 32 bytes.
	SessionSecret string `env:"SESSION_SECRET,required"`

	// BaseURL is the externally visible origin, used in links sent by
	// mail.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// RoutesDir is the routes root scanned in discovery mode.
	RoutesDir string `env:"ROUTES_DIR" envDefault:"routes"`

	// RedisAddr selects the redis session store when set. Empty means the
	// in-memory store, which is only suitable for a single process.
	RedisAddr string `env:"REDIS_ADDR"`

	// SentryDSN enables the Sentry operational sink when set.
	SentryDSN string `env:"SENTRY_DSN"`

	Mail Mail `envPrefix:"MAIL_"`
}

// Mail configures the outbound mail driver.
type Mail struct {
	// Driver is one of "resend", "log", or "test".
	Driver string `env:"DRIVER" envDefault:"log"`

	// From is the sender address for transactional mail.
	From string `env:"FROM" envDefault:"console@localhost"`

	// ResendAPIKey is required when Driver is "resend".
	ResendAPIKey string `env:"RESEND_API_KEY"`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that env tags cannot express.
func (c Config) Validate() error {
	if len(c.SessionSecret) < 32 {
		return ErrShortSecret
	}
	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("config: unknown APP_ENV %q", c.Environment)
	}
	if c.Mail.Driver == "resend" && c.Mail.ResendAPIKey == "" {
		return errors.New("config: MAIL_RESEND_API_KEY required with MAIL_DRIVER=resend")
	}
	return nil
}

// Development reports whether the process runs in development mode.
func (c Config) Development() bool { return c.Environment == EnvDevelopment }

// Test reports whether the process runs in test mode.
func (c Config) Test() bool { return c.Environment == EnvTest }

// Production reports whether the process runs in production mode.
func (c Config) Production() bool { return c.Environment == EnvProduction }

// SecureCookies reports whether cookies should carry the Secure flag.
// Development and test run over plain HTTP.
func (c Config) SecureCookies() bool { return c.Production() }
