// Package config loads the process configuration once at startup.
//
// Values come from the environment, optionally seeded from a .env file in
// the working directory. Nothing outside this package reads the environment;
// main passes the resulting Config down.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
	DriverMemory   = "memory"
)

// Config is the full process configuration. Treat it as read-only after Load.
type Config struct {
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	FrontendURL     string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	CookieDomain    string        `env:"COOKIE_DOMAIN"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	JWT       JWTConfig
	GitHub    GitHubConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
}

// JWTConfig configures the session tokens.
type JWTConfig struct {
	Secret        string        `env:"JWT_SECRET"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"repo-insights"`
}

// GitHubConfig configures the OAuth app and the REST client.
type GitHubConfig struct {
	ClientID     string        `env:"GITHUB_CLIENT_ID"`
	ClientSecret string        `env:"GITHUB_CLIENT_SECRET"`
	CallbackURL  string        `env:"GITHUB_CALLBACK_URL" envDefault:"http://localhost:8080/auth/github/callback"`
	APIURL       string        `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	Timeout      time.Duration `env:"GITHUB_TIMEOUT" envDefault:"15s"`
}

// StoreConfig selects and configures the storage driver.
type StoreConfig struct {
	Driver       string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DBPath       string `env:"DB_PATH" envDefault:"data/repo-insights.db"`
	UsersTable   string `env:"DYNAMODB_USERS_TABLE" envDefault:"Users"`
	ReposTable   string `env:"DYNAMODB_REPOS_TABLE" envDefault:"Repos"`
	DynamoURL    string `env:"DYNAMODB_ENDPOINT"`
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
	// TokenSealKey encrypts the cached GitHub token at rest. Empty stores it as is.
	TokenSealKey string `env:"TOKEN_SEAL_KEY"`
}

// RateLimitConfig bounds requests per client IP on the /auth routes.
// A non-positive rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	Burst             int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// Load reads .env (a missing file is fine), parses the environment and
// validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Port < 1 || c.Port > 65535 {
		add("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		add("LOG_LEVEL %q is not a level (debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("FRONTEND_URL must be an absolute URL, got %q", c.FrontendURL)
	}

	if len(c.JWT.Secret) < 16 {
		add("JWT_SECRET must be at least 16 characters")
	}
	if c.JWT.RefreshSecret != "" && len(c.JWT.RefreshSecret) < 16 {
		add("JWT_REFRESH_SECRET must be at least 16 characters when set")
	}
	if c.GitHub.ClientID == "" || c.GitHub.ClientSecret == "" {
		add("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required")
	}
	if c.GitHub.Timeout <= 0 {
		add("GITHUB_TIMEOUT must be positive")
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.DBPath == "" {
			add("DB_PATH is required for the sqlite driver")
		}
	case DriverDynamoDB:
		if c.Store.UsersTable == "" || c.Store.ReposTable == "" {
			add("DYNAMODB_USERS_TABLE and DYNAMODB_REPOS_TABLE are required for the dynamodb driver")
		}
	case DriverMemory:
	default:
		add("STORE_DRIVER must be sqlite, dynamodb or memory, got %q", c.Store.Driver)
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Production reports whether cookies must be cross-site (Secure, SameSite=None).
func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SlogLevel parses LOG_LEVEL.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}
