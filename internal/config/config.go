package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	ServerPort   int    `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./auth.db"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	// Origins allowed to call the API from a browser.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// SingleSession revokes every previous token of a user when they log in again.
	SingleSession bool `env:"AUTH_SINGLE_SESSION" envDefault:"false"`

	// TokenTTL of zero means tokens never expire.
	TokenTTL           time.Duration `env:"TOKEN_TTL" envDefault:"0s"`
	TokenPruneSchedule string        `env:"TOKEN_PRUNE_SCHEDULE" envDefault:"@hourly"`

	// AuthRateLimit caps register and login attempts per client IP per
	// minute. Zero disables throttling.
	AuthRateLimit int `env:"AUTH_RATE_LIMIT" envDefault:"10"`

	// TrustProxyHeaders takes client IPs from X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TokenTTL < 0 {
		return nil, fmt.Errorf("TOKEN_TTL must not be negative, got %s", cfg.TokenTTL)
	}
	if cfg.AuthRateLimit < 0 {
		return nil, fmt.Errorf("AUTH_RATE_LIMIT must not be negative, got %d", cfg.AuthRateLimit)
	}
	return cfg, nil
}
