package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakTokens = []string{
	"change-me", "dev-token-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Optional sinks. Empty disables the status store / redis rate limiter.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// Per-session whatsmeow credential stores live under this directory.
	CredDir string `env:"CRED_DIR" envDefault:"./data/sessions"`

	PhoneMinDigits int `env:"PHONE_MIN_DIGITS" envDefault:"8"`

	PairExpirySeconds      int `env:"PAIR_EXPIRY_SECONDS" envDefault:"900"`
	ConnectTimeoutSeconds  int `env:"CONNECT_TIMEOUT_SECONDS" envDefault:"30"`
	SessionGraceSeconds    int `env:"SESSION_GRACE_SECONDS" envDefault:"120"`
	CleanupIntervalSeconds int `env:"CLEANUP_INTERVAL_SECONDS" envDefault:"60"`
	StatusRetentionHours   int `env:"STATUS_RETENTION_HOURS" envDefault:"720"`

	PairRateLimit         int   `env:"PAIR_RATE_LIMIT" envDefault:"5"`
	PairRateWindowSeconds int   `env:"PAIR_RATE_WINDOW_SECONDS" envDefault:"60"`
	BodyLimitBytes        int64 `env:"BODY_LIMIT_BYTES" envDefault:"65536"`

	AdminToken string `env:"ADMIN_TOKEN"`

	GithubToken          string `env:"GITHUB_TOKEN"`
	GithubRepo           string `env:"GITHUB_REPO"`
	GithubBranch         string `env:"GITHUB_BRANCH" envDefault:"main"`
	HerokuAPIKey         string `env:"HEROKU_API_KEY"`
	AppNamePrefix        string `env:"APP_NAME_PREFIX" envDefault:"9bot-"`
	DeployTimeoutSeconds int    `env:"DEPLOY_TIMEOUT_SECONDS" envDefault:"120"`
}

func (c *Config) PairExpiry() time.Duration {
	return time.Duration(c.PairExpirySeconds) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c *Config) SessionGrace() time.Duration {
	return time.Duration(c.SessionGraceSeconds) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

func (c *Config) StatusRetention() time.Duration {
	return time.Duration(c.StatusRetentionHours) * time.Hour
}

func (c *Config) PairRateWindow() time.Duration {
	return time.Duration(c.PairRateWindowSeconds) * time.Second
}

func (c *Config) DeployTimeout() time.Duration {
	return time.Duration(c.DeployTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Validate(isProduction bool) error {
	if c.PhoneMinDigits < 1 {
		return fmt.Errorf("PHONE_MIN_DIGITS must be at least 1")
	}
	if c.ConnectTimeoutSeconds >= c.PairExpirySeconds {
		return fmt.Errorf("CONNECT_TIMEOUT_SECONDS must be shorter than PAIR_EXPIRY_SECONDS")
	}

	if c.PairExpirySeconds < 600 || c.PairExpirySeconds > 1800 {
		log.Warn().Int("seconds", c.PairExpirySeconds).Msg("PAIR_EXPIRY_SECONDS outside the recommended 10-30 minute range")
	}
	if c.ConnectTimeoutSeconds < 20 || c.ConnectTimeoutSeconds > 60 {
		log.Warn().Int("seconds", c.ConnectTimeoutSeconds).Msg("CONNECT_TIMEOUT_SECONDS outside the recommended 20-60 second range")
	}

	if isProduction {
		if err := validateToken("ADMIN_TOKEN", c.AdminToken); err != nil {
			return err
		}
		if c.GithubToken == "" || c.GithubRepo == "" {
			log.Warn().Msg("GITHUB_TOKEN/GITHUB_REPO not set in production: deploy handoff will fail after pairing")
		}
		if c.HerokuAPIKey == "" {
			log.Warn().Msg("HEROKU_API_KEY is empty in production: deploy handoff will fail after pairing")
		}
		if c.DatabaseURL == "" {
			log.Warn().Msg("DATABASE_URL is empty in production: session status will not survive restarts")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateToken(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakTokens {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong token in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
