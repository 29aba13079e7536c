package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all process configuration.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	BaseURL         string        `env:"BASE_URL" envDefault:"http://localhost:3000"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Database DatabaseConfig
	Auth     AuthConfig
	Outbox   OutboxConfig
	Email    EmailConfig

	QuoteTTL time.Duration `env:"QUOTE_TTL" envDefault:"168h"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL,required,notEmpty"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	Migrate         bool          `env:"DB_MIGRATE" envDefault:"true"`
}

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

type OutboxConfig struct {
	Schedule    string `env:"OUTBOX_SCHEDULE" envDefault:"@every 10s"`
	BatchSize   int    `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	MaxAttempts int    `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
}

// EmailConfig is optional. Without a Mailgun domain and key, notifications
// are only logged.
type EmailConfig struct {
	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey string `env:"MAILGUN_API_KEY"`
	From          string `env:"MAIL_FROM" envDefault:"Agency <no-reply@localhost>"`
	AdminEmail    string `env:"ADMIN_EMAIL"`
}

func (e EmailConfig) MailgunEnabled() bool {
	return e.MailgunDomain != "" && e.MailgunAPIKey != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.QuoteTTL <= 0:
		return fmt.Errorf("config: QUOTE_TTL must be positive")
	case c.Auth.JWTTTL <= 0:
		return fmt.Errorf("config: JWT_TTL must be positive")
	case c.Database.MaxConns <= 0:
		return fmt.Errorf("config: DB_MAX_CONNS must be positive")
	case c.Outbox.BatchSize <= 0:
		return fmt.Errorf("config: OUTBOX_BATCH_SIZE must be positive")
	case c.Outbox.MaxAttempts <= 0:
		return fmt.Errorf("config: OUTBOX_MAX_ATTEMPTS must be positive")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("config: SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
