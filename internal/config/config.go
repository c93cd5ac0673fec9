package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	BotToken    string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	AdminID     int64  `env:"ADMIN_USER_ID,required,notEmpty"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"timed_access"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`

	// Upper bound for any single call to Telegram, the shortener or storage.
	RequestTimeout         time.Duration `env:"REQUEST_TIMEOUT" envDefault:"20s"`
	InviteLinkTTL          time.Duration `env:"INVITE_LINK_TTL" envDefault:"10m"`
	RevocationPollInterval time.Duration `env:"REVOCATION_POLL_INTERVAL" envDefault:"1s"`
	BroadcastDelay         time.Duration `env:"BROADCAST_DELAY" envDefault:"100ms"`
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AdminID == 0 {
		return fmt.Errorf("ADMIN_USER_ID must be a non-zero integer")
	}
	if _, err := c.StorageDriver(); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.InviteLinkTTL <= 0 {
		return fmt.Errorf("INVITE_LINK_TTL must be positive")
	}
	if c.RevocationPollInterval <= 0 {
		return fmt.Errorf("REVOCATION_POLL_INTERVAL must be positive")
	}
	if c.BroadcastDelay < 0 {
		return fmt.Errorf("BROADCAST_DELAY must not be negative")
	}
	return nil
}

// StorageDriver picks the storage backend from the DATABASE_URL scheme.
func (c *Config) StorageDriver() (string, error) {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return DriverPostgres, nil
	case "mongodb", "mongodb+srv":
		return DriverMongo, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme %q", u.Scheme)
	}
}
