package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config holds all configuration for the eggs CLI.
type Config struct {
	DatabaseURL          string `env:"EGGS_DATABASE_URL" envDefault:"postgres://localhost:5432/eggs?sslmode=disable" validate:"required,url"`
	RedisURL             string `env:"EGGS_REDIS_URL" envDefault:"redis://localhost:6379/0" validate:"required,url"`
	MigrationsDir        string `env:"EGGS_MIGRATIONS_DIR" envDefault:"migrations" validate:"required"`
	LogLevel             string `env:"EGGS_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	NotificationStream   string `env:"EGGS_NOTIFICATION_STREAM" envDefault:"gamification_notifications" validate:"required"`
	PublishNotifications bool   `env:"EGGS_PUBLISH_NOTIFICATIONS" envDefault:"true"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
