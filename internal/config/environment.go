// Package config holds the environment-derived process configuration.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the process reads from the environment.
// An explicit Config value is handed to every component constructor;
// nothing reads os.Getenv after startup.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `env:"FEEDIE_DB" envDefault:"data/feedie.db"`

	// Port for the trigger server.
	Port int `env:"PORT" envDefault:"3838"`

	// Key is the shared-secret path segment guarding the trigger server.
	Key string `env:"FEEDIE_KEY"`

	// Sentry credentials. Reporting is disabled when SentryID is empty.
	SentryID   string `env:"SENTRY_ID"`
	SentryKey  string `env:"SENTRY_KEY"`
	SentryPass string `env:"SENTRY_PASS"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}
