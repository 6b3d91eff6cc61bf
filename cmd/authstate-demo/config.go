package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	storageMemory = "memory"
	storageSQLite = "sqlite"
	storageRedis  = "redis"
)

type config struct {
	APIKey  string `env:"AUTHSTATE_API_KEY" envDefault:"demo-api-key"`
	AppName string `env:"AUTHSTATE_APP_NAME" envDefault:"demo"`
	// EmulatorURL points at a running cmd/emulator. Empty runs the emulator
	// in-process against an in-memory database.
	EmulatorURL string `env:"AUTHSTATE_EMULATOR_URL"`

	// Storage is the shared local tier: memory, sqlite or redis.
	Storage      string        `env:"AUTHSTATE_STORAGE" envDefault:"memory"`
	SQLiteFile   string        `env:"AUTHSTATE_SQLITE_FILE" envDefault:"authstate.db"`
	RedisURL     string        `env:"AUTHSTATE_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	PollInterval time.Duration `env:"AUTHSTATE_POLL_INTERVAL" envDefault:"1s"`

	Email    string        `env:"AUTHSTATE_EMAIL" envDefault:"demo@example.com"`
	Password string        `env:"AUTHSTATE_PASSWORD" envDefault:"correct-horse"`
	Timeout  time.Duration `env:"AUTHSTATE_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

func loadConfig() (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config{}, fmt.Errorf("load .env: %w", err)
	}
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return config{}, fmt.Errorf("parse config: %w", err)
	}
	switch cfg.Storage {
	case storageMemory, storageSQLite, storageRedis:
	default:
		return config{}, fmt.Errorf("config: AUTHSTATE_STORAGE %q is not one of memory, sqlite, redis", cfg.Storage)
	}
	if cfg.Timeout <= 0 {
		return config{}, errors.New("config: AUTHSTATE_TIMEOUT must be positive")
	}
	return cfg, nil
}
