package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the bot and its HTTP surfaces need at startup.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	BackendURL   string `env:"BACKEND_API_URL,required"`
	BackendToken string `env:"BACKEND_API_TOKEN"`

	APIAddr string `env:"API_ADDR" envDefault:":8787"`

	// FinalizeWorkers bounds the fan-out of participation writes during stop.
	FinalizeWorkers int `env:"FINALIZE_WORKERS" envDefault:"4"`
	// ConflictRetries bounds reload-and-retry attempts on revision conflicts.
	ConflictRetries int `env:"CONFLICT_RETRIES" envDefault:"5"`
	// StoreTimeout bounds a single presence-change task end to end.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`
}

// New loads configuration from .env (if present) and the environment.
// Missing required values are fatal, same as a bad flag would be.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("[ERR] Config: %v", err)
	}
	return cfg
}

// Load parses configuration without exiting on failure, for callers that
// want to handle the error themselves (tests, tooling).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] No .env file found, falling back to system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.FinalizeWorkers < 1 {
		cfg.FinalizeWorkers = 1
	}
	if cfg.ConflictRetries < 1 {
		cfg.ConflictRetries = 1
	}

	return &cfg, nil
}
