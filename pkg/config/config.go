package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrNilConfig           = errors.New("config: target must be a non-nil pointer")
	ErrFailedToParseConfig = errors.New("config: failed to parse environment")
)

var loadDotEnv sync.Once

// Load populates cfg from environment variables using `env` struct tags.
// The first call loads a .env file if one exists; a missing file is not an
// error since production environments inject variables directly.
//
//	type StripeConfig struct {
//		SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
//		WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
//	}
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilConfig
	}

	loadDotEnv.Do(func() {
		_ = godotenv.Load()
	})

	if err := env.Parse(cfg); err != nil {
		return errors.Join(ErrFailedToParseConfig, fmt.Errorf("%T: %w", cfg, err))
	}
	return nil
}

// MustLoad is Load that panics on failure, for use during service startup
// where a misconfigured environment should prevent the process from running.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
