package roomscore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds client settings read from environment variables, for hosts
// that configure the client outside of code.
type EnvConfig struct {
	BaseURL        string        `env:"ROOMSCORE_BASE_URL"`
	Timeout        time.Duration `env:"ROOMSCORE_TIMEOUT" envDefault:"30s"`
	MaxRetries     int           `env:"ROOMSCORE_MAX_RETRIES" envDefault:"2"`
	RetryBaseDelay time.Duration `env:"ROOMSCORE_RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay  time.Duration `env:"ROOMSCORE_RETRY_MAX_DELAY" envDefault:"10s"`
	RateLimitFloor time.Duration `env:"ROOMSCORE_RATE_LIMIT_FLOOR" envDefault:"2s"`
	Cooldown       time.Duration `env:"ROOMSCORE_COOLDOWN" envDefault:"30s"`
	DefaultTTL     time.Duration `env:"ROOMSCORE_CACHE_TTL" envDefault:"3m"`
	RefreshURL     string        `env:"ROOMSCORE_REFRESH_URL"`
	ValkeyAddress  string        `env:"ROOMSCORE_VALKEY_ADDRESS"`
	ValkeyPassword string        `env:"ROOMSCORE_VALKEY_PASSWORD"`
	ValkeyDB       int           `env:"ROOMSCORE_VALKEY_DB"`
	Debug          bool          `env:"ROOMSCORE_DEBUG"`
}

// ConfigFromEnv reads EnvConfig from the process environment.
func ConfigFromEnv() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("roomscore: parse env config: %w", err)
	}
	return cfg, nil
}

// Options expands the config into client options. The persisted tier is
// attached only when a valkey address is configured; connection errors are
// returned rather than silently producing an unpersisted client.
func (cfg *EnvConfig) Options() ([]Option, error) {
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
		WithRetryDelays(cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.RateLimitFloor),
		WithCooldown(cfg.Cooldown),
		WithMemoryCache(),
		WithDefaultTTL(cfg.DefaultTTL),
		WithRouteRules(DefaultRouteRules()...),
	}

	if cfg.Debug {
		opts = append(opts, WithSimpleLogger())
	}

	if cfg.ValkeyAddress != "" {
		store, err := NewPersistentStore(PersistConfig{
			Address:  cfg.ValkeyAddress,
			Password: cfg.ValkeyPassword,
			DB:       cfg.ValkeyDB,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPersistentStore(store))
	}

	return opts, nil
}
