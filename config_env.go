package goIdentity

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable read by LoadConfigFromEnv, for
// example IDENTITY_SESSION_MAX_PER_USER.
const EnvPrefix = "IDENTITY_"

// LoadConfigFromEnv overlays IDENTITY_* environment variables onto
// DefaultConfig and validates the result. Unset variables keep their default.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
