package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"

	"github.com/siraat/companion/pkg/validator"
)

// Load parses environment variables into the provided struct and then
// checks its `validate` tags.
//
// Example:
//
//	type Config struct {
//	    BaseURL  string `env:"SIRAAT_API_BASE_URL" envDefault:"http://localhost:8000/api/v1" validate:"required,url"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
//	}
func Load(cfg any) error {
	return LoadWithPrefix(cfg, "")
}

// LoadWithPrefix is Load with every variable name prefixed, e.g. "SIRAAT_".
func LoadWithPrefix(cfg any, prefix string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := validator.Validate(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
