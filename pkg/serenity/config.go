package serenity

import (
	"os"

	"github.com/rzpsarthak13/serenity/internal/registry"
)

// Config is the root configuration of a serenity client. See
// registry.InternalConfig for the sections.
type Config = registry.InternalConfig

// BroadcastConfig is the broadcast section of Config.
type BroadcastConfig = registry.InternalBroadcastConfig

// DefaultConfig returns the built-in defaults. The database section still
// needs a name and a user.
func DefaultConfig() *Config {
	return registry.DefaultInternalConfig()
}

// LoadConfig reads path (YAML or JSON; empty for defaults only), overlays
// SERENITY_* environment variables and validates the result.
func LoadConfig(path string) (*Config, error) {
	return loadConfig(path, os.Getenv)
}

func loadConfig(path string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = registry.ReadConfigFile(path); err != nil {
			return nil, err
		}
	}
	registry.ApplyEnv(cfg, getenv)

	cm := registry.NewConfigManager()
	if err := cm.Set(cfg); err != nil {
		return nil, err
	}
	return cm.GetConfig(), nil
}
