// Package envcfg loads tool configuration from the process environment.
package envcfg

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix applied to every configuration variable.
const prefix = "SLIPWAY_"

// Tool configuration resolved from SLIPWAY_* environment variables.
//
// CLI flags take precedence over these values; they exist so CI systems
// can configure slipway without touching pipeline files.
type Config struct {
	LogLevel            string `env:"LOG_LEVEL"`            // debug, info, warn, error.
	CacheDir            string `env:"CACHE_DIR"`            // Base-environment cache override.
	ContainerdAddress   string `env:"CONTAINERD_ADDRESS"`   // Containerd socket path.
	ContainerdNamespace string `env:"CONTAINERD_NAMESPACE"` // Containerd namespace.
}

// Default containerd socket address.
const DefaultContainerdAddress = "/run/containerd/containerd.sock"

// Default containerd namespace for images and containers.
const DefaultContainerdNamespace = "slipway"

// Loads configuration from a .env file (when present) and the process
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ContainerdAddress:   DefaultContainerdAddress,
		ContainerdNamespace: DefaultContainerdNamespace,
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
