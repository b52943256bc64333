package api

import (
	"os"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
)

// EnvJWTSecret overrides Config.JWT.Secret when set.
const EnvJWTSecret = "DITTOCIFS_API_JWT_SECRET"

// Config configures the monitoring API.
type Config struct {
	// Enabled turns the HTTP listener on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddress is the host:port the API binds to.
	ListenAddress string `mapstructure:"listen_address" validate:"omitempty,hostname_port" yaml:"listen_address"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds a single handler.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig configures bearer-token authentication of /api/v1. An empty
// secret leaves the API unauthenticated.
type JWTConfig struct {
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// TokenDuration is the lifetime of tokens minted by `cifsd api token`.
	TokenDuration time.Duration `mapstructure:"token_duration" yaml:"token_duration"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1:8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.JWT.TokenDuration == 0 {
		c.JWT.TokenDuration = 24 * time.Hour
	}
}

// JWTSecret returns the effective signing secret. The environment variable
// takes precedence over the config file.
func (c *Config) JWTSecret() string {
	envSecret := os.Getenv(EnvJWTSecret)
	if envSecret != "" {
		if c.JWT.Secret != "" && c.JWT.Secret != envSecret {
			logger.Warn("JWT secret from environment variable overrides config file value",
				"env_var", EnvJWTSecret)
		}
		return envSecret
	}
	return c.JWT.Secret
}

// AuthEnabled reports whether /api/v1 requires a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret() != ""
}
