package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittocifs/pkg/account/store"
	"github.com/marmos91/dittocifs/pkg/netbios"
)

// ApplyDefaults fills every zero value with its default. Explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	cfg.API.ApplyDefaults()
	cfg.Server.ApplyDefaults()
	applyNetBIOSDefaults(&cfg.NetBIOS)
	applyShareDefaults(cfg.Shares)
	applyAccountDefaults(&cfg.Accounts)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyNetBIOSDefaults(cfg *NetBIOSConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0:137"
	}
	if cfg.BroadcastAddress == "" {
		cfg.BroadcastAddress = "255.255.255.255"
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 750 * time.Millisecond
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 10 * time.Minute
	}
	if cfg.MaxRefreshFailures == 0 {
		cfg.MaxRefreshFailures = netbios.DefaultMaxRefreshFailures
	}
	if cfg.TTL == 0 {
		cfg.TTL = 300000 * time.Second
	}
	for i, a := range cfg.Aliases {
		cfg.Aliases[i] = strings.ToUpper(a)
	}
}

func applyShareDefaults(shares []ShareConfig) {
	for i := range shares {
		shares[i].Driver = strings.ToLower(shares[i].Driver)
	}
}

func applyAccountDefaults(cfg *store.Config) {
	if cfg.Type == "" {
		cfg.Type = store.TypeMemory
	}
	switch cfg.Type {
	case store.TypeBadger:
		if cfg.Badger.Path == "" {
			cfg.Badger.Path = filepath.Join(getConfigDir(), "accounts")
		}
	case store.TypeSQLite:
		if cfg.SQLite.Path == "" {
			cfg.SQLite.Path = filepath.Join(getConfigDir(), "accounts.db")
		}
	case store.TypePostgres:
		cfg.Postgres.ApplyDefaults()
	}
}

// GetDefaultConfig returns a Config with every default applied and a
// single in-memory share.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Shares: []ShareConfig{
			{
				Name:    "public",
				Driver:  "memory",
				Comment: "Scratch space",
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
