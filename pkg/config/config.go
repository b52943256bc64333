package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittocifs/internal/api"
	"github.com/marmos91/dittocifs/internal/bytesize"
	"github.com/marmos91/dittocifs/pkg/account/store"
	"github.com/marmos91/dittocifs/pkg/smb/server"
)

// EnvPrefix prefixes every environment override, e.g.
// DITTOCIFS_LOGGING_LEVEL=DEBUG or DITTOCIFS_SERVER_LISTEN_ADDRESS=:1445.
const EnvPrefix = "DITTOCIFS"

// Config is the complete DittoCIFS configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOCIFS_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// API is the monitoring HTTP API.
	API api.Config `mapstructure:"api" yaml:"api"`

	// Server configures the SMB listener.
	Server server.Config `mapstructure:"server" yaml:"server"`

	NetBIOS NetBIOSConfig `mapstructure:"netbios" yaml:"netbios"`

	// Shares lists the disk shares. IPC$ is always present and must not
	// be listed.
	Shares []ShareConfig `mapstructure:"shares" yaml:"shares" validate:"dive"`

	// DomainMappings assign a domain to sessions by client address. The
	// first match wins; others get server.domain.
	DomainMappings []DomainMappingConfig `mapstructure:"domain_mappings" yaml:"domain_mappings,omitempty" validate:"dive"`

	// Accounts selects the user account store.
	Accounts store.Config `mapstructure:"accounts" yaml:"accounts"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing and Pyroscope profiling.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector (host:port).
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect.
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig enables Prometheus collection. Metrics are served by the
// API under /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// NetBIOSConfig configures the NetBIOS name service on UDP 137.
type NetBIOSConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	ListenAddress    string `mapstructure:"listen_address" validate:"omitempty,hostname_port" yaml:"listen_address"`
	BroadcastAddress string `mapstructure:"broadcast_address" validate:"omitempty,ipv4" yaml:"broadcast_address"`

	// AdvertiseAddress is the IPv4 address registered for our names.
	// Empty selects the first non-loopback interface address.
	AdvertiseAddress string `mapstructure:"advertise_address" validate:"omitempty,ipv4" yaml:"advertise_address,omitempty"`

	// Retries is the number of broadcasts per registration or query.
	Retries int `mapstructure:"retries" validate:"min=0,max=10" yaml:"retries"`

	// AttemptTimeout bounds the wait after each broadcast.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`

	// RefreshInterval is how often local names are refreshed.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`

	// MaxRefreshFailures is the number of consecutive failed refreshes
	// after which a name is dropped.
	MaxRefreshFailures int `mapstructure:"max_refresh_failures" validate:"min=0" yaml:"max_refresh_failures"`

	// TTL is advertised for local names.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// Aliases are extra server names registered alongside server.server_name.
	Aliases []string `mapstructure:"aliases" validate:"dive,max=15" yaml:"aliases,omitempty"`
}

// ShareConfig describes one disk share.
type ShareConfig struct {
	Name string `mapstructure:"name" validate:"required,max=80" yaml:"name"`

	// Driver names the device backend: disk, memory or s3.
	Driver string `mapstructure:"driver" validate:"required" yaml:"driver"`

	// Params is the driver parameter string, e.g. "path=/srv,readonly=true".
	Params string `mapstructure:"params" yaml:"params,omitempty"`

	Comment string `mapstructure:"comment" yaml:"comment,omitempty"`

	// Hidden shares are not enumerated but can be connected by name.
	Hidden bool `mapstructure:"hidden" yaml:"hidden,omitempty"`

	// MaxUses caps concurrent tree connects. 0 means unlimited.
	MaxUses uint32 `mapstructure:"max_uses" yaml:"max_uses,omitempty"`

	AllowedClients []string `mapstructure:"allowed_clients" validate:"dive,ip|cidr" yaml:"allowed_clients,omitempty"`
	DeniedClients  []string `mapstructure:"denied_clients" validate:"dive,ip|cidr" yaml:"denied_clients,omitempty"`
}

// DomainMappingConfig maps either an address range (Low..High) or a
// subnet onto Domain.
type DomainMappingConfig struct {
	Domain string `mapstructure:"domain" validate:"required" yaml:"domain"`
	Low    string `mapstructure:"low" validate:"omitempty,ip" yaml:"low,omitempty"`
	High   string `mapstructure:"high" validate:"omitempty,ip" yaml:"high,omitempty"`
	Subnet string `mapstructure:"subnet" validate:"omitempty,cidr" yaml:"subnet,omitempty"`
}

// Load loads configuration from file, environment and defaults. A missing
// file yields the defaults with environment overrides applied.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for commands that require an existing file. It returns
// an error with setup instructions when the file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  cifsd config init\n\n"+
				"Or specify a custom config file:\n"+
				"  cifsd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  cifsd config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML. The file is created 0600 because
// it may hold the API secret and database credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, "", reflect.TypeOf(Config{}))

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvKeys registers every leaf key so AutomaticEnv overrides reach
// Unmarshal even when the key is absent from the file.
func bindEnvKeys(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			bindEnvKeys(v, key, ft)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reports whether a file was read. A missing file is not
// an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook accepts "1MiB", "64KB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s", "5m" or integer nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/dittocifs, ~/.config/dittocifs, or
// "." when no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittocifs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittocifs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
