package server

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/marmos91/dittocifs/internal/bytesize"
)

// DefaultMaxMessageSize bounds a single NetBIOS frame.
const DefaultMaxMessageSize = bytesize.MiB

// TimeoutsConfig groups the connection timeouts.
type TimeoutsConfig struct {
	// Read is the maximum time to wait for the rest of a frame.
	Read time.Duration `mapstructure:"read" yaml:"read" validate:"min=0"`

	// Write bounds a single reply write.
	Write time.Duration `mapstructure:"write" yaml:"write" validate:"min=0"`

	// Idle closes connections that send nothing for this long.
	Idle time.Duration `mapstructure:"idle" yaml:"idle" validate:"min=0"`

	// Shutdown is how long Serve waits for connections to drain.
	Shutdown time.Duration `mapstructure:"shutdown" yaml:"shutdown" validate:"min=0"`
}

// Config configures the SMB server.
type Config struct {
	// ListenAddress is the TCP address to accept connections on.
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" validate:"required"`

	// ServerName is the NetBIOS name reported by NetrServerGetInfo.
	ServerName string `mapstructure:"server_name" yaml:"server_name" validate:"required,max=15"`

	// Domain is assigned to sessions no domain mapping matches.
	Domain string `mapstructure:"domain" yaml:"domain"`

	Comment string `mapstructure:"comment" yaml:"comment"`

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// MaxMessageSize caps a single NetBIOS frame ("1MiB", "128KiB").
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`

	// AllowGuest enables anonymous SESSION_SETUP.
	AllowGuest *bool `mapstructure:"allow_guest" yaml:"allow_guest,omitempty"`

	// GuestAccount maps guest sessions onto a configured account.
	GuestAccount string `mapstructure:"guest_account" yaml:"guest_account,omitempty"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":445"
	}
	if c.ServerName == "" {
		c.ServerName = "DITTOCIFS"
	}
	c.ServerName = strings.ToUpper(c.ServerName)
	if c.Domain == "" {
		c.Domain = "WORKGROUP"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.AllowGuest == nil {
		allow := true
		c.AllowGuest = &allow
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 5 * time.Minute
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 15 * time.Minute
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 10 * time.Second
	}
}

// Validate checks values the struct tags cannot express.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address: %w", err)
	}
	if len(c.ServerName) > 15 {
		return fmt.Errorf("server.server_name %q is longer than 15 characters", c.ServerName)
	}
	return nil
}

func (c *Config) guestAllowed() bool { return c.AllowGuest == nil || *c.AllowGuest }
