package postgres

import (
	"fmt"
	"net/url"
	"strconv"
)

// Config holds the PostgreSQL connection settings.
type Config struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 4
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("postgres host is required")
	case c.Database == "":
		return fmt.Errorf("postgres database is required")
	case c.User == "":
		return fmt.Errorf("postgres user is required")
	case c.MaxConns < 1:
		return fmt.Errorf("postgres max_conns must be positive")
	}
	return nil
}

// ConnectionString renders the settings as a postgres:// URL.
func (c *Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}
