package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittocifs/pkg/account/store"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_NetBIOS(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	nb := cfg.NetBIOS
	if nb.Retries != 3 || nb.AttemptTimeout != 750*time.Millisecond {
		t.Errorf("Unexpected retry defaults: %+v", nb)
	}
	if nb.TTL != 300000*time.Second {
		t.Errorf("Expected TTL 300000s, got %v", nb.TTL)
	}
	if nb.BroadcastAddress != "255.255.255.255" {
		t.Errorf("Expected limited broadcast, got %q", nb.BroadcastAddress)
	}
}

func TestApplyDefaults_Accounts(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := &Config{Accounts: store.Config{Type: store.TypeSQLite}}
	ApplyDefaults(cfg)
	if filepath.Base(cfg.Accounts.SQLite.Path) != "accounts.db" {
		t.Errorf("Expected default sqlite path, got %q", cfg.Accounts.SQLite.Path)
	}

	cfg = &Config{Accounts: store.Config{Type: store.TypePostgres}}
	ApplyDefaults(cfg)
	if cfg.Accounts.Postgres.Port != 5432 {
		t.Errorf("Expected default postgres port, got %d", cfg.Accounts.Postgres.Port)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "warn", Format: "json", Output: "stderr"},
		Telemetry: TelemetryConfig{SampleRate: 0.25, Endpoint: "otel:4317"},
		NetBIOS:   NetBIOSConfig{Retries: 7, RefreshInterval: time.Minute},
	}
	cfg.Server.ServerName = "files"
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Logging values not preserved: %+v", cfg.Logging)
	}
	if cfg.Telemetry.SampleRate != 0.25 || cfg.Telemetry.Endpoint != "otel:4317" {
		t.Errorf("Telemetry values not preserved: %+v", cfg.Telemetry)
	}
	if cfg.NetBIOS.Retries != 7 || cfg.NetBIOS.RefreshInterval != time.Minute {
		t.Errorf("NetBIOS values not preserved: %+v", cfg.NetBIOS)
	}
	if cfg.Server.ServerName != "FILES" {
		t.Errorf("Expected server name 'FILES', got %q", cfg.Server.ServerName)
	}
}

func TestInitializeRegistry(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Shares = append(cfg.Shares, ShareConfig{Name: "hidden$", Driver: "memory", Hidden: true})

	reg, err := InitializeRegistry(cfg)
	if err != nil {
		t.Fatalf("InitializeRegistry failed: %v", err)
	}
	// IPC$ plus the two configured shares
	if reg.CountShares() != 3 {
		t.Errorf("Expected 3 shares, got %d", reg.CountShares())
	}
	share, err := reg.GetShare("HIDDEN$")
	if err != nil || !share.Hidden {
		t.Errorf("Expected hidden share, got %+v (%v)", share, err)
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	res := InitializeMetrics(GetDefaultConfig())
	if res.SMB != nil || res.RPC != nil || res.NetBIOS != nil || res.Locks != nil {
		t.Errorf("Expected no collectors when metrics are disabled, got %+v", res)
	}
}
