package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	// XDG_CONFIG_HOME works on every platform, HOME does not on Windows.
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	expectedPath := filepath.Join(tmpDir, "dittocifs", "config.yaml")
	if configPath != expectedPath {
		t.Errorf("Expected config path %q, got %q", expectedPath, configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	if !strings.HasPrefix(string(content), "# DittoCIFS Configuration File") {
		t.Error("Config file should start with the header comment")
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
	for _, section := range []string{"logging", "telemetry", "metrics", "api", "server", "netbios", "shares", "accounts"} {
		if _, ok := parsed[section]; !ok {
			t.Errorf("Generated config missing section %q", section)
		}
	}
}

func TestInitConfig_LoadsCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	secret := cfg.API.JWT.Secret
	if len(secret) != 64 {
		t.Errorf("Expected a 64 character secret, got %d characters", len(secret))
	}
	if _, err := hex.DecodeString(secret); err != nil {
		t.Errorf("Expected a hex secret, got %q", secret)
	}
	if len(cfg.Shares) != 1 || cfg.Shares[0].Name != "public" {
		t.Errorf("Expected the public share, got %+v", cfg.Shares)
	}
	if cfg.NetBIOS.TTL != GetDefaultConfig().NetBIOS.TTL {
		t.Errorf("Expected default TTL, got %v", cfg.NetBIOS.TTL)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_Force(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := InitConfigToPath(path, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) == "old" {
		t.Error("Expected the file to be overwritten")
	}
}

func TestInitConfig_UniqueSecrets(t *testing.T) {
	a, err := generateSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("Expected two different secrets")
	}
}
