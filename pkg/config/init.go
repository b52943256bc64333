package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# DittoCIFS Configuration File
#
# Every key can be overridden from the environment with the DITTOCIFS_
# prefix, e.g. DITTOCIFS_LOGGING_LEVEL=DEBUG.

logging:
  level: INFO       # DEBUG, INFO, WARN, ERROR
  format: text      # text, json
  output: stdout    # stdout, stderr or a file path

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: http://localhost:4040

metrics:
  enabled: false    # served by the API under /metrics

api:
  enabled: true
  listen_address: 127.0.0.1:8080
  jwt:
    # Development secret. In production set DITTOCIFS_API_JWT_SECRET instead.
    secret: %q
    token_duration: 24h

server:
  listen_address: ":445"
  server_name: DITTOCIFS
  domain: WORKGROUP
  comment: DittoCIFS file server
  max_connections: 0         # 0 = unlimited
  max_message_size: 1Mi
  allow_guest: true
  timeouts:
    read: 5m
    write: 30s
    idle: 15m
    shutdown: 10s

netbios:
  enabled: false
  listen_address: 0.0.0.0:137
  broadcast_address: 255.255.255.255
  retries: 3
  attempt_timeout: 750ms
  refresh_interval: 10m
  max_refresh_failures: 3
  ttl: 83h20m

shares:
  - name: public
    driver: memory
    comment: Scratch space
  # - name: data
  #   driver: disk
  #   params: path=/srv/data,readonly=false
  # - name: archive
  #   driver: s3
  #   params: bucket=archive,region=us-east-1,prefix=cifs/

domain_mappings: []
  # - domain: ENGINEERING
  #   subnet: 10.1.0.0/16
  # - domain: SALES
  #   low: 10.2.0.1
  #   high: 10.2.0.200

accounts:
  type: memory      # memory, badger, sqlite, postgres
  # badger:
  #   path: /var/lib/dittocifs/accounts
  # sqlite:
  #   path: /var/lib/dittocifs/accounts.db
  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: dittocifs
  #   user: dittocifs
  #   password: secret
`

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf(configTemplate, secret)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateSecret returns 32 random bytes hex encoded.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
