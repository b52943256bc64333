package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/account"
	"github.com/marmos91/dittocifs/pkg/account/store"
	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/metrics"
	"github.com/marmos91/dittocifs/pkg/metrics/prometheus"
)

// OpenAccountStore opens the configured account store backend.
func OpenAccountStore(ctx context.Context, cfg *Config) (account.Store, error) {
	s, err := store.Open(ctx, cfg.Accounts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s account store: %w", cfg.Accounts.Type, err)
	}
	logger.Debug("Account store opened", "type", cfg.Accounts.Type)
	return s, nil
}

// MetricsResult holds the collectors created by InitializeMetrics. Every
// field is nil when metrics are disabled.
type MetricsResult struct {
	SMB     metrics.SMBMetrics
	RPC     metrics.RPCMetrics
	NetBIOS metrics.NetBIOSMetrics
	Locks   *locking.Metrics
}

// InitializeMetrics creates the process registry and the collectors when
// cfg.Metrics.Enabled is set. It must run before any component that takes
// a collector is built.
func InitializeMetrics(cfg *Config) MetricsResult {
	if !cfg.Metrics.Enabled {
		return MetricsResult{}
	}

	reg := metrics.InitRegistry()
	return MetricsResult{
		SMB:     prometheus.NewSMBMetrics(),
		RPC:     prometheus.NewRPCMetrics(),
		NetBIOS: prometheus.NewNetBIOSMetrics(),
		Locks:   locking.NewMetrics(reg),
	}
}
