package commands

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittocifs/internal/api"
	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/telemetry"
	"github.com/marmos91/dittocifs/pkg/account"
	"github.com/marmos91/dittocifs/pkg/config"
	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/metrics"
	"github.com/marmos91/dittocifs/pkg/netbios"
	"github.com/marmos91/dittocifs/pkg/smb/server"
	"github.com/marmos91/dittocifs/pkg/smb/session"
)

var (
	pidFile     string
	watchConfig bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DittoCIFS server",
	Long: `Start the SMB server in the foreground. The NetBIOS name service and
the HTTP API run alongside it when enabled in the configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/dittocifs/config.yaml.

Examples:
  # Start with the default config
  cifsd start

  # Start with custom config file
  cifsd start --config /etc/dittocifs/config.yaml

  # Start with environment variable overrides
  DITTOCIFS_LOGGING_LEVEL=DEBUG cifsd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
	startCmd.Flags().BoolVar(&watchConfig, "watch", true, "Reload runtime settings when the config file changes")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittocifs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittocifs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	fmt.Println("DittoCIFS - SMB2 file server")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	m := config.InitializeMetrics(cfg)
	if metrics.IsEnabled() {
		logger.Info("Metrics enabled", "path", "/metrics")
	}

	reg, err := config.InitializeRegistry(cfg)
	if err != nil {
		return err
	}
	domains, err := config.DomainMapper(cfg)
	if err != nil {
		return err
	}

	accounts, err := loadAccounts(ctx, cfg)
	if err != nil {
		return err
	}

	locks := locking.NewManager(m.Locks)
	sessions := session.NewManager(reg, locks, domains, m.SMB)
	srv := server.New(cfg.Server, server.Deps{
		Registry:   reg,
		Sessions:   sessions,
		Locks:      locks,
		Metrics:    m.SMB,
		RPCMetrics: m.RPC,
		Auth: server.GuestAuthenticator{
			AllowGuest:   *cfg.Server.AllowGuest,
			GuestAccount: cfg.Server.GuestAccount,
			Accounts:     accounts,
		},
	})

	logger.Info("Registry initialized", "shares", reg.CountShares(), "accounts", accounts.Len())

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })

	var names *netbios.NameTable
	if cfg.NetBIOS.Enabled {
		nb, err := startNetBIOS(gctx, g, cfg, m.NetBIOS)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		names = nb.Table()
	}

	if cfg.API.Enabled {
		apiServer, err := api.NewServer(cfg.API, api.Sources{
			Server:   srv,
			Sessions: sessions,
			Registry: reg,
			Locks:    locks,
			Names:    names,
		})
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to create API server: %w", err)
		}
		g.Go(func() error { return apiServer.Start(gctx) })
	}

	if watchConfig && getConfigSource(GetConfigFile()) != "defaults" {
		g.Go(func() error {
			return config.Watch(gctx, configPath(), func(next *config.Config) {
				config.ApplyRuntime(next)
				if err := reloadAccounts(gctx, accounts, next); err != nil {
					logger.Warn("Failed to reload accounts", logger.KeyError, err)
				}
			})
		})
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", logger.KeyError, err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// startNetBIOS opens the name service socket, starts serving and
// registers the server name and its aliases in the background.
func startNetBIOS(ctx context.Context, g *errgroup.Group, cfg *config.Config, m metrics.NetBIOSMetrics) (*netbios.Service, error) {
	nbc := cfg.NetBIOS
	tr, err := netbios.ListenUDP(netbios.UDPConfig{
		ListenAddress:    nbc.ListenAddress,
		BroadcastAddress: nbc.BroadcastAddress,
		AdvertiseAddress: nbc.AdvertiseAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NetBIOS name service: %w", err)
	}

	table := netbios.NewNameTable(nbc.MaxRefreshFailures)
	if l := metrics.NameListener(m, table); l != nil {
		table.AddListener(l)
	}
	svc := netbios.NewService(table, tr, netbios.Config{
		Retries:        nbc.Retries,
		AttemptTimeout: nbc.AttemptTimeout,
		TTL:            nbc.TTL,
	})

	g.Go(func() error {
		defer func() { _ = tr.Close() }()
		return svc.Serve(ctx)
	})
	g.Go(func() error {
		registerNames(ctx, svc, tr.LocalAddr(), cfg)
		svc.RefreshLoop(ctx, nbc.RefreshInterval)
		return nil
	})
	return svc, nil
}

// registerNames claims the server (0x20) and workstation (0x00) names for
// the server name and every alias. A duplicate is logged, not fatal.
func registerNames(ctx context.Context, svc *netbios.Service, addr netip.Addr, cfg *config.Config) {
	names := append([]string{cfg.Server.ServerName}, cfg.NetBIOS.Aliases...)
	for _, name := range names {
		for _, typ := range []byte{netbios.TypeServer, netbios.TypeWorkstation} {
			if _, err := svc.AddName(ctx, netbios.NewName(name, typ, addr)); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("Could not claim NetBIOS name", "name", name, "type", fmt.Sprintf("0x%02X", typ), logger.KeyError, err)
			}
		}
	}
}

// loadAccounts fills an account list from the configured store. The list
// backs the guest account mapping.
func loadAccounts(ctx context.Context, cfg *config.Config) (*account.List, error) {
	list := account.NewList()
	if err := reloadAccounts(ctx, list, cfg); err != nil {
		return nil, err
	}
	return list, nil
}

func reloadAccounts(ctx context.Context, list *account.List, cfg *config.Config) error {
	store, err := config.OpenAccountStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := list.Load(ctx, store); err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}
	return nil
}
