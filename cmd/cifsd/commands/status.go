package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocifs/internal/api"
	"github.com/marmos91/dittocifs/internal/cli/output"
	"github.com/marmos91/dittocifs/internal/cli/timeutil"
	"github.com/marmos91/dittocifs/pkg/apiclient"
)

var (
	apiURL       string
	apiToken     string
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Query the monitoring API of a running server.

The API address comes from api.listen_address unless --api-url is set. When
an API secret is configured a short-lived token is issued automatically.

Examples:
  cifsd status
  cifsd status --api-url http://files:8080 -o json`,
	RunE: runStatus,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live SMB sessions",
	RunE:  runSessions,
}

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "List the NetBIOS name table",
	RunE:  runNames,
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List held byte-range locks",
	RunE:  runLocks,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, sessionsCmd, namesCmd, locksCmd} {
		c.Flags().StringVar(&apiURL, "api-url", "", "API base URL (default: from api.listen_address)")
		c.Flags().StringVar(&apiToken, "token", "", "Bearer token (default: issued from the configured secret)")
		c.Flags().StringVarP(&statusFormat, "output", "o", "table", "Output format (table, json, yaml)")
		rootCmd.AddCommand(c)
	}
}

// newAPIClient builds a client for the configured or given API address.
func newAPIClient() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	base := apiURL
	if base == "" {
		base = "http://" + dialAddress(cfg.API.ListenAddress)
	}
	client := apiclient.New(base)

	token := apiToken
	if token == "" && cfg.API.AuthEnabled() {
		svc, err := api.NewJWTService(cfg.API.JWTSecret(), 5*time.Minute)
		if err != nil {
			return nil, err
		}
		if token, _, err = svc.IssueToken("cifsd-cli"); err != nil {
			return nil, err
		}
	}
	if token != "" {
		client = client.WithToken(token)
	}
	return client, nil
}

// dialAddress maps a wildcard listen address to loopback.
func dialAddress(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *apiclient.Client, f output.Format) error) error {
	format, err := output.ParseFormat(statusFormat)
	if err != nil {
		return err
	}
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	return fn(ctx, c, format)
}

type statusView struct {
	*apiclient.Health
}

func (s statusView) Headers() []string { return []string{"FIELD", "VALUE"} }

func (s statusView) Rows() [][]string {
	return [][]string{
		{"Service", s.Service},
		{"Uptime", timeutil.FormatUptime(s.Uptime)},
		{"Connections", strconv.Itoa(s.Connections)},
		{"Sessions", strconv.Itoa(s.Sessions)},
		{"Open files", strconv.Itoa(s.OpenFiles)},
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *apiclient.Client, f output.Format) error {
		h, err := c.Health(ctx)
		if err != nil {
			return fmt.Errorf("server is not reachable: %w", err)
		}
		return output.Print(cmd.OutOrStdout(), f, statusView{h})
	})
}

type sessionTable []apiclient.Session

func (t sessionTable) Headers() []string {
	return []string{"ID", "USER", "DOMAIN", "CLIENT", "TREES", "OPENS", "LOCKS", "CREATED"}
}

func (t sessionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		user := s.User
		if s.Guest {
			user += " (guest)"
		}
		rows = append(rows, []string{
			strconv.FormatUint(s.ID, 10), user, s.Domain, s.Client,
			strconv.Itoa(s.Stats.Trees), strconv.Itoa(s.Stats.Opens), strconv.Itoa(s.Stats.Locks),
			timeutil.FormatTime(s.Created),
		})
	}
	return rows
}

func runSessions(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *apiclient.Client, f output.Format) error {
		sessions, err := c.Sessions(ctx)
		if err != nil {
			return err
		}
		return output.Print(cmd.OutOrStdout(), f, sessionTable(sessions))
	})
}

type nameTable []apiclient.Name

func (t nameTable) Headers() []string {
	return []string{"NAME", "TYPE", "SCOPE", "STATE", "ADDRESSES", "TTL"}
}

func (t nameTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, n := range t {
		scope := "remote"
		if n.Local {
			scope = "local"
		}
		if n.Group {
			scope += " group"
		}
		ttl := "infinite"
		if n.TTLSeconds > 0 {
			ttl = timeutil.FormatDuration(time.Duration(n.TTLSeconds) * time.Second)
		}
		rows = append(rows, []string{n.Name, n.Type, scope, n.State, strings.Join(n.Addresses, ","), ttl})
	}
	return rows
}

func runNames(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *apiclient.Client, f output.Format) error {
		names, err := c.Names(ctx)
		if err != nil {
			return err
		}
		return output.Print(cmd.OutOrStdout(), f, nameTable(names))
	})
}

type lockTable []apiclient.FileLocks

func (t lockTable) Headers() []string {
	return []string{"SHARE", "PATH", "OFFSET", "LENGTH", "SESSION", "PID", "ACQUIRED"}
}

func (t lockTable) Rows() [][]string {
	var rows [][]string
	for _, f := range t {
		for _, l := range f.Locks {
			rows = append(rows, []string{
				f.Share, f.Path,
				strconv.FormatUint(l.Offset, 10), strconv.FormatUint(l.Length, 10),
				strconv.FormatUint(l.SessionID, 10), strconv.FormatUint(uint64(l.PID), 10),
				timeutil.FormatTime(l.Acquired),
			})
		}
	}
	return rows
}

func runLocks(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *apiclient.Client, f output.Format) error {
		locks, err := c.Locks(ctx)
		if err != nil {
			return err
		}
		return output.Print(cmd.OutOrStdout(), f, lockTable(locks))
	})
}
