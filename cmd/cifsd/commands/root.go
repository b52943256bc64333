// Package commands implements the cifsd command line.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "cifsd",
	Short: "DittoCIFS - SMB2 file server with NetBIOS name service",
	Long: `DittoCIFS serves configured shares over SMB2 (dialect 2.0.2), answers
share enumeration over the srvsvc RPC pipe and registers its names with the
NetBIOS name service. A read-only HTTP API reports sessions, names, shares
and byte-range locks.

Use "cifsd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittocifs/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(tokenCmd)
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}
