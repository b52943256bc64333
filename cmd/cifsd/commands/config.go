package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocifs/internal/api"
	"github.com/marmos91/dittocifs/internal/cli/output"
	"github.com/marmos91/dittocifs/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var (
	initForce    bool
	schemaOutput string
	showFormat   string
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample DittoCIFS configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittocifs/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  cifsd config init

  # Initialize with custom path
  cifsd config init --config /etc/dittocifs/config.yaml

  # Force overwrite existing config
  cifsd config init --force`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the DittoCIFS configuration file.

Checks for syntax errors, missing required fields, and invalid values.`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and DITTOCIFS_* environment
overrides have been applied.`,
	RunE: runConfigShow,
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the DittoCIFS configuration file, for IDE
autocompletion and validation.

Examples:
  cifsd config schema --output config.schema.json`,
	RunE: runConfigSchema,
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	configShowCmd.Flags().StringVarP(&showFormat, "output", "o", "yaml", "Output format (yaml, json)")
	configSchemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSchemaCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	var err error
	if cfgFile != "" {
		err = config.InitConfigToPath(cfgFile, initForce)
		path = cfgFile
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the configuration file to add your shares")
	_, _ = fmt.Fprintln(out, "  2. Start the server with: cifsd start")
	_, _ = fmt.Fprintln(out, "\nSecurity note:")
	_, _ = fmt.Fprintln(out, "  A random API secret has been generated for development use.")
	_, _ = fmt.Fprintln(out, "  For production, provide it through the environment instead:")
	_, _ = fmt.Fprintf(out, "    export %s=$(openssl rand -hex 32)\n", api.EnvJWTSecret)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}

	var warnings []string
	if cfg.API.Enabled && !cfg.API.AuthEnabled() {
		warnings = append(warnings, "API enabled without a JWT secret - /api/v1 is unauthenticated")
	}
	if len(cfg.Shares) == 0 {
		warnings = append(warnings, "No shares configured - only IPC$ will be available")
	}
	if cfg.Server.GuestAccount != "" && cfg.Accounts.Type == "memory" {
		warnings = append(warnings, "guest_account set with the memory account store - the account will never exist")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", configPath())
	_, _ = fmt.Fprintln(out, "Validation: OK")
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	_, _ = fmt.Fprintf(out, "  SMB listen:      %s\n", cfg.Server.ListenAddress)
	_, _ = fmt.Fprintf(out, "  Server name:     %s\n", cfg.Server.ServerName)
	_, _ = fmt.Fprintf(out, "  Shares:          %d\n", len(cfg.Shares))
	_, _ = fmt.Fprintf(out, "  NetBIOS:         %t\n", cfg.NetBIOS.Enabled)
	_, _ = fmt.Fprintf(out, "  Account store:   %s\n", cfg.Accounts.Type)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showFormat)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// never echo the secret
	if cfg.API.JWT.Secret != "" {
		cfg.API.JWT.Secret = "<redacted>"
	}
	if cfg.Accounts.Postgres.Password != "" {
		cfg.Accounts.Postgres.Password = "<redacted>"
	}
	return output.Print(cmd.OutOrStdout(), format, cfg)
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, schema, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
		return nil
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}
