package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocifs/internal/api"
)

var (
	tokenSubject  string
	tokenDuration time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the monitoring API",
	Long: `Issue a JWT signed with the configured API secret. Pass it as
"Authorization: Bearer <token>" when calling /api/v1.

Examples:
  TOKEN=$(cifsd token)
  curl -H "Authorization: Bearer $TOKEN" http://127.0.0.1:8080/api/v1/sessions`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenDuration, "duration", 0, "Token lifetime (default: api.jwt.token_duration)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.API.AuthEnabled() {
		return errors.New("no API secret configured; set api.jwt.secret or " + api.EnvJWTSecret)
	}

	duration := cfg.API.JWT.TokenDuration
	if tokenDuration > 0 {
		duration = tokenDuration
	}
	svc, err := api.NewJWTService(cfg.API.JWTSecret(), duration)
	if err != nil {
		return err
	}
	token, expires, err := svc.IssueToken(tokenSubject)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Expires at %s\n", expires.Local().Format(time.RFC3339))
	return nil
}
