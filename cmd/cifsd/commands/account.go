package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittocifs/internal/cli/output"
	"github.com/marmos91/dittocifs/internal/cli/prompt"
	"github.com/marmos91/dittocifs/pkg/account"
	"github.com/marmos91/dittocifs/pkg/account/store"
	"github.com/marmos91/dittocifs/pkg/config"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage local accounts",
	Long: `Manage the local accounts kept in the configured account store. Only
the NT hash of each password is stored. The memory store does not persist,
so these commands need badger, sqlite or postgres.`,
}

var (
	accountPassword string
	accountFullName string
	accountComment  string
	accountDisabled bool
	accountForce    bool
	accountFormat   string
)

var accountAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create or replace an account",
	Long: `Create an account, prompting for the password unless --password is
given. An existing account with the same name is replaced.

Examples:
  cifsd account add alice
  cifsd account add guest --password "" --comment "guest mapping"`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountAdd,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE:  runAccountList,
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRemove,
}

func init() {
	accountAddCmd.Flags().StringVar(&accountPassword, "password", "", "Password (prompted when not set)")
	accountAddCmd.Flags().StringVar(&accountFullName, "full-name", "", "Full name")
	accountAddCmd.Flags().StringVar(&accountComment, "comment", "", "Comment")
	accountAddCmd.Flags().BoolVar(&accountDisabled, "disabled", false, "Create the account disabled")
	accountListCmd.Flags().StringVarP(&accountFormat, "output", "o", "table", "Output format (table, json, yaml)")
	accountRemoveCmd.Flags().BoolVarP(&accountForce, "force", "f", false, "Do not ask for confirmation")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountRemoveCmd)
}

// openAccounts opens the configured store and refuses the memory store,
// where changes would vanish with the process.
func openAccounts(ctx context.Context) (account.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Accounts.Type == store.TypeMemory {
		return nil, errors.New("the memory account store does not persist; configure accounts.type as badger, sqlite or postgres")
	}
	return config.OpenAccountStore(ctx, cfg)
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]
	if err := account.ValidateName(name); err != nil {
		return err
	}

	password := accountPassword
	if !cmd.Flags().Changed("password") {
		p, err := prompt.NewPassword(8)
		if err != nil {
			return err
		}
		password = p
	}

	s, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	user, err := account.NewUserAccount(name, password)
	if err != nil {
		return err
	}
	user.FullName = accountFullName
	user.Comment = accountComment
	user.Disabled = accountDisabled

	if err := s.Put(ctx, user); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s saved\n", name)
	return nil
}

type accountRow struct {
	Name     string    `json:"name" yaml:"name"`
	FullName string    `json:"full_name,omitempty" yaml:"full_name,omitempty"`
	Comment  string    `json:"comment,omitempty" yaml:"comment,omitempty"`
	Disabled bool      `json:"disabled" yaml:"disabled"`
	Created  time.Time `json:"created" yaml:"created"`
}

type accountList []accountRow

func (l accountList) Headers() []string {
	return []string{"NAME", "FULL NAME", "DISABLED", "CREATED", "COMMENT"}
}

func (l accountList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, a := range l {
		rows = append(rows, []string{a.Name, a.FullName, strconv.FormatBool(a.Disabled),
			a.Created.Local().Format(time.DateTime), a.Comment})
	}
	return rows
}

func runAccountList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(accountFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	users, err := s.List(ctx)
	if err != nil {
		return err
	}
	list := make(accountList, 0, len(users))
	for _, u := range users {
		list = append(list, accountRow{Name: u.Name, FullName: u.FullName, Comment: u.Comment, Disabled: u.Disabled, Created: u.Created})
	}
	return output.Print(cmd.OutOrStdout(), format, list)
}

func runAccountRemove(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !accountForce {
		ok, err := prompt.Confirm(fmt.Sprintf("Delete account %s", name))
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	ctx := cmd.Context()
	s, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.Delete(ctx, name); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return fmt.Errorf("account %s does not exist", name)
		}
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s deleted\n", name)
	return nil
}
