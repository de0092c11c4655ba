package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/clubhouse/identity/local"
	"github.com/jmcleod/clubhouse/records"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage sign-in accounts",
	Long: `Commands for managing the accounts that can sign in to the site.

With the bolt backend the server holds the database lock, so stop it first.
Changes to admin access reach signed-in sessions on their next token refresh.`,
}

// accountEnv is the storage an account subcommand works against.
type accountEnv struct {
	svc   *local.Service
	store *records.Store
	close func()
}

func openAccountEnv(cmd *cobra.Command) (*accountEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo, closeRepo, err := openRepository(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, err
	}
	svc, err := newIdentityService(repo, cfg, logger)
	if err != nil {
		closeRepo()
		return nil, err
	}
	return &accountEnv{svc: svc, store: records.New(repo), close: closeRepo}, nil
}

var (
	accountPassword    string
	accountDisplayName string
	accountAdmin       bool
)

var accountCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create an account and its user record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openAccountEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		password := accountPassword
		if password == "" {
			password = os.Getenv("CLUBHOUSE_ACCOUNT_PASSWORD")
		}
		if password == "" {
			return errors.New("a password is required: pass --password or set CLUBHOUSE_ACCOUNT_PASSWORD")
		}
		acct, err := createAccount(cmd.Context(), env, local.AccountInput{
			Email:       args[0],
			Password:    password,
			DisplayName: accountDisplayName,
			Admin:       accountAdmin,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s)\n", acct.Email, acct.UID)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openAccountEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		accounts, err := env.svc.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		return writeAccounts(cmd.OutOrStdout(), accounts)
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd, accountListCmd)

	accountCreateCmd.Flags().StringVar(&accountPassword, "password", "", "Initial password (or CLUBHOUSE_ACCOUNT_PASSWORD)")
	accountCreateCmd.Flags().StringVar(&accountDisplayName, "name", "", "Display name")
	accountCreateCmd.Flags().BoolVar(&accountAdmin, "admin", false, "Grant administrator access")

	for _, c := range []struct {
		use, short string
		apply      func(ctx context.Context, env *accountEnv, uid string) (local.Account, error)
	}{
		{"grant-admin", "Grant administrator access", setAdmin(true)},
		{"revoke-admin", "Revoke administrator access", setAdmin(false)},
		{"disable", "Disable an account and end its sessions", setDisabled(true)},
		{"enable", "Re-enable a disabled account", setDisabled(false)},
	} {
		accountCmd.AddCommand(&cobra.Command{
			Use:   c.use + " <email>",
			Short: c.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := openAccountEnv(cmd)
				if err != nil {
					return err
				}
				defer env.close()

				acct, err := env.svc.GetAccountByEmail(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("looking up %s: %w", args[0], err)
				}
				acct, err = c.apply(cmd.Context(), env, acct.UID)
				if err != nil {
					return err
				}
				return writeAccounts(cmd.OutOrStdout(), []local.Account{acct})
			},
		})
	}
}

// createAccount provisions the identity account and the matching user
// record, removing the account again if the record cannot be stored.
func createAccount(ctx context.Context, env *accountEnv, in local.AccountInput) (local.Account, error) {
	acct, err := env.svc.CreateAccount(ctx, in)
	if err != nil {
		return local.Account{}, err
	}
	role := records.RoleMember
	if in.Admin {
		role = records.RoleAdmin
	}
	res := env.store.Users.Create(ctx, records.User{
		UID:         acct.UID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		Role:        role,
	})
	if !res.Success {
		if err := env.svc.DeleteAccount(ctx, acct.UID); err != nil {
			return local.Account{}, fmt.Errorf("rolling back account after %v: %w", res.Err, err)
		}
		return local.Account{}, res.Err
	}
	return acct, nil
}

func setAdmin(admin bool) func(context.Context, *accountEnv, string) (local.Account, error) {
	return func(ctx context.Context, env *accountEnv, uid string) (local.Account, error) {
		acct, err := env.svc.SetAdmin(ctx, uid, admin)
		if err != nil {
			return local.Account{}, err
		}
		role := records.RoleMember
		if admin {
			role = records.RoleAdmin
		}
		return acct, syncUser(ctx, env, uid, func(u *records.User) { u.Role = role })
	}
}

func setDisabled(disabled bool) func(context.Context, *accountEnv, string) (local.Account, error) {
	return func(ctx context.Context, env *accountEnv, uid string) (local.Account, error) {
		acct, err := env.svc.SetDisabled(ctx, uid, disabled)
		if err != nil {
			return local.Account{}, err
		}
		return acct, syncUser(ctx, env, uid, func(u *records.User) { u.Disabled = disabled })
	}
}

// syncUser applies fn to the user record of uid. Accounts without a user
// record are left alone.
func syncUser(ctx context.Context, env *accountEnv, uid string, fn func(*records.User)) error {
	found := env.store.FindUserByUID(ctx, uid)
	if !found.Success {
		if errors.Is(found.Err, records.ErrNotFound) {
			return nil
		}
		return found.Err
	}
	res := env.store.Users.Modify(ctx, found.Data.ID, func(u *records.User) error {
		fn(u)
		return nil
	})
	return res.Err
}

func writeAccounts(w io.Writer, accounts []local.Account) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tUID\tADMIN\tDISABLED\tCREATED")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", a.Email, a.UID, a.Admin, a.Disabled, a.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}
