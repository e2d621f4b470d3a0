package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/spf13/cobra"
)

var (
	accountPassword string
	accountRole     string
	accountActive   bool
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage user accounts",
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create an account",
	Long:  `Create an account. New accounts are disabled unless --active is given.`,
	Example: `  timekeeper accounts create alice --password secret
  timekeeper accounts create bob --password secret --role admin --active`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountsCreate,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable USERNAME",
	Short: "Allow an account to log in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountActive(args[0], true)
	},
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable USERNAME",
	Short: "Stop an account from logging in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountActive(args[0], false)
	},
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete USERNAME",
	Short: "Delete an account with all its sessions and events",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsDelete,
}

func init() {
	accountsCreateCmd.Flags().StringVarP(&accountPassword, "password", "p", "", "Password (required)")
	accountsCreateCmd.Flags().StringVar(&accountRole, "role", string(storage.RoleEmployee), "Role: employee or admin")
	accountsCreateCmd.Flags().BoolVar(&accountActive, "active", false, "Enable the account immediately")
	_ = accountsCreateCmd.MarkFlagRequired("password")

	accountsCmd.AddCommand(accountsCreateCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsEnableCmd)
	accountsCmd.AddCommand(accountsDisableCmd)
	accountsCmd.AddCommand(accountsDeleteCmd)
	rootCmd.AddCommand(accountsCmd)
}

func runAccountsCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	account, err := a.engine.CreateAccount(ctx, args[0], accountPassword, storage.Role(accountRole))
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("username %s is already taken", args[0])
	}
	if err != nil {
		return err
	}

	if accountActive {
		if err := a.store.Accounts().SetActive(ctx, account.ID, true); err != nil {
			return fmt.Errorf("failed to enable account: %w", err)
		}
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("✅ Created %s account %s (%s)\n", account.Role, account.Username, account.ID)
	if !accountActive {
		fmt.Printf("   Enable it with: timekeeper accounts enable %s\n", account.Username)
	}
	return nil
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.store.Accounts().List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	printHeader("Accounts")
	if len(accounts) == 0 {
		fmt.Println("No accounts.")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tSTATUS\tDEVICE\tCREATED")
	for _, account := range accounts {
		state := green.Sprint("active")
		if !account.Active {
			state = red.Sprint("disabled")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			account.Username,
			account.Role,
			state,
			status.DeviceLabel(account.RegisteredDevice),
			formatTime(account.CreatedAt),
		)
	}
	return w.Flush()
}

func setAccountActive(username string, active bool) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	account, err := lookupAccount(ctx, a, username)
	if err != nil {
		return err
	}
	if err := a.store.Accounts().SetActive(ctx, account.ID, active); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	verb := "disabled"
	if active {
		verb = "enabled"
	}
	_, _ = color.New(color.FgGreen, color.Bold).Printf("✅ Account %s %s\n", account.Username, verb)
	return nil
}

func runAccountsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	account, err := lookupAccount(ctx, a, args[0])
	if err != nil {
		return err
	}
	if err := a.engine.PurgeAccount(ctx, account.ID); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("✅ Account %s deleted with its sessions and events\n", account.Username)
	return nil
}

func lookupAccount(ctx context.Context, a *app, username string) (*storage.Account, error) {
	account, err := a.store.Accounts().GetByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("account %s not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return account, nil
}
