package cmd

import (
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Create, inspect and delete accounts",
	Long: `Manage paper-trading accounts. Each account is addressed by its token.

Examples:
  papertrade account create --capital 500000
  papertrade account list
  papertrade account show <token>
  papertrade account delete <token>`,
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new account and print its token",
	Args:  cobra.NoArgs,
	RunE:  runAccountCreate,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every account",
	Args:  cobra.NoArgs,
	RunE:  runAccountList,
}

var accountShowCmd = &cobra.Command{
	Use:   "show <token>",
	Short: "Show an account and its positions",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete <token>",
	Short: "Delete an account and all of its records",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountDelete,
}

var accountParams broker.AccountParams

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountDeleteCmd)

	f := accountCreateCmd.Flags()
	f.Float64Var(&accountParams.Capital, "capital", 0, "starting capital (default from config)")
	f.Float64Var(&accountParams.Cost, "cost", 0, "commission rate (default from config)")
	f.Float64Var(&accountParams.Tax, "tax", 0, "sell-side tax rate (default from config)")
	f.Float64Var(&accountParams.Slippoint, "slippoint", 0, "slippage points (default from config)")
	f.StringVar(&accountParams.Info, "info", "", "free-form description")
}

func runAccountCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		acct, err := a.engine.CreateAccount(cmd.Context(), accountParams)
		if err != nil {
			return err
		}
		fmt.Println(acct.AccountID)
		return nil
	})
}

func runAccountList(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		accts, err := a.engine.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		if len(accts) == 0 {
			fmt.Println("no accounts")
			return nil
		}
		fmt.Printf("%-22s %14s %14s %14s %14s\n", "TOKEN", "CAPITAL", "ASSETS", "AVAILABLE", "MARKET VALUE")
		for _, acct := range accts {
			fmt.Printf("%-22s %14.2f %14.2f %14.2f %14.2f\n",
				acct.AccountID, acct.Capital, acct.Assets, acct.Available, acct.MarketValue)
		}
		return nil
	})
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		acct, err := a.engine.GetAccount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ps, err := a.engine.Positions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(journal.FormatAccountOrg(acct, ps))
		return nil
	})
}

func runAccountDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		if err := a.engine.DeleteAccount(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Deleted account %s\n", args[0])
		return nil
	})
}
