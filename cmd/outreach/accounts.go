package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/clifmt"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage messaging accounts",
	}

	cmd.AddCommand(newAccountsAddCmd())
	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsEnableCmd())
	cmd.AddCommand(newAccountsDisableCmd())
	return cmd
}

func newAccountsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			if strings.TrimSpace(phone) == "" {
				return fmt.Errorf("--phone is required")
			}
			name, _ := cmd.Flags().GetString("name")
			if strings.TrimSpace(name) == "" {
				name = phone
			}

			st, err := openStoreFromViper()
			if err != nil {
				return err
			}

			account := models.NewAccount(name, phone)
			if limit, _ := cmd.Flags().GetInt("daily-limit"); limit > 0 {
				account.DailyLimit = limit
			}
			if err := st.CreateAccount(cmd.Context(), account); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("Registered account %s (%s). Authorize it with: outreach login --phone %s", account.Name, account.ID, account.Phone)))
			return nil
		},
	}

	cmd.Flags().String("name", "", "Display name (defaults to the phone number).")
	cmd.Flags().String("phone", "", "Phone number in international format.")
	cmd.Flags().Int("daily-limit", 0, "Max first contacts per day (0 keeps the default).")

	return cmd
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreFromViper()
			if err != nil {
				return err
			}
			accounts, err := st.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([]clifmt.ListRow, 0, len(accounts))
			for _, a := range accounts {
				detail := fmt.Sprintf("phone=%s  status=%s  sent_today=%d/%d", a.Phone, a.Status, a.SentToday, a.DailyLimit)
				if note := strings.TrimSpace(a.StatusNote); note != "" {
					detail += "  note=" + note
				}
				rows = append(rows, clifmt.ListRow{Name: a.Name, Detail: detail})
			}

			clifmt.PrintListTable(cmd.OutOrStdout(), clifmt.ListTableOptions{
				Title:        "Accounts",
				Rows:         rows,
				EmptyText:    "No accounts are registered.",
				NameHeader:   "NAME",
				DetailHeader: "DETAILS",
			})
			return nil
		},
	}
}

func newAccountsEnableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Mark an account ready for work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setAccountStatus(cmd, models.AccountReady, "")
		},
	}
	cmd.Flags().String("phone", "", "Phone number of the account.")
	return cmd
}

func newAccountsDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Pause an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setAccountStatus(cmd, models.AccountPaused, "paused by operator")
		},
	}
	cmd.Flags().String("phone", "", "Phone number of the account.")
	return cmd
}

func setAccountStatus(cmd *cobra.Command, status models.AccountStatus, note string) error {
	phone, _ := cmd.Flags().GetString("phone")
	if strings.TrimSpace(phone) == "" {
		return fmt.Errorf("--phone is required")
	}

	st, err := openStoreFromViper()
	if err != nil {
		return err
	}
	account, err := st.GetAccountByPhone(cmd.Context(), phone)
	if err != nil {
		return err
	}
	if err := st.UpdateAccountStatus(cmd.Context(), account.ID, status, note); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("Account %s is now %s.", account.Name, status)))
	return nil
}
