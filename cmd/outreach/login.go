package main

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/clifmt"
	"github.com/knapabuse2-cmd/outreach/internal/gateway"
	"github.com/knapabuse2-cmd/outreach/internal/sessionstore"
	"github.com/knapabuse2-cmd/outreach/internal/statepaths"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize an account and store its gateway session",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			sessions, err := sessionstore.New(statepaths.SessionsDir())
			if err != nil {
				return err
			}

			gatewayURL := flagOrViperString(cmd, "gateway-url", "gateway.base_url")
			httpClient := &http.Client{Timeout: viper.GetDuration("gateway.request_timeout")}
			gw := gateway.New(httpClient, gatewayURL, "")

			if err := gw.RequestLoginCode(cmd.Context(), account.Phone); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Login code sent to %s.\n", account.Phone)

			fmt.Fprint(cmd.OutOrStdout(), "Code: ")
			reader := bufio.NewReader(cmd.InOrStdin())
			code, err := reader.ReadString('\n')
			if err != nil && strings.TrimSpace(code) == "" {
				return fmt.Errorf("read code: %w", err)
			}

			token, err := gw.SubmitLoginCode(cmd.Context(), account.Phone, strings.TrimSpace(code))
			if err != nil {
				return err
			}

			sessionName := sessionNameFor(account)
			if err := sessions.Save(sessionName, []byte(token)); err != nil {
				return err
			}

			account.SessionName = sessionName
			account.Status = models.AccountReady
			account.StatusNote = ""
			account.CooldownUntil = nil

			authed := gateway.New(httpClient, gatewayURL, token)
			if me, err := authed.Me(cmd.Context()); err == nil && me != nil {
				account.Username = me.Username
			}

			if err := st.SaveAccountSession(cmd.Context(), account); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("Account %s authorized. Session stored as %s.", account.Name, sessionName)))
			return nil
		},
	}

	cmd.Flags().String("phone", "", "Phone number of the account.")
	cmd.Flags().String("gateway-url", "", "Gateway base URL (overrides gateway.base_url).")

	return cmd
}
