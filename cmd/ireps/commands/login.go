package commands

import (
	"context"
	"fmt"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/otp"
	"ireps-scraper/lib/serviceutil"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Only authenticates against the portal and stores the session.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		err := a.cfg.ValidateLogin()
		if err != nil {
			serviceutil.Fatal("incomplete login configuration", err)
		}

		err = a.withWebhook(cmd.Context(), func(ctx context.Context, mailbox *otp.Mailbox) error {
			driver, err := a.driver()
			if err != nil {
				return err
			}
			orchestrator := a.orchestrator(driver, mailbox)
			result, err := orchestrator.Ensure(ctx)

			var states []string
			for _, state := range orchestrator.Trace() {
				states = append(states, state.String())
			}
			fmt.Println("states:", strings.Join(states, " -> "))
			if err != nil {
				return err
			}

			expires := result.Session.CreatedAt.Add(a.cfg.Login.SessionMaxAge.Std())
			fmt.Println("reused stored session:", result.Reused)
			fmt.Println("used cached otp:", result.UsedCachedOtp)
			fmt.Println("session valid until:", chrono.FormatTimestamp(expires))
			return nil
		})
		if err != nil {
			serviceutil.Fatal("login failed", err)
		}
	},
}
