package commands

import (
	"context"
	"ireps-scraper/internal/otp"
	"ireps-scraper/lib/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Logs in, scrapes the active tenders once and updates the tender memory.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		err := a.cfg.ValidateLogin()
		if err != nil {
			serviceutil.Fatal("incomplete login configuration", err)
		}

		err = a.withWebhook(cmd.Context(), func(ctx context.Context, mailbox *otp.Mailbox) error {
			outcome, err := a.runOnce(ctx, mailbox)
			printOutcome(outcome)
			return err
		})
		if err != nil {
			serviceutil.Fatal("scrape run failed", err)
		}
	},
}
