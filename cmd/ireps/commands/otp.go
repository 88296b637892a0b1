package commands

import (
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/lib/serviceutil"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	otpCmd.AddCommand(otpStatusCmd, otpClearCmd)
	rootCmd.AddCommand(otpCmd)
}

var otpCmd = &cobra.Command{
	Use:   "otp",
	Short: "Inspects the cached otp and the generation quota.",
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return chrono.FormatTimestamp(t)
}

var otpStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the cached otp, its expiry and the generations in the quota window.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		status := a.otpCache().Status()

		t := newTable()
		t.AppendRows([]table.Row{
			{"Cached otp", status.Entry.Code},
			{"Generated at", formatOptional(status.Entry.GeneratedAt)},
			{"Usable", status.Usable},
			{"Expires at", formatOptional(status.ExpiresAt)},
			{"Generations in window", len(status.Generations)},
			{"Quota limit", status.QuotaLimit},
			{"Next generation at", formatOptional(status.NextGenerationAt)},
		})
		t.Render()
	},
}

var otpClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forgets the cached otp, the generation quota is kept.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		err := a.otpCache().Invalidate()
		if err != nil {
			serviceutil.Fatal("failed to clear otp cache", err)
		}
	},
}
