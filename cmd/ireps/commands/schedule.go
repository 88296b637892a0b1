package commands

import (
	"context"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/otp"
	"ireps-scraper/lib/serviceutil"
	libtelemetry "ireps-scraper/lib/telemetry"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var runAtStart bool

func init() {
	scheduleCmd.Flags().BoolVar(&runAtStart, "now", false, "Also run once right away.")
	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [--now]",
	Short: "Runs the scraper every day at the configured hours until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		err := a.cfg.ValidateLogin()
		if err != nil {
			serviceutil.Fatal("incomplete login configuration", err)
		}
		spec, err := chrono.DailyAt(a.cfg.Schedule.Hours)
		if err != nil {
			serviceutil.Fatal("invalid schedule", err)
		}

		libtelemetry.InstrumentPerfStats(cmd.Context(), time.Minute)

		err = a.withWebhook(cmd.Context(), func(ctx context.Context, mailbox *otp.Mailbox) error {
			job := func() {
				outcome, err := a.runOnce(ctx, mailbox)
				if err != nil {
					slog.Error("scheduled run failed", "run", outcome.Run.Id, "err", err)
					return
				}
				slog.Info("scheduled run finished", "run", outcome.Run.Id, "message", outcome.Run.Message)
			}

			cron := chrono.NewStandardCron(a.clock, a.tel)
			runNow, err := cron.Schedule(spec, job)
			if err != nil {
				return err
			}
			slog.Info("scheduler started", "spec", spec, "timezone", a.cfg.Schedule.Timezone)
			if runAtStart {
				runNow()
			}

			<-ctx.Done()
			slog.Info("stopping scheduler, waiting for a running scrape...")
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			cron.Stop(stopCtx)
			return nil
		})
		if err != nil {
			serviceutil.Fatal("scheduler failed", err)
		}
	},
}
