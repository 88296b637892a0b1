package commands

import (
	"context"
	"fmt"
	libtelemetry "ireps-scraper/lib/telemetry"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envPath    string
	verbose    bool
)

var otelProviders libtelemetry.Telemetry

var rootCmd = &cobra.Command{
	Use:   "ireps",
	Short: "ireps keeps an up to date record of the active tenders on the IREPS portal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		libtelemetry.InitSlog(verbose)
		providers, err := libtelemetry.SetupFromEnv(cmd.Context(), "ireps-scraper")
		if err != nil {
			slog.Warn("failed to setup telemetry, continuing without export", "err", err)
			return
		}
		otelProviders = providers
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		err := otelProviders.Shutdown(context.Background())
		if err != nil {
			slog.Warn("failed to shutdown telemetry", "err", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ireps.json5", "The config file, ireps.local.json5 next to it overrides it.")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "The dotenv file holding secrets.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output and dump every portal http exchange.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
