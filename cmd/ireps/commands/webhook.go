package commands

import (
	"fmt"
	"ireps-scraper/lib/serviceutil"

	"github.com/mazen160/go-random"
	"github.com/spf13/cobra"
)

var secretLength int

func init() {
	webhookSecretCmd.Flags().IntVar(&secretLength, "length", 32, "Length of the secret.")
	webhookCmd.AddCommand(webhookSecretCmd)
	rootCmd.AddCommand(webhookCmd)
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Helpers for the sms forwarding webhook.",
}

var webhookSecretCmd = &cobra.Command{
	Use:   "secret [--length <n>]",
	Short: "Generates a value for WEBHOOK_SECRET.",
	Run: func(cmd *cobra.Command, args []string) {
		secret, err := random.String(secretLength)
		if err != nil {
			serviceutil.Fatal("failed to generate secret", err)
		}
		fmt.Println(secret)
	},
}
