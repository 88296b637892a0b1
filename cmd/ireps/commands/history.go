package commands

import (
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/lib/serviceutil"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "How many runs to show.")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Lists the latest scraper runs.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		ledger, database, err := a.openHistory(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to open run history", err)
		}
		defer database.Close()

		runs, err := ledger.List(cmd.Context(), historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to list runs", err)
		}
		t := newTable()
		t.AppendHeader(table.Row{"Run", "Started", "Status", "Scraped", "New", "Updated", "Status changed", "Error"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				run.Id,
				chrono.FormatTimestamp(run.StartedAt),
				run.Status,
				run.Summary.TotalScraped,
				run.Summary.New,
				run.Summary.Updated,
				run.Summary.StatusChanged,
				run.ErrorKind,
			})
		}
		t.Render()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Lists the tenders a run found new or changed.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		ledger, database, err := a.openHistory(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to open run history", err)
		}
		defer database.Close()

		changes, err := ledger.Changes(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to read run changes", err)
		}
		t := newTable()
		t.AppendHeader(table.Row{"Tender", "Classification", "Changed fields"})
		for _, change := range changes {
			t.AppendRow(table.Row{change.TenderNo, change.Classification, strings.Join(change.ChangedFields, ", ")})
		}
		t.Render()
	},
}
