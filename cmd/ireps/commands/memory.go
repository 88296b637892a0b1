package commands

import (
	"fmt"
	"ireps-scraper/internal/memory"
	"ireps-scraper/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	cleanupDryRun bool
	listStatus    string
)

func init() {
	memoryListCmd.Flags().StringVar(&listStatus, "status", "", "Only list tenders with this status.")
	memoryCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would be cleaned without saving.")
	memoryCmd.AddCommand(memoryListCmd, memoryVerifyCmd, memoryCleanupCmd)
	rootCmd.AddCommand(memoryCmd)
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspects and repairs the stored tender memory.",
}

var memoryListCmd = &cobra.Command{
	Use:   "list [--status <status>]",
	Short: "Lists every stored tender.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		loaded, err := a.memory().Load()
		if err != nil {
			serviceutil.Fatal("failed to load tender memory", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Tender", "Status", "Title", "Due", "Documents", "Last seen"})
		shown := 0
		for _, key := range loaded.Snapshot.Keys() {
			record := loaded.Snapshot[key]
			if listStatus != "" && record.Status != listStatus {
				continue
			}
			t.AppendRow(table.Row{
				record.TenderNo,
				record.Status,
				truncate(record.TenderTitle, 60),
				record.DueDateTime,
				record.AttachedDocuments.Len(),
				record.LastSeen.Format("2006-01-02 15:04"),
			})
			shown++
		}
		t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d tenders (%s)", shown, loaded.Source)})
		t.Render()
	},
}

var memoryVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checks that the primary and backup memory files parse.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		t := newTable()
		t.AppendHeader(table.Row{"File", "Exists", "Records", "Error"})
		statuses := a.memory().Verify()
		for _, status := range statuses {
			errText := ""
			if status.Err != nil {
				errText = status.Err.Error()
			}
			t.AppendRow(table.Row{status.Path, status.Exists, status.Records, errText})
		}
		t.Render()
		err := memory.CheckReadable(statuses)
		if err != nil {
			serviceutil.Fatal("no readable memory file", err)
		}
	},
}

var memoryCleanupCmd = &cobra.Command{
	Use:   "cleanup [--dry-run]",
	Short: "Clears junk field values and foreign document links from the memory.",
	Run: func(cmd *cobra.Command, args []string) {
		a := loadApp()
		store := a.memory()
		loaded, err := store.Load()
		if err != nil {
			serviceutil.Fatal("failed to load tender memory", err)
		}

		cleaned, report := memory.Cleanup(loaded.Snapshot)
		fmt.Printf(
			"cleared %d fields and removed %d documents across %d tenders\n",
			report.ClearedFields, report.RemovedDocuments, len(report.Touched),
		)
		if cleanupDryRun || len(report.Touched) == 0 {
			return
		}
		err = store.SaveAtomic(cleaned)
		if err != nil {
			serviceutil.Fatal("failed to save cleaned memory", err)
		}
	},
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
