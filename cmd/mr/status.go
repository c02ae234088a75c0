package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailreport/internal/display"
	"github.com/daviddao/mailreport/internal/types"
)

type statusOutput struct {
	Accounts       []types.AccountCoverage `json:"accounts"`
	TotalEmails    int                     `json:"total_emails"`
	EmbeddingModel string                  `json:"embedding_model"`
	PendingSummary int                     `json:"pending_summaries"`
	PendingEmbed   int                     `json:"pending_embeddings"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show per-account ingestion, summary and embedding coverage",
	Long: `Show a quick snapshot of the local corpus.

Examples:
  mr status          # Coverage per account
  mr status --json   # Machine-readable output
  mr st              # Short alias`,
	RunE: func(cmd *cobra.Command, args []string) error {
		coverage, err := store.Coverage()
		if err != nil {
			return err
		}
		pendingSummaries, err := store.CountPendingSummaries("")
		if err != nil {
			return err
		}
		pendingEmbeddings, err := store.CountPendingEmbeddings("", cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		total, err := store.EmailCount()
		if err != nil {
			return err
		}

		out := statusOutput{
			Accounts:       coverage,
			TotalEmails:    total,
			EmbeddingModel: cfg.EmbeddingModel,
			PendingSummary: pendingSummaries,
			PendingEmbed:   pendingEmbeddings,
		}
		if jsonOutput {
			return writeJSON(cmd, out)
		}

		display.Header("Mailreport Status")
		fmt.Println()

		if len(coverage) == 0 {
			fmt.Printf("  %s\n", display.Dim.Render("No mail yet. Run 'mr ingest' to fetch some."))
			return nil
		}

		fmt.Printf("  %-20s %7s %11s %9s  %s\n", "Account", "Emails", "Summarized", "Embedded", "Last sync")
		for _, c := range coverage {
			fmt.Printf("  %-20s %7d %11s %9s  %s\n",
				display.AccountLabel(c.Account), c.Emails,
				ratio(c.Summarized, c.Emails), ratio(c.Embedded, c.Emails),
				display.Dim.Render(display.TimeAgo(c.LastSync)))
		}
		fmt.Println()
		fmt.Printf("  %s\n", display.Dim.Render(fmt.Sprintf("%d emails, %d awaiting summary, %d awaiting %s embeddings",
			out.TotalEmails, pendingSummaries, pendingEmbeddings, cfg.EmbeddingModel)))
		if pendingSummaries > 0 || pendingEmbeddings > 0 {
			fmt.Printf("  %s\n", display.Dim.Render("Use 'mr summarize' and 'mr embed' to catch up, 'mr report' to write a report."))
		}
		return nil
	},
}

func ratio(n, total int) string {
	if total == 0 {
		return "-"
	}
	pct := fmt.Sprintf("%d%%", n*100/total)
	if n == total {
		return display.Success.Render(pct)
	}
	return display.Warn.Render(pct)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
