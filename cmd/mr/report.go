package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailreport/internal/budget"
	"github.com/daviddao/mailreport/internal/capacity"
	"github.com/daviddao/mailreport/internal/display"
	"github.com/daviddao/mailreport/internal/llm"
	"github.com/daviddao/mailreport/internal/report"
	"github.com/daviddao/mailreport/internal/tasks"
)

var (
	reportAccount string
	reportSince   string
	reportUntil   string
	reportDays    int
	reportModel   string
	reportReserve int
	reportEmails  int
	reportHTML    string
	reportDryRun  bool
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show how much of the corpus fits the model's context window",
	Example: `  mr budget
  mr budget --days 30 --model gpt-4o-mini
  mr budget --emails 5000 --reserve 8000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		total := reportEmails
		if !cmd.Flags().Changed("emails") {
			req, err := reportRequest()
			if err != nil {
				return err
			}
			total, err = store.CountEmails(req.Account, req.Since, req.Until)
			if err != nil {
				return err
			}
		}
		if reportReserve < 0 || total < 0 {
			return fmt.Errorf("%w: emails and reserve must be non-negative", budget.ErrInvalidInput)
		}

		plan := budget.ComputeOrStatic(logger, cfg.Budget, total, reserve(), model())
		if jsonOutput {
			return writeJSON(cmd, plan)
		}
		display.PrintPlan(cmd.OutOrStdout(), plan)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a report on the stored mail",
	Long: `Write a report covering the stored mail in a date range.

The corpus is sized against the model's context window: the newest emails
go in with their bodies, older ones by summary only, and the rest are
dropped. Run 'mr summarize' first so the summary tier has something to say.`,
	Example: `  mr report --days 7
  mr report --account user@example.com --since 2025-03-01 --until 2025-03-08
  mr report --html report.html
  mr report --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := reportRequest()
		if err != nil {
			return err
		}
		m, err := report.Prepare(logger, store, cfg.Budget, req)
		if err != nil {
			return fmt.Errorf("prepare report: %w", err)
		}

		if reportDryRun {
			return printMaterial(cmd, m)
		}
		if !quietFlag && !jsonOutput {
			display.PrintPlan(cmd.ErrOrStderr(), m.Plan)
			fmt.Fprintln(cmd.ErrOrStderr())
		}

		client := openAI()
		if client == nil {
			return fmt.Errorf("no API key: set %s", cfg.APIKeyEnv)
		}
		rep, err := report.Generate(cmd.Context(), client, m, cfg.External.LLMTimeout())
		if err != nil {
			return err
		}

		if reportHTML != "" {
			html, err := report.RenderHTML(rep)
			if err != nil {
				return err
			}
			if err := os.WriteFile(reportHTML, []byte(html), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if !quietFlag {
				display.SuccessMsg("Report written to %s", reportHTML)
			}
		}

		if jsonOutput {
			return writeJSON(cmd, struct {
				Plan   budget.Plan `json:"plan"`
				Report llm.Report  `json:"report"`
			}{m.Plan, rep})
		}
		if reportHTML == "" {
			fmt.Fprintln(cmd.OutOrStdout(), rep.Text)
			for _, h := range rep.Highlights {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", display.Accent.Render("•"), h)
			}
		}
		return nil
	},
}

// printMaterial shows what would be sent without calling the model.
func printMaterial(cmd *cobra.Command, m llm.Material) error {
	if jsonOutput {
		return writeJSON(cmd, m)
	}
	if quietFlag {
		fmt.Fprint(cmd.OutOrStdout(), llm.FormatMaterial(m))
		return nil
	}

	display.PrintPlan(cmd.OutOrStdout(), m.Plan)
	fmt.Println()
	display.SubHeader(fmt.Sprintf("Detailed (%d)", len(m.Detailed)))
	for i, d := range m.Detailed {
		connector := "├─"
		if i == 0 {
			connector = "┌─"
		}
		if i == len(m.Detailed)-1 {
			connector = "└─"
		}
		display.EmailTree(connector, d.From, d.Date, d.Subject+"\n"+d.Body)
	}
	fmt.Println()
	display.SubHeader(fmt.Sprintf("Summary only (%d)", len(m.Summaries)))
	for _, s := range m.Summaries {
		fmt.Printf("  %s  %s  %s\n", display.Dim.Render(s.Date.Format("2006-01-02")),
			display.Truncate(s.Subject, 50), display.Muted.Render(display.Truncate(s.Summary, 60)))
	}
	return nil
}

// reportRequest resolves the date range flags. --since wins over --days;
// the range ends now unless --until is given.
func reportRequest() (report.Request, error) {
	p := tasks.Params{"since": reportSince, "until": reportUntil}
	since, err := p.Time("since")
	if err != nil {
		return report.Request{}, err
	}
	until, err := p.Time("until")
	if err != nil {
		return report.Request{}, err
	}
	if until.IsZero() {
		until = time.Now().UTC()
	}
	if since.IsZero() && reportDays > 0 {
		since = until.AddDate(0, 0, -reportDays)
	}
	if !since.IsZero() && since.After(until) {
		return report.Request{}, fmt.Errorf("--since %s is after --until %s", since.Format(time.DateOnly), until.Format(time.DateOnly))
	}

	return report.Request{
		Account:                 reportAccount,
		Since:                   since,
		Until:                   until,
		Model:                   model(),
		OutputReservationTokens: reserve(),
	}, nil
}

func model() string {
	name := cfg.Model
	if reportModel != "" {
		name = reportModel
	}
	if !capacity.Known(name) {
		logger.Warn("unknown model, assuming the default context window", "model", name,
			"context_window", capacity.Default.ContextWindowTokens)
	}
	return name
}

func reserve() int {
	if reportReserve > 0 {
		return reportReserve
	}
	return cfg.OutputReservationTokens
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{budgetCmd, reportCmd} {
		c.Flags().StringVar(&reportAccount, "account", "", "Limit to one account (default: all accounts)")
		c.Flags().StringVar(&reportSince, "since", "", "Start of the range (YYYY-MM-DD or RFC 3339)")
		c.Flags().StringVar(&reportUntil, "until", "", "End of the range (default: now)")
		c.Flags().IntVar(&reportDays, "days", 7, "Range length in days when --since is not given (0: all mail)")
		c.Flags().StringVar(&reportModel, "model", "", "Model to size for (default from config)")
		c.Flags().IntVar(&reportReserve, "reserve", 0, "Tokens reserved for the model's answer (default from config)")
		rootCmd.AddCommand(c)
	}
	budgetCmd.Flags().IntVar(&reportEmails, "emails", 0, "Plan for this many emails instead of counting the database")
	reportCmd.Flags().StringVar(&reportHTML, "html", "", "Write the report as HTML to this file")
	reportCmd.Flags().BoolVar(&reportDryRun, "dry-run", false, "Show the selected material without calling the model")
}
