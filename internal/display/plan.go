package display

import (
	"fmt"
	"io"

	"github.com/daviddao/mailreport/internal/budget"
)

// PrintPlan writes a human-readable budget plan.
func PrintPlan(w io.Writer, p budget.Plan) {
	title := "Budget plan"
	if p.Static {
		title += " " + Warn.Render("(static fallback)")
	}
	fmt.Fprintln(w, Bold.Render(title))

	row := func(label string, value any) {
		fmt.Fprintf(w, "  %-22s %v\n", Muted.Render(label), value)
	}
	row("model", p.ModelName)
	if !p.Static {
		row("context window", fmt.Sprintf("%d tokens", p.ContextWindowTokens))
		row("output reserved", fmt.Sprintf("%d tokens", p.OutputReservationTokens))
		row("usable", fmt.Sprintf("%d tokens", p.UsableTokens))
		row("email budget", fmt.Sprintf("%d tokens (%d detailed / %d summary)",
			p.EmailBudgetTokens, p.DetailedBudgetTokens, p.SummaryBudgetTokens))
	}
	row("emails", p.TotalEmails)
	row("detailed", p.DetailedEmailCount)
	row("summary only", p.SummaryEmailCount)
	row("dropped", p.Dropped())
	row("max body", fmt.Sprintf("%d chars", p.MaxBodyChars))
	row("coverage", fmt.Sprintf("%.1f%%", p.CoveragePercent))
}
