package llm

import (
	"fmt"
	"strings"
	"time"
)

// FormatMaterial renders report material as plain text for the model:
// detailed emails with bodies first, then one line per summary-only email.
func FormatMaterial(m Material) string {
	var b strings.Builder

	if m.Account != "" {
		fmt.Fprintf(&b, "Account: %s\n", m.Account)
	}
	if !m.Since.IsZero() || !m.Until.IsZero() {
		fmt.Fprintf(&b, "Period: %s to %s\n", day(m.Since), day(m.Until))
	}
	fmt.Fprintf(&b, "Emails: %d total, %d detailed, %d summarized, %d omitted\n",
		m.Plan.TotalEmails, len(m.Detailed), len(m.Summaries), m.Plan.Dropped())

	if len(m.Detailed) > 0 {
		b.WriteString("\n## Detailed emails\n")
	}
	for _, e := range m.Detailed {
		fmt.Fprintf(&b, "\n### %s\nFrom: %s\nDate: %s\n", e.Subject, e.From, e.Date.Format(time.RFC1123Z))
		if e.To != "" {
			fmt.Fprintf(&b, "To: %s\n", e.To)
		}
		if len(e.Labels) > 0 {
			fmt.Fprintf(&b, "Labels: %s\n", strings.Join(e.Labels, ", "))
		}
		b.WriteString("\n")
		b.WriteString(e.Body)
		b.WriteString("\n")
	}

	if len(m.Summaries) > 0 {
		b.WriteString("\n## Summary-only emails\n")
	}
	for _, e := range m.Summaries {
		fmt.Fprintf(&b, "- %s | %s | %s", day(e.Date), e.From, e.Subject)
		if e.Summary != "" {
			fmt.Fprintf(&b, " | %s", e.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
