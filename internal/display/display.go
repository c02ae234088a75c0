// Package display provides terminal formatting for mailreport output.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/daviddao/mailreport/internal/tasks"
)

var (
	// Styles
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	Accent   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2563eb"))
)

// StatusDot returns a colored dot for a task status.
func StatusDot(s tasks.Status) string {
	switch s {
	case tasks.StatusCompleted:
		return Success.Render("●")
	case tasks.StatusFailed:
		return ErrStyle.Render("●")
	case tasks.StatusProcessing:
		return Accent.Render("◐")
	case tasks.StatusQueued:
		return Dim.Render("○")
	default:
		return Dim.Render("·")
	}
}

// StatusLabel returns a fixed-width styled status label.
func StatusLabel(s tasks.Status) string {
	label := fmt.Sprintf("%-10s", strings.ToUpper(string(s)))
	switch s {
	case tasks.StatusCompleted:
		return Success.Render(label)
	case tasks.StatusFailed:
		return ErrStyle.Render(label)
	case tasks.StatusProcessing:
		return Accent.Render(label)
	default:
		return Dim.Render(label)
	}
}

// ProgressBar renders percent (clamped to 0..100) as a bar width cells wide.
func ProgressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	if width <= 0 {
		width = 30
	}
	filled := percent * width / 100
	return Success.Render(strings.Repeat("█", filled)) +
		Muted.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3d%%", percent)
}

// TaskLine renders one task record on a single line.
func TaskLine(r tasks.Record) string {
	line := fmt.Sprintf("%s %s %s  %s  %s",
		StatusDot(r.Status), StatusLabel(r.Status), Dim.Render(r.ID), r.Type,
		ProgressBar(r.ProgressPercent, 20))
	if r.TotalUnits > 0 {
		line += Dim.Render(fmt.Sprintf("  %d/%d", r.ProcessedUnits, r.TotalUnits))
	}
	if r.ErrorMessage != "" {
		line += "  " + ErrStyle.Render(Truncate(r.ErrorMessage, 80))
	}
	return line
}

// AccountLabel returns a short label for an account.
// Derives the label from the domain (e.g., "user@example.com" -> "example").
func AccountLabel(account string) string {
	if idx := strings.Index(account, "@"); idx > 0 {
		domain := account[idx+1:]
		if dotIdx := strings.Index(domain, "."); dotIdx > 0 {
			return domain[:dotIdx]
		}
		return domain
	}
	return account
}

// TimeAgo formats t relative to now.
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

// Truncate shortens s to maxLen runes, adding an ellipsis if needed.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if maxLen <= 3 {
		return string(r[:max(maxLen, 0)])
	}
	return string(r[:maxLen-3]) + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	fmt.Println(Success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Header prints a section header.
func Header(title string) {
	fmt.Println(Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(title string) {
	fmt.Println(Muted.Render(title))
}

// EmailTree prints an email in a tree-style format.
// connector is one of "┌─", "├─", "└─"
func EmailTree(connector, from string, date time.Time, body string) {
	fmt.Printf("  %s %s  ·  %s\n", Muted.Render(connector), Bold.Render(from), Dim.Render(TimeAgo(date)))
	if body == "" {
		return
	}
	prefix := "  │  "
	if connector == "└─" {
		prefix = "     "
	}
	lines := strings.Split(strings.TrimSpace(body), "\n")
	const maxLines = 4
	for i, line := range lines {
		if i >= maxLines {
			fmt.Printf("%s%s\n", Muted.Render(prefix), Dim.Render(fmt.Sprintf("... (%d more lines)", len(lines)-maxLines)))
			break
		}
		fmt.Printf("%s%s\n", Muted.Render(prefix), Truncate(strings.TrimSpace(line), 80))
	}
}
