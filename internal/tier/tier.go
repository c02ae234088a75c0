// Package tier splits an email corpus into a detailed tier and a
// summary-only tier according to a budget plan.
package tier

import (
	"cmp"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/daviddao/mailreport/internal/budget"
	"github.com/daviddao/mailreport/internal/types"
)

// TruncationMarker is appended to bodies cut at the plan's limit.
const TruncationMarker = "\n[...truncated]"

// Header carries the email fields present in both tiers.
type Header struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	To      string    `json:"to,omitempty"`
	Date    time.Time `json:"date"`
	Summary string    `json:"summary,omitempty"`
	Labels  []string  `json:"labels,omitempty"`
}

// Detailed is an email included with a (possibly truncated) body.
type Detailed struct {
	Header
	Body      string `json:"body"`
	Truncated bool   `json:"truncated,omitempty"`
}

// SummaryOnly is an email included by metadata and summary alone.
type SummaryOnly struct {
	Header
}

// Select orders the corpus newest first, ties broken by ascending id, and
// fills the detailed tier then the summary tier up to the plan's counts.
// The remainder is dropped. The corpus slice is not modified.
func Select(corpus []types.EmailRef, plan budget.Plan) ([]Detailed, []SummaryOnly) {
	ordered := make([]*types.EmailRef, len(corpus))
	for i := range corpus {
		ordered[i] = &corpus[i]
	}
	slices.SortStableFunc(ordered, func(a, b *types.EmailRef) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	nDetailed := clampCount(plan.DetailedEmailCount, len(ordered))
	nSummary := clampCount(plan.SummaryEmailCount, len(ordered)-nDetailed)

	detailed := make([]Detailed, 0, nDetailed)
	for _, e := range ordered[:nDetailed] {
		body, cut := Truncate(e.Body, plan.MaxBodyChars)
		detailed = append(detailed, Detailed{Header: header(e), Body: body, Truncated: cut})
	}

	summaries := make([]SummaryOnly, 0, nSummary)
	for _, e := range ordered[nDetailed : nDetailed+nSummary] {
		summaries = append(summaries, SummaryOnly{Header: header(e)})
	}
	return detailed, summaries
}

// Truncate cuts s to at most maxChars runes, marker included. It reports
// whether anything was cut. A non-positive maxChars leaves s untouched.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	markerLen := utf8.RuneCountInString(TruncationMarker)
	if maxChars <= markerLen {
		return prefix(s, maxChars), true
	}
	return prefix(s, maxChars-markerLen) + TruncationMarker, true
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func header(e *types.EmailRef) Header {
	return Header{
		ID:      e.ID,
		Subject: e.Subject,
		From:    e.From,
		To:      e.To,
		Date:    e.Date,
		Summary: e.Summary,
		Labels:  e.Labels,
	}
}

func clampCount(n, limit int) int {
	return max(0, min(n, limit))
}
