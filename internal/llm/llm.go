// Package llm is the boundary to the language model: summarizing single
// emails, writing reports from tiered material, and embedding text.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/daviddao/mailreport/internal/budget"
	"github.com/daviddao/mailreport/internal/tier"
)

// ErrUnauthorized marks a call rejected for bad or missing credentials.
var ErrUnauthorized = errors.New("unauthorized")

// SummaryResult is the digest of one email.
type SummaryResult struct {
	Summary string   `json:"summary"`
	Labels  []string `json:"labels"`
}

// Material is everything a report is written from.
type Material struct {
	Account   string             `json:"account,omitempty"`
	Since     time.Time          `json:"since"`
	Until     time.Time          `json:"until"`
	Plan      budget.Plan        `json:"plan"`
	Detailed  []tier.Detailed    `json:"detailed"`
	Summaries []tier.SummaryOnly `json:"summaries"`
}

// Report is a generated communication report in markdown.
type Report struct {
	Text       string   `json:"report"`
	Highlights []string `json:"highlights"`
}

// Summarizer digests a single email.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (SummaryResult, error)
}

// ReportGenerator writes a report from prepared material.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, m Material) (Report, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
