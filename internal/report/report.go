// Package report turns a stored corpus into a generated report: it sizes
// the corpus against the model's context window, splits it into tiers and
// asks the model to write it up.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/daviddao/mailreport/internal/budget"
	"github.com/daviddao/mailreport/internal/deadline"
	"github.com/daviddao/mailreport/internal/llm"
	"github.com/daviddao/mailreport/internal/tier"
	"github.com/daviddao/mailreport/internal/types"
)

// CorpusSource loads the emails a report covers.
type CorpusSource interface {
	Corpus(account string, since, until time.Time) ([]types.EmailRef, error)
}

// Request selects the corpus and the model it must fit.
type Request struct {
	Account                 string
	Since                   time.Time
	Until                   time.Time
	Model                   string
	OutputReservationTokens int
}

// Prepare loads the corpus, plans a budget for it and splits it into
// tiers. A plan that cannot be computed degrades to the static plan; a
// negative reservation is rejected.
func Prepare(log *slog.Logger, src CorpusSource, cfg budget.Config, req Request) (llm.Material, error) {
	if log == nil {
		log = slog.Default()
	}
	if req.OutputReservationTokens < 0 {
		return llm.Material{}, fmt.Errorf("%w: output reservation %d", budget.ErrInvalidInput, req.OutputReservationTokens)
	}

	corpus, err := src.Corpus(req.Account, req.Since, req.Until)
	if err != nil {
		return llm.Material{}, err
	}

	plan := budget.ComputeOrStatic(log, cfg, len(corpus), req.OutputReservationTokens, req.Model)
	detailed, summaries := tier.Select(corpus, plan)
	log.Info("report material prepared", "emails", len(corpus),
		"detailed", len(detailed), "summary_only", len(summaries), "max_body_chars", plan.MaxBodyChars,
		"coverage", plan.CoveragePercent)

	return llm.Material{
		Account:   req.Account,
		Since:     req.Since,
		Until:     req.Until,
		Plan:      plan,
		Detailed:  detailed,
		Summaries: summaries,
	}, nil
}

// Generate asks the model for a report, giving up after timeout.
func Generate(ctx context.Context, gen llm.ReportGenerator, m llm.Material, timeout time.Duration) (llm.Report, error) {
	return deadline.Call(ctx, timeout, "generate report", func(ctx context.Context) (llm.Report, error) {
		return gen.GenerateReport(ctx, m)
	})
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts the report markdown, followed by its highlights, to
// HTML. Raw HTML in model output is not passed through.
func RenderHTML(r llm.Report) (string, error) {
	var src strings.Builder
	src.WriteString(r.Text)
	if len(r.Highlights) > 0 {
		src.WriteString("\n\n## Highlights\n\n")
		for _, h := range r.Highlights {
			src.WriteString("- " + strings.TrimSpace(h) + "\n")
		}
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(src.String()), &buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
