// Package budget decides how much of an email corpus fits in a language
// model's context window, and at what fidelity.
package budget

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/daviddao/mailreport/internal/capacity"
)

var (
	// ErrInvalidInput marks a negative email count or reservation.
	ErrInvalidInput = errors.New("invalid budget input")

	errArithmetic = errors.New("budget arithmetic out of range")
)

// Plan is the result of one budget computation. It is never stored.
type Plan struct {
	ModelName               string  `json:"model_name"`
	ContextWindowTokens     int     `json:"context_window_tokens"`
	OutputReservationTokens int     `json:"output_reservation_tokens"`
	AvailableTokens         int     `json:"available_tokens"`
	UsableTokens            int     `json:"usable_tokens"`
	EmailBudgetTokens       int     `json:"email_budget_tokens"`
	DetailedBudgetTokens    int     `json:"detailed_budget_tokens"`
	SummaryBudgetTokens     int     `json:"summary_budget_tokens"`
	TotalEmails             int     `json:"total_emails"`
	DetailedEmailCount      int     `json:"detailed_email_count"`
	SummaryEmailCount       int     `json:"summary_email_count"`
	MaxBodyChars            int     `json:"max_body_chars"`
	TotalEmailsCovered      int     `json:"total_emails_covered"`
	CoveragePercent         float64 `json:"coverage_percent"`
	Static                  bool    `json:"static,omitempty"`
}

// Dropped is the number of emails that appear in neither tier.
func (p Plan) Dropped() int {
	return p.TotalEmails - p.TotalEmailsCovered
}

// Compute sizes a two-tier plan for totalEmails emails against the
// context window of modelName, keeping outputReservation tokens free for
// the model's answer.
func Compute(cfg Config, totalEmails, outputReservation int, modelName string) (Plan, error) {
	if totalEmails < 0 {
		return Plan{}, fmt.Errorf("%w: total emails %d", ErrInvalidInput, totalEmails)
	}
	if outputReservation < 0 {
		return Plan{}, fmt.Errorf("%w: output reservation %d", ErrInvalidInput, outputReservation)
	}
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}

	model := capacity.Lookup(modelName)
	p := Plan{
		ModelName:               model.Name,
		ContextWindowTokens:     model.ContextWindowTokens,
		OutputReservationTokens: outputReservation,
		TotalEmails:             totalEmails,
	}

	p.AvailableTokens = model.ContextWindowTokens - outputReservation
	if p.AvailableTokens <= 0 {
		p.AvailableTokens = cfg.MinAvailableTokens
	}
	p.UsableTokens = floor(float64(p.AvailableTokens) * (1 - cfg.SafetyMargin))
	p.EmailBudgetTokens = p.UsableTokens - floor(float64(p.UsableTokens)*cfg.MetadataFraction)
	p.DetailedBudgetTokens = floor(float64(p.EmailBudgetTokens) * cfg.DetailedWeight)
	p.SummaryBudgetTokens = floor(float64(p.EmailBudgetTokens) * cfg.SummaryWeight)

	p.DetailedEmailCount = min(p.DetailedBudgetTokens/cfg.DetailedTokensPerEmail, totalEmails)
	p.SummaryEmailCount = min(p.SummaryBudgetTokens/cfg.SummaryTokensPerEmail, totalEmails-p.DetailedEmailCount)
	p.TotalEmailsCovered = p.DetailedEmailCount + p.SummaryEmailCount
	p.CoveragePercent = coverage(p.TotalEmailsCovered, totalEmails)

	// Every email in the corpus competes for the detailed budget, so a
	// larger corpus means shorter excerpts even once the count is capped.
	perEmail := float64(p.DetailedBudgetTokens) * model.CharsPerToken / float64(max(totalEmails, 1))
	if math.IsNaN(perEmail) || math.IsInf(perEmail, 0) {
		return Plan{}, fmt.Errorf("%w: body chars %v", errArithmetic, perEmail)
	}
	p.MaxBodyChars = clamp(floor(perEmail), cfg.MinBodyChars, cfg.MaxBodyChars)

	if err := p.check(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Static returns the flat fallback plan: fixed tier counts and body cap.
func Static(cfg Config, totalEmails, outputReservation int, modelName string) Plan {
	totalEmails = max(totalEmails, 0)
	model := capacity.Lookup(modelName)
	p := Plan{
		ModelName:               model.Name,
		ContextWindowTokens:     model.ContextWindowTokens,
		OutputReservationTokens: outputReservation,
		TotalEmails:             totalEmails,
		Static:                  true,
	}
	p.DetailedEmailCount = min(max(cfg.FallbackDetailed, 0), totalEmails)
	p.SummaryEmailCount = min(max(cfg.FallbackSummary, 0), totalEmails-p.DetailedEmailCount)
	p.TotalEmailsCovered = p.DetailedEmailCount + p.SummaryEmailCount
	p.CoveragePercent = coverage(p.TotalEmailsCovered, totalEmails)
	p.MaxBodyChars = max(cfg.FallbackMaxBodyChars, cfg.MinBodyChars, 1)
	return p
}

// ComputeOrStatic is Compute for callers that must always get a plan.
// Any failure, including a panic inside the arithmetic, degrades to the
// static plan and is logged.
func ComputeOrStatic(log *slog.Logger, cfg Config, totalEmails, outputReservation int, modelName string) (plan Plan) {
	if log == nil {
		log = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("budget computation panicked, using static plan", "panic", r, "model", modelName)
			plan = Static(cfg, totalEmails, outputReservation, modelName)
		}
	}()

	p, err := Compute(cfg, totalEmails, outputReservation, modelName)
	if err != nil {
		log.Warn("budget computation failed, using static plan", "error", err, "model", modelName, "emails", totalEmails)
		return Static(cfg, totalEmails, outputReservation, modelName)
	}
	return p
}

// check verifies the plan invariants.
func (p Plan) check() error {
	switch {
	case p.DetailedEmailCount < 0 || p.SummaryEmailCount < 0:
		return fmt.Errorf("%w: negative tier count", errArithmetic)
	case p.TotalEmailsCovered > p.TotalEmails:
		return fmt.Errorf("%w: %d covered of %d", errArithmetic, p.TotalEmailsCovered, p.TotalEmails)
	case p.CoveragePercent > 100 || math.IsNaN(p.CoveragePercent):
		return fmt.Errorf("%w: coverage %v", errArithmetic, p.CoveragePercent)
	}
	return nil
}

func coverage(covered, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(covered) * 100 / float64(total)
}

// floor tolerates float error so 124000*0.95 lands on 117800.
func floor(x float64) int {
	return int(math.Floor(x + 1e-9))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
