package budget

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid budget config")

// Config holds the budgeting knobs. The zero value is not usable; start
// from DefaultConfig and override fields.
type Config struct {
	// SafetyMargin is the fraction of the available tokens held back to
	// absorb token-estimate error.
	SafetyMargin float64 `toml:"safety_margin" json:"safety_margin"`

	// MetadataFraction is the share of usable tokens reserved for
	// headers, instructions and other structural text.
	MetadataFraction float64 `toml:"metadata_fraction" json:"metadata_fraction"`

	// DetailedWeight and SummaryWeight split the email budget between the
	// two tiers. They must not sum to more than 1.
	DetailedWeight float64 `toml:"detailed_weight" json:"detailed_weight"`
	SummaryWeight  float64 `toml:"summary_weight" json:"summary_weight"`

	// Per-email token estimates used to turn a sub-budget into a count.
	DetailedTokensPerEmail int `toml:"detailed_tokens_per_email" json:"detailed_tokens_per_email"`
	SummaryTokensPerEmail  int `toml:"summary_tokens_per_email" json:"summary_tokens_per_email"`

	// MinBodyChars is the legibility floor for a detailed excerpt and
	// MaxBodyChars the sanity ceiling.
	MinBodyChars int `toml:"min_body_chars" json:"min_body_chars"`
	MaxBodyChars int `toml:"max_body_chars" json:"max_body_chars"`

	// MinAvailableTokens replaces a non-positive window after the output
	// reservation is subtracted.
	MinAvailableTokens int `toml:"min_available_tokens" json:"min_available_tokens"`

	// Static plan used when the computed plan cannot be trusted.
	FallbackDetailed     int `toml:"fallback_detailed" json:"fallback_detailed"`
	FallbackSummary      int `toml:"fallback_summary" json:"fallback_summary"`
	FallbackMaxBodyChars int `toml:"fallback_max_body_chars" json:"fallback_max_body_chars"`
}

// DefaultConfig returns the stock budgeting policy.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:           0.05,
		MetadataFraction:       0.10,
		DetailedWeight:         0.60,
		SummaryWeight:          0.40,
		DetailedTokensPerEmail: 800,
		SummaryTokensPerEmail:  150,
		MinBodyChars:           300,
		MaxBodyChars:           10000,
		MinAvailableTokens:     500,
		FallbackDetailed:       50,
		FallbackSummary:        200,
		FallbackMaxBodyChars:   1000,
	}
}

// Validate checks that every knob is in range.
func (c Config) Validate() error {
	switch {
	case c.SafetyMargin < 0 || c.SafetyMargin >= 1:
		return fmt.Errorf("%w: safety_margin %v not in [0,1)", ErrInvalidConfig, c.SafetyMargin)
	case c.MetadataFraction < 0 || c.MetadataFraction >= 1:
		return fmt.Errorf("%w: metadata_fraction %v not in [0,1)", ErrInvalidConfig, c.MetadataFraction)
	case c.DetailedWeight < 0 || c.SummaryWeight < 0:
		return fmt.Errorf("%w: tier weights must be non-negative", ErrInvalidConfig)
	case c.DetailedWeight+c.SummaryWeight <= 0 || c.DetailedWeight+c.SummaryWeight > 1+1e-9:
		return fmt.Errorf("%w: tier weights sum to %v, want (0,1]", ErrInvalidConfig, c.DetailedWeight+c.SummaryWeight)
	case c.DetailedTokensPerEmail <= 0 || c.SummaryTokensPerEmail <= 0:
		return fmt.Errorf("%w: per-email token estimates must be positive", ErrInvalidConfig)
	case c.MinBodyChars <= 0:
		return fmt.Errorf("%w: min_body_chars must be positive", ErrInvalidConfig)
	case c.MaxBodyChars < c.MinBodyChars:
		return fmt.Errorf("%w: max_body_chars %d below min_body_chars %d", ErrInvalidConfig, c.MaxBodyChars, c.MinBodyChars)
	case c.MinAvailableTokens <= 0:
		return fmt.Errorf("%w: min_available_tokens must be positive", ErrInvalidConfig)
	case c.FallbackDetailed < 0 || c.FallbackSummary < 0 || c.FallbackMaxBodyChars <= 0:
		return fmt.Errorf("%w: fallback plan values out of range", ErrInvalidConfig)
	}
	return nil
}
