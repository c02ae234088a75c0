// Package capacity maps language model names to their context window size.
package capacity

import "strings"

// DefaultCharsPerToken is the rough chars/token ratio for English prose.
const DefaultCharsPerToken = 4.0

// Model describes how much text a language model can consume.
type Model struct {
	Name                string  `json:"name"`
	ContextWindowTokens int     `json:"context_window_tokens"`
	CharsPerToken       float64 `json:"chars_per_token"`
}

// Default is returned for model names that are not in the table.
// It is deliberately small so that an unknown model never gets overfilled.
var Default = Model{Name: "default", ContextWindowTokens: 16000, CharsPerToken: DefaultCharsPerToken}

// known is keyed by lowercase model name. Prefix matching in Lookup lets
// dated snapshots ("gpt-4o-2024-08-06") resolve to their family.
var known = map[string]Model{
	"gpt-4o":            {Name: "gpt-4o", ContextWindowTokens: 128000, CharsPerToken: DefaultCharsPerToken},
	"gpt-4o-mini":       {Name: "gpt-4o-mini", ContextWindowTokens: 128000, CharsPerToken: DefaultCharsPerToken},
	"gpt-4-turbo":       {Name: "gpt-4-turbo", ContextWindowTokens: 128000, CharsPerToken: DefaultCharsPerToken},
	"gpt-4.1":           {Name: "gpt-4.1", ContextWindowTokens: 1047576, CharsPerToken: DefaultCharsPerToken},
	"gpt-4.1-mini":      {Name: "gpt-4.1-mini", ContextWindowTokens: 1047576, CharsPerToken: DefaultCharsPerToken},
	"gpt-4":             {Name: "gpt-4", ContextWindowTokens: 8192, CharsPerToken: DefaultCharsPerToken},
	"gpt-3.5-turbo":     {Name: "gpt-3.5-turbo", ContextWindowTokens: 16385, CharsPerToken: DefaultCharsPerToken},
	"o3-mini":           {Name: "o3-mini", ContextWindowTokens: 200000, CharsPerToken: DefaultCharsPerToken},
	"claude-3-5-sonnet": {Name: "claude-3-5-sonnet", ContextWindowTokens: 200000, CharsPerToken: 3.5},
	"claude-3-5-haiku":  {Name: "claude-3-5-haiku", ContextWindowTokens: 200000, CharsPerToken: 3.5},
	"claude-sonnet-4":   {Name: "claude-sonnet-4", ContextWindowTokens: 200000, CharsPerToken: 3.5},
	"gemini-1.5-pro":    {Name: "gemini-1.5-pro", ContextWindowTokens: 2000000, CharsPerToken: DefaultCharsPerToken},
	"gemini-1.5-flash":  {Name: "gemini-1.5-flash", ContextWindowTokens: 1000000, CharsPerToken: DefaultCharsPerToken},
}

// Lookup returns the capacity for a model name. It never fails: unknown
// names resolve to Default so callers can always compute some budget.
func Lookup(name string) Model {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Default
	}
	if m, ok := known[key]; ok {
		return m
	}

	// Longest known prefix wins, so "gpt-4o-mini-2024" is not read as "gpt-4".
	var best Model
	bestLen := 0
	for k, m := range known {
		if strings.HasPrefix(key, k) && len(k) > bestLen {
			best, bestLen = m, len(k)
		}
	}
	if bestLen > 0 {
		return best
	}
	return Default
}

// Known reports whether name resolves to a table entry rather than Default.
func Known(name string) bool {
	return Lookup(name) != Default
}
