// Package types defines core data structures for mailreport.
package types

import (
	"time"
)

// Email is a message as fetched from the mail provider and stored locally.
type Email struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	CC        string    `json:"cc,omitempty"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"snippet,omitempty"`
	Body      string    `json:"body,omitempty"`
	Date      time.Time `json:"date"`
	Labels    []string  `json:"labels,omitempty"`
	IsRead    bool      `json:"is_read"`
	FetchedAt time.Time `json:"fetched_at"`
}

// EmailRef is the lightweight view of one email that the budgeting and
// tiering code works on. It is discarded after a tiering pass.
type EmailRef struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	To      string    `json:"to,omitempty"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body,omitempty"`
	Summary string    `json:"summary,omitempty"`
	Labels  []string  `json:"labels,omitempty"`
}

// Summary is an LLM-produced digest of one email.
type Summary struct {
	EmailID   string    `json:"email_id"`
	Text      string    `json:"summary"`
	Labels    []string  `json:"labels,omitempty"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Embedding is a vector representation of one email.
type Embedding struct {
	EmailID   string    `json:"email_id"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// Content is the text sent to the model for one email: a short header
// block and the body, cut to maxChars runes when maxChars is positive.
func (e *Email) Content(maxChars int) string {
	text := "Subject: " + e.Subject + "\nFrom: " + e.From + "\nDate: " + e.Date.Format("2006-01-02 15:04") + "\n\n" + e.Body
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = string(r[:maxChars])
		}
	}
	return text
}

// SyncResult holds the result of one ingestion run for an account.
type SyncResult struct {
	Account string `json:"account"`
	Fetched int    `json:"fetched"`
	Skipped int    `json:"skipped"`
}

// AccountCoverage reports how far processing has got for one account.
type AccountCoverage struct {
	Account    string    `json:"account"`
	Emails     int       `json:"emails"`
	Summarized int       `json:"summarized"`
	Embedded   int       `json:"embedded"`
	LatestDate time.Time `json:"latest_date,omitempty"`
	LastSync   time.Time `json:"last_sync,omitempty"`
}
