// Package gmail reads mail through the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"

	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/daviddao/mailreport/internal/types"
)

// pageSize is the largest page messages.list will return.
const pageSize = 500

// ErrUnauthorized marks a request Gmail rejected for bad credentials or
// missing scopes.
var ErrUnauthorized = errors.New("gmail: unauthorized")

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}
	return err
}

// MessageSummary is one search hit.
type MessageSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet"`
}

// DateRange bounds a fetch. Zero values are open.
type DateRange struct {
	After  time.Time
	Before time.Time
}

// Filters narrows a fetch beyond the date range.
type Filters struct {
	From   string
	Labels []string
	// InboxOnly restricts to the inbox, which leaves out drafts, sent-only
	// threads, spam and trash.
	InboxOnly bool
	// Query is appended verbatim in Gmail search syntax.
	Query string
}

// BuildQuery renders a range and filters as a Gmail search query. Dates
// are sent as epoch seconds so they are not rounded to whole days.
func BuildQuery(r DateRange, f Filters) string {
	var parts []string
	if !r.After.IsZero() {
		parts = append(parts, "after:"+strconv.FormatInt(r.After.Unix(), 10))
	}
	if !r.Before.IsZero() {
		parts = append(parts, "before:"+strconv.FormatInt(r.Before.Unix(), 10))
	}
	if f.From != "" {
		parts = append(parts, "from:"+quote(f.From))
	}
	for _, l := range f.Labels {
		parts = append(parts, "label:"+quote(l))
	}
	if f.InboxOnly {
		parts = append(parts, "in:inbox")
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		parts = append(parts, q)
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return strconv.Quote(s)
	}
	return s
}

// Client reads one account's mailbox.
type Client struct {
	svc     *gm.Service
	account string
}

// New wraps an authenticated service for account.
func New(svc *gm.Service, account string) *Client {
	return &Client{svc: svc, account: account}
}

// Account is the mailbox address the client reads.
func (c *Client) Account() string { return c.account }

// ListMessageIDs pages through the messages matching r and f, newest
// first as Gmail returns them, stopping after maxResults ids.
func (c *Client) ListMessageIDs(ctx context.Context, r DateRange, f Filters, maxResults int) ([]string, error) {
	query := BuildQuery(r, f)
	var ids []string
	pageToken := ""
	for maxResults <= 0 || len(ids) < maxResults {
		n := pageSize
		if maxResults > 0 {
			n = min(pageSize, maxResults-len(ids))
		}
		call := c.svc.Users.Messages.List("me").Q(query).MaxResults(int64(n)).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return ids, fmt.Errorf("list messages: %w", classify(err))
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// FetchEmail reads one message in full.
func (c *Client) FetchEmail(ctx context.Context, id string) (*types.Email, error) {
	msg, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, classify(err))
	}
	return toEmail(msg, c.account), nil
}

// FetchEmails lists and reads every message matching r and f, up to
// maxResults. A message that fails to read aborts the fetch.
func (c *Client) FetchEmails(ctx context.Context, r DateRange, f Filters, maxResults int) ([]*types.Email, error) {
	ids, err := c.ListMessageIDs(ctx, r, f, maxResults)
	if err != nil {
		return nil, err
	}
	emails := make([]*types.Email, 0, len(ids))
	for _, id := range ids {
		e, err := c.FetchEmail(ctx, id)
		if err != nil {
			return emails, err
		}
		emails = append(emails, e)
	}
	return emails, nil
}

// Search finds messages matching a Gmail query and returns summaries.
func (c *Client) Search(ctx context.Context, query string, maxResults int64) ([]MessageSummary, error) {
	resp, err := c.svc.Users.Messages.List("me").Q(query).MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", classify(err))
	}

	summaries := make([]MessageSummary, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		detail, err := c.svc.Users.Messages.Get("me", msg.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			// Skip individual message failures.
			continue
		}

		headers := headerMap(detail.Payload)
		summaries = append(summaries, MessageSummary{
			ID:       detail.Id,
			ThreadID: detail.ThreadId,
			From:     headers["From"],
			To:       headers["To"],
			Subject:  defaultStr(headers["Subject"], "(no subject)"),
			Date:     headers["Date"],
			Snippet:  detail.Snippet,
		})
	}
	return summaries, nil
}

func toEmail(msg *gm.Message, account string) *types.Email {
	headers := headerMap(msg.Payload)
	return &types.Email{
		ID:        msg.Id,
		Account:   account,
		ThreadID:  msg.ThreadId,
		MessageID: headers["Message-Id"],
		From:      headers["From"],
		To:        headers["To"],
		CC:        headers["Cc"],
		Subject:   defaultStr(headers["Subject"], "(no subject)"),
		Snippet:   msg.Snippet,
		Body:      extractBody(msg.Payload),
		Date:      messageDate(msg.InternalDate, headers["Date"]),
		Labels:    msg.LabelIds,
		IsRead:    !slices.Contains(msg.LabelIds, "UNREAD"),
		FetchedAt: time.Now().UTC(),
	}
}

// messageDate prefers Gmail's internal timestamp (milliseconds since the
// epoch) and falls back to the Date header.
func messageDate(internalMillis int64, header string) time.Time {
	if internalMillis > 0 {
		return time.UnixMilli(internalMillis).UTC()
	}
	if t, err := mail.ParseDate(header); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// extractBody gets the plain text body from a message payload.
// Handles multipart messages recursively, preferring text/plain over text/html.
func extractBody(payload *gm.MessagePart) string {
	if payload == nil {
		return ""
	}
	if len(payload.Parts) == 0 && payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := decodeBase64URL(payload.Body.Data); err == nil {
			return decoded
		}
	}

	if body := findPart(payload, "text/plain"); body != "" {
		return body
	}
	if body := findPart(payload, "text/html"); body != "" {
		return "(HTML content)\n" + body
	}
	return ""
}

// findPart returns the first decodable part of mimeType, depth first.
func findPart(p *gm.MessagePart, mimeType string) string {
	for _, part := range p.Parts {
		if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
		if len(part.Parts) > 0 {
			if body := findPart(part, mimeType); body != "" {
				return body
			}
		}
	}
	return ""
}

// headerMap converts payload headers into a map keyed by canonical
// header name, so "Message-ID" and "Message-Id" both land on the latter.
func headerMap(p *gm.MessagePart) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	m := make(map[string]string, len(p.Headers))
	for _, h := range p.Headers {
		m[canonicalHeader(h.Name)] = h.Value
	}
	return m
}

func canonicalHeader(name string) string {
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// decodeBase64URL decodes Gmail's base64url content, with or without
// padding.
func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
