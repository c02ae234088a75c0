package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/mailreport/internal/types"
)

const emailColumns = `e.id, e.account, e.thread_id, e.message_id, e.from_addr, e.to_addr, e.cc,
	e.subject, e.snippet, e.body, e.date, e.labels, e.is_read, e.fetched_at`

// UpsertEmail inserts an email or refreshes the fields that can change
// on the provider side (labels and read state). Content is never
// rewritten.
func (d *DB) UpsertEmail(e *types.Email) error {
	fetched := e.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	_, err := d.conn.Exec(`
		INSERT INTO emails
			(id, account, thread_id, message_id, from_addr, to_addr, cc, subject, snippet, body, date, labels, is_read, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			labels = excluded.labels,
			is_read = excluded.is_read`,
		e.ID, e.Account, e.ThreadID, nullStr(e.MessageID), e.From, nullStr(e.To), nullStr(e.CC),
		e.Subject, nullStr(e.Snippet), nullStr(e.Body), formatTime(e.Date), nullStr(joinLabels(e.Labels)),
		e.IsRead, formatTime(fetched),
	)
	if err != nil {
		return fmt.Errorf("upsert email %s: %w", e.ID, err)
	}
	return nil
}

// EmailExists checks if an email ID already exists.
func (d *DB) EmailExists(id string) (bool, error) {
	var n int
	err := d.conn.QueryRow("SELECT 1 FROM emails WHERE id = ?", id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check email %s: %w", id, err)
	}
	return true, nil
}

// GetEmail returns one email, or nil if it is not stored.
func (d *DB) GetEmail(id string) (*types.Email, error) {
	rows, err := d.conn.Query("SELECT "+emailColumns+" FROM emails e WHERE e.id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	emails, err := scanEmails(rows)
	if err != nil || len(emails) == 0 {
		return nil, err
	}
	return emails[0], nil
}

// LatestEmailDate returns the most recent email date for an account, or
// the zero time if none are stored.
func (d *DB) LatestEmailDate(account string) (time.Time, error) {
	var date sql.NullString
	if err := d.conn.QueryRow("SELECT MAX(date) FROM emails WHERE account = ?", account).Scan(&date); err != nil {
		return time.Time{}, fmt.Errorf("latest email date: %w", err)
	}
	return parseTime(date.String), nil
}

// EmailCount returns the total number of emails.
func (d *DB) EmailCount() (int, error) {
	var n int
	if err := d.conn.QueryRow("SELECT COUNT(*) FROM emails").Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

// CountEmails returns how many emails fall in [since, until) for an
// account ("" for all). Zero bounds are open.
func (d *DB) CountEmails(account string, since, until time.Time) (int, error) {
	where, args := rangeFilter(account, since, until)
	var n int
	if err := d.conn.QueryRow("SELECT COUNT(*) FROM emails e WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

// Corpus loads the emails in [since, until) for an account ("" for all),
// each joined with its summary if one exists. Order is unspecified;
// tiering sorts.
func (d *DB) Corpus(account string, since, until time.Time) ([]types.EmailRef, error) {
	where, args := rangeFilter(account, since, until)
	rows, err := d.conn.Query(`
		SELECT e.id, e.subject, e.from_addr, e.to_addr, e.date, e.body, e.labels, s.summary
		FROM emails e
		LEFT JOIN summaries s ON s.email_id = e.id
		WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	defer rows.Close()

	var out []types.EmailRef
	for rows.Next() {
		var r types.EmailRef
		var to, body, labels, summary sql.NullString
		var date string
		if err := rows.Scan(&r.ID, &r.Subject, &r.From, &to, &date, &body, &labels, &summary); err != nil {
			return nil, fmt.Errorf("scan corpus: %w", err)
		}
		r.To = to.String
		r.Date = parseTime(date)
		r.Body = body.String
		r.Labels = splitLabels(labels.String)
		r.Summary = summary.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func rangeFilter(account string, since, until time.Time) (string, []any) {
	where, args := accountFilter("e.account", account)
	if !since.IsZero() {
		where += " AND e.date >= ?"
		args = append(args, formatTime(since))
	}
	if !until.IsZero() {
		where += " AND e.date < ?"
		args = append(args, formatTime(until))
	}
	return where, args
}

func scanEmails(rows *sql.Rows) ([]*types.Email, error) {
	var result []*types.Email
	for rows.Next() {
		e := &types.Email{}
		var msgID, to, cc, snippet, body, labels sql.NullString
		var date, fetched string
		if err := rows.Scan(
			&e.ID, &e.Account, &e.ThreadID, &msgID, &e.From, &to, &cc,
			&e.Subject, &snippet, &body, &date, &labels, &e.IsRead, &fetched,
		); err != nil {
			return nil, err
		}
		e.MessageID = msgID.String
		e.To = to.String
		e.CC = cc.String
		e.Snippet = snippet.String
		e.Body = body.String
		e.Date = parseTime(date)
		e.Labels = splitLabels(labels.String)
		e.FetchedAt = parseTime(fetched)
		result = append(result, e)
	}
	return result, rows.Err()
}
