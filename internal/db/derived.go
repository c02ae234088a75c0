package db

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/daviddao/mailreport/internal/types"
)

// --- Summaries ---

// PendingSummaries returns up to limit emails with no summary, oldest
// first (ties by id) so that a re-run resumes where the last one stopped.
func (d *DB) PendingSummaries(account string, limit int) ([]*types.Email, error) {
	where, args := accountFilter("e.account", account)
	query := `SELECT ` + emailColumns + `
		FROM emails e
		LEFT JOIN summaries s ON s.email_id = e.id
		WHERE s.email_id IS NULL AND ` + where + `
		ORDER BY e.date ASC, e.id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("pending summaries: %w", err)
	}
	defer rows.Close()
	return scanEmails(rows)
}

// CountPendingSummaries returns how many emails still lack a summary.
func (d *DB) CountPendingSummaries(account string) (int, error) {
	where, args := accountFilter("e.account", account)
	var n int
	err := d.conn.QueryRow(`
		SELECT COUNT(*) FROM emails e
		LEFT JOIN summaries s ON s.email_id = e.id
		WHERE s.email_id IS NULL AND `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending summaries: %w", err)
	}
	return n, nil
}

// SummaryExists reports whether an email already has a summary.
func (d *DB) SummaryExists(emailID string) (bool, error) {
	var n int
	err := d.conn.QueryRow("SELECT 1 FROM summaries WHERE email_id = ?", emailID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check summary %s: %w", emailID, err)
	}
	return true, nil
}

// UpsertSummary stores or replaces the summary for an email.
func (d *DB) UpsertSummary(s *types.Summary) error {
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := d.conn.Exec(`
		INSERT INTO summaries (email_id, summary, labels, model, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email_id) DO UPDATE SET
			summary = excluded.summary,
			labels = excluded.labels,
			model = excluded.model,
			created_at = excluded.created_at`,
		s.EmailID, s.Text, nullStr(joinLabels(s.Labels)), s.Model, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", s.EmailID, err)
	}
	return nil
}

// GetSummary returns the summary for an email, or nil.
func (d *DB) GetSummary(emailID string) (*types.Summary, error) {
	s := &types.Summary{EmailID: emailID}
	var labels sql.NullString
	var created string
	err := d.conn.QueryRow(
		"SELECT summary, labels, model, created_at FROM summaries WHERE email_id = ?", emailID,
	).Scan(&s.Text, &labels, &s.Model, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %s: %w", emailID, err)
	}
	s.Labels = splitLabels(labels.String)
	s.CreatedAt = parseTime(created)
	return s, nil
}

// --- Embeddings ---

// PendingEmbeddings returns up to limit emails with no vector for model,
// oldest first.
func (d *DB) PendingEmbeddings(account, model string, limit int) ([]*types.Email, error) {
	where, args := accountFilter("e.account", account)
	query := `SELECT ` + emailColumns + `
		FROM emails e
		LEFT JOIN embeddings v ON v.email_id = e.id AND v.model = ?
		WHERE v.email_id IS NULL AND ` + where + `
		ORDER BY e.date ASC, e.id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := d.conn.Query(query, append([]any{model}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("pending embeddings: %w", err)
	}
	defer rows.Close()
	return scanEmails(rows)
}

// CountPendingEmbeddings returns how many emails lack a vector for model.
func (d *DB) CountPendingEmbeddings(account, model string) (int, error) {
	where, args := accountFilter("e.account", account)
	var n int
	err := d.conn.QueryRow(`
		SELECT COUNT(*) FROM emails e
		LEFT JOIN embeddings v ON v.email_id = e.id AND v.model = ?
		WHERE v.email_id IS NULL AND `+where, append([]any{model}, args...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending embeddings: %w", err)
	}
	return n, nil
}

// EmbeddingExists reports whether an email has a vector for model.
func (d *DB) EmbeddingExists(emailID, model string) (bool, error) {
	var n int
	err := d.conn.QueryRow("SELECT 1 FROM embeddings WHERE email_id = ? AND model = ?", emailID, model).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check embedding %s: %w", emailID, err)
	}
	return true, nil
}

// UpsertEmbedding stores or replaces a vector.
func (d *DB) UpsertEmbedding(e *types.Embedding) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := d.conn.Exec(`
		INSERT INTO embeddings (email_id, model, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email_id, model) DO UPDATE SET
			dims = excluded.dims,
			vector = excluded.vector,
			created_at = excluded.created_at`,
		e.EmailID, e.Model, len(e.Vector), encodeVector(e.Vector), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding %s: %w", e.EmailID, err)
	}
	return nil
}

// GetEmbedding returns the vector for an email and model, or nil.
func (d *DB) GetEmbedding(emailID, model string) (*types.Embedding, error) {
	e := &types.Embedding{EmailID: emailID, Model: model}
	var blob []byte
	var created string
	err := d.conn.QueryRow(
		"SELECT vector, created_at FROM embeddings WHERE email_id = ? AND model = ?", emailID, model,
	).Scan(&blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding %s: %w", emailID, err)
	}
	e.Vector, err = decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("decode embedding %s: %w", emailID, err)
	}
	e.CreatedAt = parseTime(created)
	return e, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// --- Coverage ---

// Coverage reports per-account email, summary and embedding counts.
func (d *DB) Coverage() ([]types.AccountCoverage, error) {
	rows, err := d.conn.Query(`
		SELECT e.account,
		       COUNT(*),
		       COUNT(s.email_id),
		       (SELECT COUNT(DISTINCT v.email_id) FROM embeddings v
		          JOIN emails x ON x.id = v.email_id WHERE x.account = e.account),
		       MAX(e.date),
		       MAX(e.fetched_at)
		FROM emails e
		LEFT JOIN summaries s ON s.email_id = e.id
		GROUP BY e.account
		ORDER BY e.account`)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}
	defer rows.Close()

	var out []types.AccountCoverage
	for rows.Next() {
		var c types.AccountCoverage
		var latest, fetched sql.NullString
		if err := rows.Scan(&c.Account, &c.Emails, &c.Summarized, &c.Embedded, &latest, &fetched); err != nil {
			return nil, fmt.Errorf("scan coverage: %w", err)
		}
		c.LatestDate = parseTime(latest.String)
		c.LastSync = parseTime(fetched.String)
		out = append(out, c)
	}
	return out, rows.Err()
}
