package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/mailreport/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), Dir, FileName))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func email(id, account string, hoursAgo int) *types.Email {
	return &types.Email{
		ID:       id,
		Account:  account,
		ThreadID: "t-" + id,
		From:     "sender@example.com",
		To:       account,
		Subject:  "subject " + id,
		Body:     "body of " + id,
		Date:     base.Add(-time.Duration(hoursAgo) * time.Hour),
		Labels:   []string{"INBOX", "UNREAD"},
	}
}

func TestUpsertEmail_Idempotent(t *testing.T) {
	d := openTestDB(t)
	e := email("m1", "me@example.com", 1)

	exists, err := d.EmailExists("m1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, d.UpsertEmail(e))
	require.NoError(t, d.UpsertEmail(e))
	count, err := d.EmailCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err = d.EmailExists("m1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := d.GetEmail("m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Subject, got.Subject)
	assert.Equal(t, e.Body, got.Body)
	assert.True(t, e.Date.Equal(got.Date))
	assert.Equal(t, []string{"INBOX", "UNREAD"}, got.Labels)
	assert.False(t, got.FetchedAt.IsZero())
}

func TestUpsertEmail_RefreshesMutableFields(t *testing.T) {
	d := openTestDB(t)
	e := email("m1", "me@example.com", 1)
	require.NoError(t, d.UpsertEmail(e))

	e.Labels = []string{"INBOX"}
	e.IsRead = true
	e.Body = "rewritten"
	require.NoError(t, d.UpsertEmail(e))

	got, err := d.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX"}, got.Labels)
	assert.True(t, got.IsRead)
	assert.Equal(t, "body of m1", got.Body)
}

func TestGetEmail_Missing(t *testing.T) {
	d := openTestDB(t)
	got, err := d.GetEmail("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLatestEmailDateAndCounts(t *testing.T) {
	d := openTestDB(t)

	latest, err := d.LatestEmailDate("me@example.com")
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	require.NoError(t, d.UpsertEmail(email("a", "me@example.com", 5)))
	require.NoError(t, d.UpsertEmail(email("b", "me@example.com", 1)))
	require.NoError(t, d.UpsertEmail(email("c", "work@example.com", 0)))

	latest, err = d.LatestEmailDate("me@example.com")
	require.NoError(t, err)
	assert.True(t, base.Add(-time.Hour).Equal(latest))

	n, err := d.CountEmails("me@example.com", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = d.EmailCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEmailCount_ReportsQueryErrors(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.Close())

	n, err := d.EmailCount()
	assert.ErrorContains(t, err, "count emails")
	assert.Zero(t, n)
}

func TestCorpus_RangeAndSummaryJoin(t *testing.T) {
	d := openTestDB(t)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, d.UpsertEmail(email(id, "me@example.com", 48-i*24)))
	}
	require.NoError(t, d.UpsertEmail(email("other", "work@example.com", 0)))
	require.NoError(t, d.UpsertSummary(&types.Summary{EmailID: "mid", Text: "mid summary", Model: "m"}))

	corpus, err := d.Corpus("me@example.com", base.Add(-36*time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, corpus, 2)

	byID := map[string]types.EmailRef{}
	for _, r := range corpus {
		byID[r.ID] = r
	}
	assert.Equal(t, "mid summary", byID["mid"].Summary)
	assert.Empty(t, byID["new"].Summary)
	assert.Equal(t, "body of new", byID["new"].Body)

	n, err := d.CountEmails("", time.Time{}, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := d.Corpus("", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestPendingSummaries_OldestFirst(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertEmail(email("b", "me@example.com", 10)))
	require.NoError(t, d.UpsertEmail(email("a", "me@example.com", 10)))
	require.NoError(t, d.UpsertEmail(email("c", "me@example.com", 20)))
	require.NoError(t, d.UpsertEmail(email("d", "me@example.com", 1)))

	pending, err := d.PendingSummaries("me@example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids(pending))

	require.NoError(t, d.UpsertSummary(&types.Summary{EmailID: "c", Text: "s", Labels: []string{"x"}, Model: "m"}))
	pending, err = d.PendingSummaries("", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(pending))

	n, err := d.CountPendingSummaries("")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ok, err := d.SummaryExists("c")
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := d.GetSummary("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, s.Labels)
	assert.Equal(t, "m", s.Model)

	s, err = d.GetSummary("a")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestEmbeddings_PerModel(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertEmail(email("a", "me@example.com", 2)))
	require.NoError(t, d.UpsertEmail(email("b", "me@example.com", 1)))

	vec := []float32{0.25, -1.5, 3}
	require.NoError(t, d.UpsertEmbedding(&types.Embedding{EmailID: "a", Model: "small", Vector: vec}))
	require.NoError(t, d.UpsertEmbedding(&types.Embedding{EmailID: "a", Model: "small", Vector: vec}))

	got, err := d.GetEmbedding("a", "small")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, vec, got.Vector)

	ok, err := d.EmbeddingExists("a", "large")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := d.PendingEmbeddings("", "small", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(pending))

	pending, err = d.PendingEmbeddings("", "large", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(pending))

	n, err := d.CountPendingEmbeddings("me@example.com", "small")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoverage(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.UpsertEmail(email("a", "me@example.com", 2)))
	require.NoError(t, d.UpsertEmail(email("b", "me@example.com", 1)))
	require.NoError(t, d.UpsertEmail(email("c", "work@example.com", 1)))
	require.NoError(t, d.UpsertSummary(&types.Summary{EmailID: "a", Text: "s", Model: "m"}))
	require.NoError(t, d.UpsertEmbedding(&types.Embedding{EmailID: "b", Model: "m", Vector: []float32{1}}))
	require.NoError(t, d.UpsertEmbedding(&types.Embedding{EmailID: "b", Model: "m2", Vector: []float32{1}}))

	cov, err := d.Coverage()
	require.NoError(t, err)
	require.Len(t, cov, 2)
	assert.Equal(t, "me@example.com", cov[0].Account)
	assert.Equal(t, 2, cov[0].Emails)
	assert.Equal(t, 1, cov[0].Summarized)
	assert.Equal(t, 1, cov[0].Embedded)
	assert.True(t, base.Add(-time.Hour).Equal(cov[0].LatestDate))
	assert.Equal(t, 1, cov[1].Emails)
	assert.Zero(t, cov[1].Summarized)
}

func TestVectorCodec(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	v, err := decodeVector(encodeVector(nil))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func ids(emails []*types.Email) []string {
	out := make([]string, len(emails))
	for i, e := range emails {
		out[i] = e.ID
	}
	return out
}
