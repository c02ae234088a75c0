package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/mailreport/internal/config"
	"github.com/daviddao/mailreport/internal/tasks"
)

func TestDiscoverAccounts(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"b@example.com", "a@example.com", "no-creds@example.com", "notes"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	for _, dir := range []string{"b@example.com", "a@example.com", "notes"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "credentials.json"), []byte("{}"), 0o600))
	}

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, discoverAccounts(root))
	assert.Equal(t, []string{"x@example.com"}, resolveAccounts(root, "x@example.com"))
	assert.Nil(t, discoverAccounts(filepath.Join(root, "missing")))
}

func TestResolveCredentials(t *testing.T) {
	assert.Equal(t, filepath.Join("/p", "a@example.com", "credentials.json"), resolveCredentials("/p", "a@example.com", ""))
	assert.Equal(t, "/elsewhere.json", resolveCredentials("/p", "a@example.com", "/elsewhere.json"))
}

func TestEnsureGitignore(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("bin/"), 0o644))

	ensureGitignore(root)
	ensureGitignore(root)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "bin/\n"))
	assert.Equal(t, 1, strings.Count(string(data), ".mailreport/"))
}

func TestReportRequest(t *testing.T) {
	cfg = config.Default()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() {
		reportSince, reportUntil, reportDays, reportModel, reportReserve = "", "", 7, "", 0
	})

	reportSince, reportUntil, reportDays = "", "2025-03-10", 7
	req, err := reportRequest()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), req.Since)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), req.Until)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 4000, req.OutputReservationTokens)

	reportSince, reportModel, reportReserve = "2025-03-01", "gpt-4o-mini", 8000
	req, err = reportRequest()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), req.Since)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 8000, req.OutputReservationTokens)

	reportSince = "2025-04-01"
	_, err = reportRequest()
	assert.Error(t, err)

	reportSince, reportDays = "", 0
	req, err = reportRequest()
	require.NoError(t, err)
	assert.True(t, req.Since.IsZero())
}

func TestEngineWatch_FollowsOnlyRequestedTasksInQueueOrder(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := tasks.NewStore(quiet)
	sched := tasks.NewScheduler(ts, tasks.Options{MaxConcurrent: 2, Logger: quiet})
	sched.Register(tasks.TypeSummarizeEmails, func(ctx context.Context, _ tasks.Params, _ tasks.Reporter) error { return nil })
	require.NoError(t, sched.Start())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })
	e := &engine{tasks: ts, sched: sched}

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := e.queue(tasks.TypeSummarizeEmails, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var draws int
	recs := e.watch(context.Background(), ids[:2], time.Millisecond, func([]tasks.Record) { draws++ })
	require.Len(t, recs, 2)
	assert.Equal(t, ids[0], recs[0].ID)
	assert.Equal(t, ids[1], recs[1].ID)
	for _, r := range recs {
		assert.Equal(t, tasks.StatusCompleted, r.Status)
	}
	assert.Positive(t, draws)
}
