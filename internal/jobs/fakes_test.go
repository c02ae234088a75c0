package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/daviddao/mailreport/internal/gmail"
	"github.com/daviddao/mailreport/internal/llm"
	"github.com/daviddao/mailreport/internal/types"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testOptions() Options {
	return Options{
		BatchSize:      2,
		LLMTimeout:     time.Second,
		FetchTimeout:   time.Second,
		SummaryModel:   "sum-model",
		EmbeddingModel: "emb-model",
		Logger:         quiet(),
		now:            func() time.Time { return t0 },
	}
}

func mail(id string, hoursAgo int) *types.Email {
	return &types.Email{
		ID:      id,
		Subject: "subject " + id,
		From:    "a@example.com",
		Body:    "body " + id,
		Date:    t0.Add(-time.Duration(hoursAgo) * time.Hour),
	}
}

// memStore is an in-memory stand-in for the SQLite store that counts
// writes per id.
type memStore struct {
	mu         sync.Mutex
	emails     map[string]*types.Email
	inserts    map[string]int
	order      []string
	summaries  map[string]*types.Summary
	embeddings map[string]*types.Embedding
}

func newMemStore(seed ...*types.Email) *memStore {
	s := &memStore{
		emails:     map[string]*types.Email{},
		inserts:    map[string]int{},
		summaries:  map[string]*types.Summary{},
		embeddings: map[string]*types.Embedding{},
	}
	for _, e := range seed {
		s.emails[e.ID] = e
	}
	return s
}

func (s *memStore) EmailExists(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.emails[id]
	return ok, nil
}

func (s *memStore) UpsertEmail(e *types.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[e.ID] = e
	s.inserts[e.ID]++
	s.order = append(s.order, e.ID)
	return nil
}

func (s *memStore) LatestEmailDate(account string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, e := range s.emails {
		if e.Account == account && e.Date.After(latest) {
			latest = e.Date
		}
	}
	return latest, nil
}

func (s *memStore) sorted(account string, keep func(*types.Email) bool) []*types.Email {
	var out []*types.Email
	for _, e := range s.emails {
		if (account == "" || e.Account == account) && keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *types.Email) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func limitTo(es []*types.Email, n int) []*types.Email {
	if n > 0 && len(es) > n {
		return es[:n]
	}
	return es
}

func (s *memStore) PendingSummaries(account string, limit int) ([]*types.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return limitTo(s.sorted(account, func(e *types.Email) bool { return s.summaries[e.ID] == nil }), limit), nil
}

func (s *memStore) CountPendingSummaries(account string) (int, error) {
	p, _ := s.PendingSummaries(account, 0)
	return len(p), nil
}

func (s *memStore) SummaryExists(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries[id] != nil, nil
}

func (s *memStore) UpsertSummary(sum *types.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.EmailID] = sum
	return nil
}

func (s *memStore) PendingEmbeddings(account, model string, limit int) ([]*types.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return limitTo(s.sorted(account, func(e *types.Email) bool { return s.embeddings[e.ID+"|"+model] == nil }), limit), nil
}

func (s *memStore) CountPendingEmbeddings(account, model string) (int, error) {
	p, _ := s.PendingEmbeddings(account, model, 0)
	return len(p), nil
}

func (s *memStore) EmbeddingExists(id, model string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embeddings[id+"|"+model] != nil, nil
}

func (s *memStore) UpsertEmbedding(e *types.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[e.EmailID+"|"+e.Model] = e
	return nil
}

// fakeSource serves a fixed mailbox, newest first like Gmail, honoring
// the date range. After is inclusive, Before exclusive.
type fakeSource struct {
	mu       sync.Mutex
	emails   []*types.Email
	listErr  error
	fetchErr map[string]error
	ranges   []gmail.DateRange
	fetched  []string
}

func (f *fakeSource) ListMessageIDs(ctx context.Context, r gmail.DateRange, _ gmail.Filters, maxResults int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, r)
	if f.listErr != nil {
		return nil, f.listErr
	}
	sorted := slices.Clone(f.emails)
	slices.SortFunc(sorted, func(a, b *types.Email) int { return b.Date.Compare(a.Date) })
	var ids []string
	for _, e := range sorted {
		if (!r.After.IsZero() && e.Date.Before(r.After)) || (!r.Before.IsZero() && !e.Date.Before(r.Before)) {
			continue
		}
		ids = append(ids, e.ID)
	}
	if maxResults > 0 && len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

func (f *fakeSource) FetchEmail(ctx context.Context, id string) (*types.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	for _, e := range f.emails {
		if e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, fmt.Errorf("message %s not found", id)
}

func sourceFor(src EmailSource) SourceFunc {
	return func(ctx context.Context, account string) (EmailSource, error) { return src, nil }
}

// fakeSummarizer answers from a function.
type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, text string) (llm.SummaryResult, error)
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (llm.SummaryResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, text)
	}
	return llm.SummaryResult{Summary: "summary", Labels: []string{"x"}}, nil
}

type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

// recorder captures every progress report.
type recorder struct {
	mu      sync.Mutex
	reports [][2]int
}

func (r *recorder) Report(processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, [2]int{processed, total})
}

func (r *recorder) last() [2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return [2]int{-1, -1}
	}
	return r.reports[len(r.reports)-1]
}

var errProvider = errors.New("provider returned 500")
