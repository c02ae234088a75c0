package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/mailreport/internal/deadline"
	"github.com/daviddao/mailreport/internal/gmail"
	"github.com/daviddao/mailreport/internal/llm"
	"github.com/daviddao/mailreport/internal/tasks"
	"github.com/daviddao/mailreport/internal/types"
)

const account = "me@example.com"

func TestIngest_OverlappingRunsDoNotDuplicate(t *testing.T) {
	store := newMemStore()
	params := tasks.Params{ParamAccount: account, ParamAfter: "2025-01-01"}

	first := &fakeSource{emails: []*types.Email{mail("a", 30), mail("b", 20), mail("c", 10)}}
	require.NoError(t, Ingest(store, sourceFor(first), testOptions())(context.Background(), params, &recorder{}))

	second := &fakeSource{emails: []*types.Email{mail("b", 20), mail("c", 10), mail("d", 5)}}
	require.NoError(t, Ingest(store, sourceFor(second), testOptions())(context.Background(), params, &recorder{}))

	assert.Len(t, store.emails, 4)
	for id, n := range store.inserts {
		assert.Equal(t, 1, n, "email %s written more than once", id)
	}
	assert.Equal(t, []string{"d"}, second.fetched, "stored messages are not fetched again")
	assert.Equal(t, account, store.emails["d"].Account)
}

func TestIngest_OldestFirstWithProgress(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{emails: []*types.Email{mail("new", 1), mail("old", 50), mail("mid", 10)}}
	rec := &recorder{}

	require.NoError(t, Ingest(store, sourceFor(src), testOptions())(context.Background(),
		tasks.Params{ParamAccount: account}, rec))

	assert.Equal(t, []string{"old", "mid", "new"}, store.order)
	assert.Equal(t, [][2]int{{0, 3}, {1, 3}, {2, 3}, {3, 3}}, rec.reports)
}

func TestIngest_WindowDefaultsAndResumes(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{}
	body := Ingest(store, sourceFor(src), testOptions())
	params := tasks.Params{ParamAccount: account}

	require.NoError(t, body(context.Background(), params, &recorder{}))
	require.Len(t, src.ranges, 1)
	assert.True(t, t0.Add(-DefaultWindow).Equal(src.ranges[0].After))

	latest := mail("x", 3)
	latest.Account = account
	require.NoError(t, store.UpsertEmail(latest))

	require.NoError(t, body(context.Background(), params, &recorder{}))
	assert.True(t, latest.Date.Equal(src.ranges[1].After))

	params[ParamAfter] = "2025-02-01"
	params[ParamBefore] = "2025-02-08"
	require.NoError(t, body(context.Background(), params, &recorder{}))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), src.ranges[2].After)
	assert.Equal(t, time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC), src.ranges[2].Before)
}

func TestIngest_Validation(t *testing.T) {
	body := Ingest(newMemStore(), sourceFor(&fakeSource{}), testOptions())

	err := body(context.Background(), tasks.Params{}, &recorder{})
	assert.ErrorContains(t, err, "account is required")

	err = body(context.Background(), tasks.Params{ParamAccount: account, ParamAfter: "last week"}, &recorder{})
	assert.Error(t, err)

	err = body(context.Background(), tasks.Params{ParamAccount: account, ParamMaxResults: "many"}, &recorder{})
	assert.Error(t, err)
}

func TestIngest_BacklogLargerThanMaxResultsIsIngestedOldestFirst(t *testing.T) {
	store := newMemStore()
	var backlog []*types.Email
	for i := 1; i <= 6; i++ {
		backlog = append(backlog, mail(fmt.Sprintf("m%d", i), 10-i))
	}
	src := &fakeSource{emails: backlog}
	body := Ingest(store, sourceFor(src), testOptions())
	params := tasks.Params{ParamAccount: account, ParamMaxResults: "2"}

	require.NoError(t, body(context.Background(), params, &recorder{}))
	assert.Equal(t, []string{"m1", "m2"}, store.order, "the oldest messages come first")

	for run := 0; run < 4; run++ {
		require.NoError(t, body(context.Background(), params, &recorder{}))
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, store.order)
	for id, n := range store.inserts {
		assert.Equal(t, 1, n, "email %s written more than once", id)
	}
}

func TestIngest_UnreadableMessageStopsAndIsRetried(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{
		emails:   []*types.Email{mail("a", 3), mail("b", 2), mail("c", 1)},
		fetchErr: map[string]error{"b": errProvider},
	}
	body := Ingest(store, sourceFor(src), testOptions())
	params := tasks.Params{ParamAccount: account}

	err := body(context.Background(), params, &recorder{})
	require.ErrorIs(t, err, errProvider)
	assert.Contains(t, err.Error(), "ingest b")
	assert.Equal(t, []string{"a"}, store.order, "nothing newer than the failed message is stored")

	src.fetchErr = nil
	require.NoError(t, body(context.Background(), params, &recorder{}))
	assert.Equal(t, []string{"a", "b", "c"}, store.order)
}

func TestIngest_AuthFailureEndsTask(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{
		emails:   []*types.Email{mail("a", 3), mail("b", 2), mail("c", 1)},
		fetchErr: map[string]error{"b": gmail.ErrUnauthorized},
	}

	err := Ingest(store, sourceFor(src), testOptions())(context.Background(),
		tasks.Params{ParamAccount: account}, &recorder{})
	assert.ErrorIs(t, err, gmail.ErrUnauthorized)
	assert.Len(t, store.emails, 1, "work done before the failure is kept")
}

func TestIngest_ListTimeout(t *testing.T) {
	opts := testOptions()
	opts.FetchTimeout = 10 * time.Millisecond
	src := &blockingSource{}

	err := Ingest(newMemStore(), sourceFor(src), opts)(context.Background(),
		tasks.Params{ParamAccount: account}, &recorder{})
	assert.ErrorIs(t, err, deadline.ErrTimeout)
	assert.Contains(t, err.Error(), "list messages")
}

type blockingSource struct{ fakeSource }

func (b *blockingSource) ListMessageIDs(ctx context.Context, _ gmail.DateRange, _ gmail.Filters, _ int) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func seeded(n int) *memStore {
	var es []*types.Email
	for i := 0; i < n; i++ {
		e := mail(string(rune('a'+i)), n-i)
		e.Account = account
		es = append(es, e)
	}
	return newMemStore(es...)
}

func TestSummarize_AllPending(t *testing.T) {
	store := seeded(5)
	sum := &fakeSummarizer{}
	rec := &recorder{}

	require.NoError(t, Summarize(store, sum, testOptions())(context.Background(), tasks.Params{}, rec))

	assert.Len(t, store.summaries, 5)
	assert.Equal(t, 5, sum.calls)
	assert.Equal(t, "sum-model", store.summaries["a"].Model)
	assert.Equal(t, [2]int{5, 5}, rec.last())
	for i := 1; i < len(rec.reports); i++ {
		assert.GreaterOrEqual(t, rec.reports[i][0], rec.reports[i-1][0])
	}
}

func TestSummarize_Limit(t *testing.T) {
	store := seeded(5)
	rec := &recorder{}
	require.NoError(t, Summarize(store, &fakeSummarizer{}, testOptions())(context.Background(),
		tasks.Params{ParamLimit: "3"}, rec))

	assert.Len(t, store.summaries, 3)
	assert.Contains(t, store.summaries, "a", "oldest emails go first")
	assert.Equal(t, [2]int{3, 3}, rec.last())
}

func TestSummarize_ResumesAfterTimeout(t *testing.T) {
	store := seeded(5)
	opts := testOptions()
	opts.LLMTimeout = 20 * time.Millisecond

	var n atomic.Int32
	stalls := &fakeSummarizer{fn: func(ctx context.Context, text string) (llm.SummaryResult, error) {
		if n.Add(1) == 3 {
			<-ctx.Done()
			return llm.SummaryResult{}, ctx.Err()
		}
		return llm.SummaryResult{Summary: "ok"}, nil
	}}

	err := Summarize(store, stalls, opts)(context.Background(), tasks.Params{}, &recorder{})
	require.ErrorIs(t, err, deadline.ErrTimeout)
	assert.Len(t, store.summaries, 2)

	healthy := &fakeSummarizer{}
	require.NoError(t, Summarize(store, healthy, opts)(context.Background(), tasks.Params{}, &recorder{}))
	assert.Len(t, store.summaries, 5)
	assert.Equal(t, 3, healthy.calls, "already summarized emails are not redone")
}

func TestSummarize_SkipsGenericFailures(t *testing.T) {
	store := seeded(4)
	sum := &fakeSummarizer{fn: func(ctx context.Context, text string) (llm.SummaryResult, error) {
		if strings.Contains(text, "subject b") {
			return llm.SummaryResult{}, errProvider
		}
		return llm.SummaryResult{Summary: "ok"}, nil
	}}
	rec := &recorder{}

	require.NoError(t, Summarize(store, sum, testOptions())(context.Background(), tasks.Params{}, rec))
	assert.Len(t, store.summaries, 3)
	assert.NotContains(t, store.summaries, "b")
	assert.Equal(t, [2]int{4, 4}, rec.last())
	assert.Equal(t, 4, sum.calls, "a failed email is tried once per run")
}

func TestSummarize_Unauthorized(t *testing.T) {
	store := seeded(3)
	sum := &fakeSummarizer{fn: func(ctx context.Context, text string) (llm.SummaryResult, error) {
		return llm.SummaryResult{}, llm.ErrUnauthorized
	}}
	err := Summarize(store, sum, testOptions())(context.Background(), tasks.Params{}, &recorder{})
	assert.ErrorIs(t, err, llm.ErrUnauthorized)
	assert.Equal(t, 1, sum.calls)
}

func TestEmbed_BatchesAndSkipsExisting(t *testing.T) {
	store := seeded(5)
	require.NoError(t, store.UpsertEmbedding(&types.Embedding{EmailID: "c", Model: "emb-model", Vector: []float32{9}}))
	emb := &fakeEmbedder{}
	rec := &recorder{}

	require.NoError(t, Embed(store, emb, testOptions())(context.Background(), tasks.Params{}, rec))

	assert.Len(t, store.embeddings, 5)
	assert.Len(t, emb.batches, 2, "four pending emails in batches of two")
	assert.Equal(t, []float32{9}, store.embeddings["c|emb-model"].Vector)
	assert.Equal(t, [2]int{4, 4}, rec.last())
}

func TestEmbed_GenericFailureSkipsBatch(t *testing.T) {
	store := seeded(3)
	emb := &fakeEmbedder{err: errProvider}

	err := Embed(store, emb, testOptions())(context.Background(), tasks.Params{}, &recorder{})
	assert.ErrorContains(t, err, "all 3 emails failed")
	assert.Len(t, emb.batches, 2)
	assert.Empty(t, store.embeddings)
}

func TestEmbed_TimeoutFails(t *testing.T) {
	store := seeded(3)
	opts := testOptions()
	opts.LLMTimeout = 10 * time.Millisecond
	emb := &stallingEmbedder{}

	err := Embed(store, emb, opts)(context.Background(), tasks.Params{}, &recorder{})
	assert.ErrorIs(t, err, deadline.ErrTimeout)
}

type stallingEmbedder struct{}

func (stallingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 1))
	l := NewLimiter(60, 5)
	require.NotNil(t, l)
	assert.Equal(t, 5, l.Burst())
}
