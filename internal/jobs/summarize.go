package jobs

import (
	"context"
	"fmt"

	"github.com/daviddao/mailreport/internal/deadline"
	"github.com/daviddao/mailreport/internal/llm"
	"github.com/daviddao/mailreport/internal/tasks"
	"github.com/daviddao/mailreport/internal/types"
)

// SummaryStore is the persistence the summarization body needs.
type SummaryStore interface {
	PendingSummaries(account string, limit int) ([]*types.Email, error)
	CountPendingSummaries(account string) (int, error)
	SummaryExists(emailID string) (bool, error)
	UpsertSummary(s *types.Summary) error
}

// Summarize returns the body for tasks.TypeSummarizeEmails. It works
// through unsummarized emails oldest first, in batches, until none are
// left or the optional limit is reached.
func Summarize(store SummaryStore, summarizer llm.Summarizer, opts Options) tasks.Body {
	opts = opts.withDefaults()
	log := opts.Logger

	return func(ctx context.Context, params tasks.Params, progress tasks.Reporter) error {
		account := params.String(ParamAccount)
		limit, err := params.Int(ParamLimit, 0)
		if err != nil {
			return err
		}

		total, err := store.CountPendingSummaries(account)
		if err != nil {
			return err
		}
		if limit > 0 {
			total = min(total, limit)
		}
		progress.Report(0, total)

		b := batcher{size: opts.BatchSize, skipped: map[string]bool{}}
		processed, written := 0, 0
		for processed < total {
			batch, err := b.next(func(n int) ([]*types.Email, error) {
				return store.PendingSummaries(account, n)
			})
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}

			for _, e := range batch {
				if processed >= total {
					break
				}
				ok, err := summarizeOne(ctx, store, summarizer, opts, e)
				if err != nil {
					return err
				}
				if ok {
					written++
				} else {
					b.skip(e.ID)
				}
				processed++
				progress.Report(processed, total)
			}
			log.Debug("summary batch done", "processed", processed, "total", total)
		}

		log.Info("summarization finished", "account", account, "written", written, "skipped", len(b.skipped))
		if total > 0 && written == 0 && len(b.skipped) > 0 {
			return fmt.Errorf("summarize: all %d emails failed", len(b.skipped))
		}
		return nil
	}
}

// summarizeOne reports whether a summary was written. Another task may
// have got there first, which counts as done.
func summarizeOne(ctx context.Context, store SummaryStore, summarizer llm.Summarizer, opts Options, e *types.Email) (bool, error) {
	exists, err := store.SummaryExists(e.ID)
	if err != nil || exists {
		return exists, err
	}

	if err := opts.wait(ctx); err != nil {
		return false, err
	}
	res, err := deadline.Call(ctx, opts.LLMTimeout, "summarize", func(ctx context.Context) (llm.SummaryResult, error) {
		return summarizer.Summarize(ctx, e.Content(maxContentChars))
	})
	if err != nil {
		if fatal(ctx, err) {
			return false, err
		}
		opts.Logger.Warn("skipping email", "id", e.ID, "error", err)
		return false, nil
	}

	err = store.UpsertSummary(&types.Summary{
		EmailID:   e.ID,
		Text:      res.Summary,
		Labels:    res.Labels,
		Model:     opts.SummaryModel,
		CreatedAt: opts.now().UTC(),
	})
	return err == nil, err
}

// batcher pages through a "pending" query whose results only shrink as
// work is written. Items that failed stay pending, so they are
// remembered and filtered out of later pages.
type batcher struct {
	size    int
	skipped map[string]bool
}

func (b *batcher) next(load func(n int) ([]*types.Email, error)) ([]*types.Email, error) {
	rows, err := load(b.size + len(b.skipped))
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, e := range rows {
		if !b.skipped[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *batcher) skip(id string) { b.skipped[id] = true }
