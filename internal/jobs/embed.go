package jobs

import (
	"context"
	"fmt"

	"github.com/daviddao/mailreport/internal/deadline"
	"github.com/daviddao/mailreport/internal/llm"
	"github.com/daviddao/mailreport/internal/tasks"
	"github.com/daviddao/mailreport/internal/types"
)

// EmbeddingStore is the persistence the embedding body needs.
type EmbeddingStore interface {
	PendingEmbeddings(account, model string, limit int) ([]*types.Email, error)
	CountPendingEmbeddings(account, model string) (int, error)
	EmbeddingExists(emailID, model string) (bool, error)
	UpsertEmbedding(e *types.Embedding) error
}

// Embed returns the body for tasks.TypeGenerateEmbeddings. Each batch is
// one embedding request.
func Embed(store EmbeddingStore, embedder llm.Embedder, opts Options) tasks.Body {
	opts = opts.withDefaults()
	log := opts.Logger
	model := opts.EmbeddingModel

	return func(ctx context.Context, params tasks.Params, progress tasks.Reporter) error {
		account := params.String(ParamAccount)
		limit, err := params.Int(ParamLimit, 0)
		if err != nil {
			return err
		}

		total, err := store.CountPendingEmbeddings(account, model)
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
				return store.PendingEmbeddings(account, model, n)
			})
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			batch = batch[:min(len(batch), total-processed, opts.BatchSize)]

			n, err := embedBatch(ctx, store, embedder, opts, batch)
			if err != nil {
				if fatal(ctx, err) {
					return err
				}
				log.Warn("skipping embedding batch", "size", len(batch), "error", err)
				for _, e := range batch {
					b.skip(e.ID)
				}
			}
			written += n
			processed += len(batch)
			progress.Report(processed, total)
		}

		log.Info("embedding finished", "account", account, "model", model, "written", written, "skipped", len(b.skipped))
		if total > 0 && written == 0 && len(b.skipped) > 0 {
			return fmt.Errorf("embed: all %d emails failed", len(b.skipped))
		}
		return nil
	}
}

func embedBatch(ctx context.Context, store EmbeddingStore, embedder llm.Embedder, opts Options, batch []*types.Email) (int, error) {
	var todo []*types.Email
	for _, e := range batch {
		exists, err := store.EmbeddingExists(e.ID, opts.EmbeddingModel)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", errStorage, err)
		}
		if !exists {
			todo = append(todo, e)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	texts := make([]string, len(todo))
	for i, e := range todo {
		texts[i] = e.Content(maxContentChars)
	}

	if err := opts.wait(ctx); err != nil {
		return 0, err
	}
	vectors, err := deadline.Call(ctx, opts.LLMTimeout, "embed", func(ctx context.Context) ([][]float32, error) {
		return embedder.Embed(ctx, texts)
	})
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(todo) {
		return 0, fmt.Errorf("embed: got %d vectors for %d emails", len(vectors), len(todo))
	}

	now := opts.now().UTC()
	for i, e := range todo {
		if err := store.UpsertEmbedding(&types.Embedding{
			EmailID:   e.ID,
			Model:     opts.EmbeddingModel,
			Vector:    vectors[i],
			CreatedAt: now,
		}); err != nil {
			return i, fmt.Errorf("%w: %w", errStorage, err)
		}
	}
	return len(todo), nil
}
