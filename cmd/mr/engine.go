package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/mailreport/internal/db"
	"github.com/daviddao/mailreport/internal/jobs"
	"github.com/daviddao/mailreport/internal/llm"
	"github.com/daviddao/mailreport/internal/tasks"
)

// engine is the in-process task runner shared by the job commands.
type engine struct {
	tasks *tasks.Store
	sched *tasks.Scheduler
}

// newEngine builds the scheduler and registers the bodies that can run
// with what is configured. Ingestion needs a project root for account
// credentials; summarizing and embedding need an API key.
func newEngine(credentials string) (*engine, error) {
	ts := tasks.NewStore(logger)
	sched := tasks.NewScheduler(ts, tasks.Options{
		MaxConcurrent: cfg.Tasks.MaxConcurrent,
		RecordTTL:     cfg.Tasks.RecordTTL(),
		StaleAfter:    cfg.Tasks.StaleAfter(),
		SweepInterval: cfg.Tasks.SweepInterval(),
		Logger:        logger,
	})

	opts := jobs.Options{
		Limiter:        jobs.NewLimiter(cfg.External.RequestsPerMinute, cfg.External.BatchSize),
		LLMTimeout:     cfg.External.LLMTimeout(),
		FetchTimeout:   cfg.External.FetchTimeout(),
		BatchSize:      cfg.External.BatchSize,
		MaxResults:     cfg.External.MaxResults,
		SummaryModel:   cfg.SummaryModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Logger:         logger,
	}

	if root := db.FindProjectRoot(); root != "" {
		sched.Register(tasks.TypeIngestEmails, jobs.Ingest(store, gmailSource(root, credentials), opts))
	}
	if client := openAI(); client != nil {
		sched.Register(tasks.TypeSummarizeEmails, jobs.Summarize(store, client, opts))
		sched.Register(tasks.TypeGenerateEmbeddings, jobs.Embed(store, client, opts))
	}

	if err := sched.Start(); err != nil {
		return nil, err
	}
	return &engine{tasks: ts, sched: sched}, nil
}

// openAI returns nil when no API key is set.
func openAI() *llm.OpenAI {
	key := cfg.APIKey()
	if key == "" {
		return nil
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:          key,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		SummaryModel:    cfg.SummaryModel,
		EmbeddingModel:  cfg.EmbeddingModel,
		MaxReportTokens: cfg.OutputReservationTokens,
	})
}

// queue starts a task, explaining the usual reason a body is missing.
func (e *engine) queue(t tasks.Type, params tasks.Params) (string, error) {
	id, err := e.sched.Queue(t, params)
	if errors.Is(err, tasks.ErrUnknownType) {
		if t == tasks.TypeIngestEmails {
			return "", fmt.Errorf("%w: no project root (no .git directory)", err)
		}
		return "", fmt.Errorf("%w: set %s to enable it", err, cfg.APIKeyEnv)
	}
	return id, err
}

// close waits for running tasks. An interrupt cancels them.
func (e *engine) close(ctx context.Context) error {
	return e.sched.Shutdown(ctx)
}

// watch polls the records until every id is terminal, calling draw on
// each tick with the current snapshots in queue order.
func (e *engine) watch(ctx context.Context, ids []string, every time.Duration, draw func([]tasks.Record)) []tasks.Record {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	for {
		all := e.tasks.List()
		recs := make([]tasks.Record, 0, len(ids))
		done := true
		// List is newest first; ids are time-ordered, so walk it backwards.
		for i := len(all) - 1; i >= 0; i-- {
			r := all[i]
			if !want[r.ID] {
				continue
			}
			recs = append(recs, r)
			done = done && r.Status.Terminal()
		}
		if draw != nil {
			draw(recs)
		}
		if done {
			return recs
		}

		select {
		case <-ctx.Done():
			return recs
		case <-ticker.C:
		}
	}
}
