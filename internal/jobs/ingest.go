package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/daviddao/mailreport/internal/deadline"
	"github.com/daviddao/mailreport/internal/gmail"
	"github.com/daviddao/mailreport/internal/tasks"
	"github.com/daviddao/mailreport/internal/types"
)

// EmailSource lists and reads one account's mail.
type EmailSource interface {
	ListMessageIDs(ctx context.Context, r gmail.DateRange, f gmail.Filters, maxResults int) ([]string, error)
	FetchEmail(ctx context.Context, id string) (*types.Email, error)
}

// SourceFunc opens the email source for an account.
type SourceFunc func(ctx context.Context, account string) (EmailSource, error)

// IngestStore is the persistence the ingestion body needs.
type IngestStore interface {
	EmailExists(id string) (bool, error)
	UpsertEmail(e *types.Email) error
	LatestEmailDate(account string) (time.Time, error)
}

// Ingest returns the body for tasks.TypeIngestEmails. It lists every
// message in the requested window, then reads and stores the oldest ones
// not already stored, at most max_results per run.
//
// Mail is stored strictly oldest first and the run stops at the first
// message it cannot read, so everything older than the newest stored
// email is always present. The next run resumes from that email.
func Ingest(store IngestStore, sources SourceFunc, opts Options) tasks.Body {
	opts = opts.withDefaults()
	log := opts.Logger

	return func(ctx context.Context, params tasks.Params, progress tasks.Reporter) error {
		account := params.String(ParamAccount)
		if account == "" {
			return errors.New("ingest: account is required")
		}
		r, f, maxResults, err := ingestQuery(store, params, opts)
		if err != nil {
			return err
		}

		src, err := sources(ctx, account)
		if err != nil {
			return fmt.Errorf("open mailbox %s: %w", account, err)
		}

		if err := opts.wait(ctx); err != nil {
			return err
		}
		// The cap applies after ordering; listing is never truncated.
		ids, err := deadline.Call(ctx, opts.FetchTimeout, "list messages", func(ctx context.Context) ([]string, error) {
			return src.ListMessageIDs(ctx, r, f, 0)
		})
		if err != nil {
			return err
		}
		// Gmail lists newest first.
		slices.Reverse(ids)

		res := types.SyncResult{Account: account}
		pending, err := unstored(store, ids, maxResults, &res)
		if err != nil {
			return err
		}

		progress.Report(0, len(pending))
		for i, id := range pending {
			if err := ingestOne(ctx, store, src, opts, id, account); err != nil {
				log.Warn("ingestion stopped", "account", account, "id", id,
					"fetched", res.Fetched, "remaining", len(pending)-i, "error", err)
				return err
			}
			res.Fetched++
			progress.Report(i+1, len(pending))
		}

		log.Info("ingestion finished", "account", account,
			"listed", len(ids), "fetched", res.Fetched, "skipped", res.Skipped,
			"deferred", len(ids)-res.Skipped-res.Fetched)
		return nil
	}
}

// unstored keeps the ids not yet in the store, in order, up to limit
// (zero for no limit).
func unstored(store IngestStore, ids []string, limit int, res *types.SyncResult) ([]string, error) {
	var pending []string
	for _, id := range ids {
		exists, err := store.EmailExists(id)
		if err != nil {
			return nil, err
		}
		if exists {
			res.Skipped++
			continue
		}
		if limit > 0 && len(pending) == limit {
			break
		}
		pending = append(pending, id)
	}
	return pending, nil
}

func ingestOne(ctx context.Context, store IngestStore, src EmailSource, opts Options, id, account string) error {
	if err := opts.wait(ctx); err != nil {
		return err
	}
	e, err := deadline.Call(ctx, opts.FetchTimeout, "fetch message "+id, func(ctx context.Context) (*types.Email, error) {
		return src.FetchEmail(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("ingest %s: %w", id, err)
	}

	e.Account = account
	return store.UpsertEmail(e)
}

// ingestQuery resolves the window and filters. Without an explicit
// start, ingestion resumes from the newest stored email, or reaches back
// opts.Window when the account is empty.
func ingestQuery(store IngestStore, params tasks.Params, opts Options) (gmail.DateRange, gmail.Filters, int, error) {
	var r gmail.DateRange
	after, err := params.Time(ParamAfter)
	if err != nil {
		return r, gmail.Filters{}, 0, err
	}
	before, err := params.Time(ParamBefore)
	if err != nil {
		return r, gmail.Filters{}, 0, err
	}
	maxResults, err := params.Int(ParamMaxResults, opts.MaxResults)
	if err != nil {
		return r, gmail.Filters{}, 0, err
	}

	if after.IsZero() {
		latest, err := store.LatestEmailDate(params.String(ParamAccount))
		if err != nil {
			return r, gmail.Filters{}, 0, err
		}
		after = latest
		if after.IsZero() {
			after = opts.now().Add(-opts.Window)
		}
	}
	r = gmail.DateRange{After: after, Before: before}

	f := gmail.Filters{
		From:      params.String(ParamFrom),
		Labels:    params.List(ParamLabels),
		InboxOnly: params.String(ParamAllMail) != "true",
	}
	return r, f, maxResults, nil
}
