// Package jobs holds the task bodies run by the scheduler: ingesting
// mail, summarizing it and embedding it. Each body is a resumable loop
// that checks for existing work before doing any, so re-queueing a
// failed or overlapping task never duplicates records.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/daviddao/mailreport/internal/deadline"
	"github.com/daviddao/mailreport/internal/gmail"
	"github.com/daviddao/mailreport/internal/llm"
)

// Parameter keys understood by the bodies.
const (
	ParamAccount    = "account"
	ParamAfter      = "after"
	ParamBefore     = "before"
	ParamFrom       = "from"
	ParamLabels     = "labels"
	ParamMaxResults = "max_results"
	ParamAllMail    = "all_mail"
	ParamLimit      = "limit"
)

// DefaultWindow is how far back a first ingestion reaches.
const DefaultWindow = 72 * time.Hour

// maxContentChars bounds the text sent per email to the summarizer and
// the embedder.
const maxContentChars = 8000

// Options are shared by every body.
type Options struct {
	// Limiter paces external calls. Nil means unlimited.
	Limiter      *rate.Limiter
	LLMTimeout   time.Duration
	FetchTimeout time.Duration
	BatchSize    int
	MaxResults   int
	// Window is how far back ingestion reaches when nothing is stored yet.
	Window         time.Duration
	SummaryModel   string
	EmbeddingModel string
	Logger         *slog.Logger
	now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

func (o Options) wait(ctx context.Context) error {
	if o.Limiter == nil {
		return nil
	}
	return o.Limiter.Wait(ctx)
}

// NewLimiter allows perMinute calls a minute with a burst of one batch.
// Zero or less disables limiting.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(burst, 1))
}

// errStorage marks a local persistence failure inside a batch, which
// ends the task like any other storage error.
var errStorage = errors.New("storage")

// fatal reports whether err should end the task rather than skip one
// item. Timeouts and credential failures will not get better on the next
// email.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, errStorage) ||
		errors.Is(err, deadline.ErrTimeout) ||
		errors.Is(err, llm.ErrUnauthorized) ||
		errors.Is(err, gmail.ErrUnauthorized) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
