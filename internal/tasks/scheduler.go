package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned by Queue after Shutdown.
var ErrStopped = errors.New("scheduler stopped")

// Reporter lets a running body publish its progress.
type Reporter interface {
	Report(processed, total int)
}

// Body is the unit of work for one task type. It must be safe to run
// again after a partial failure: already-processed items are skipped,
// not redone.
type Body func(ctx context.Context, params Params, progress Reporter) error

// Options configures a Scheduler. Zero values take the defaults below.
type Options struct {
	// MaxConcurrent bounds how many bodies run at once. Extra tasks stay
	// queued until a slot frees up.
	MaxConcurrent int
	// RecordTTL is how long terminal records are kept after their last update.
	RecordTTL time.Duration
	// StaleAfter is the age at which a processing record is reported as stuck.
	StaleAfter time.Duration
	// SweepInterval is how often expiry and staleness are checked.
	SweepInterval time.Duration
	Logger        *slog.Logger
}

const (
	defaultMaxConcurrent = 4
	defaultRecordTTL     = 24 * time.Hour
	defaultStaleAfter    = 10 * time.Minute
	defaultSweepInterval = time.Minute
)

// Scheduler starts task bodies in the background and records their
// lifecycle in a Store.
type Scheduler struct {
	store  *Store
	opts   Options
	log    *slog.Logger
	sem    *semaphore.Weighted
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	bodies map[Type]Body
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler writing to store.
func NewScheduler(store *Store, opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = defaultRecordTTL
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:  store,
		opts:   opts,
		log:    log,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
		bodies: make(map[Type]Body),
	}
}

// Register sets the body run for tasks of type t.
func (s *Scheduler) Register(t Type, body Body) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[t] = body
}

// Start schedules the periodic maintenance sweep.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.opts.SweepInterval), s.Sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Queue registers a task and starts its body in the background. It
// returns as soon as the record exists; the caller polls Status.
func (s *Scheduler) Queue(t Type, params Params) (string, error) {
	if !IsValidType(t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStopped
	}
	body, ok := s.bodies[t]
	if !ok {
		return "", fmt.Errorf("%w: no body registered for %q", ErrUnknownType, t)
	}

	id, err := s.store.Create(t, params.String(ParamClientID))
	if err != nil {
		return "", err
	}
	s.log.Info("task queued", "task", id, "type", t)

	s.wg.Add(1)
	go s.run(id, t, body, params)
	return id, nil
}

// Status returns the latest committed state of a task.
func (s *Scheduler) Status(taskID string) (Record, error) {
	return s.store.Get(taskID)
}

// StatusForClient returns the latest task started for a client.
func (s *Scheduler) StatusForClient(clientID string) (Record, error) {
	return s.store.LatestForClient(clientID)
}

func (s *Scheduler) run(id string, t Type, body Body, params Params) {
	defer s.wg.Done()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.finish(id, t, fmt.Errorf("%w before task started", ErrStopped))
		return
	}
	defer s.sem.Release(1)

	if err := s.store.Transition(id, StatusProcessing); err != nil {
		s.log.Error("could not start task", "task", id, "error", err)
		return
	}
	s.log.Info("task started", "task", id, "type", t)

	s.finish(id, t, s.invoke(id, body, params))
}

// invoke runs the body, turning a panic into an error so that one bad
// task cannot take the process down.
func (s *Scheduler) invoke(id string, body Body, params Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", "task", id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return body(s.ctx, params, &reporter{store: s.store, id: id})
}

func (s *Scheduler) finish(id string, t Type, err error) {
	if err != nil {
		s.log.Error("task failed", "task", id, "type", t, "error", err)
		if ferr := s.store.Fail(id, err); ferr != nil {
			s.log.Error("could not record task failure", "task", id, "error", ferr)
		}
		return
	}
	if terr := s.store.Transition(id, StatusCompleted); terr != nil {
		s.log.Error("could not complete task", "task", id, "error", terr)
		return
	}
	s.log.Info("task completed", "task", id, "type", t)
}

// Sweep evicts expired terminal records and logs tasks that look stuck.
// Ages are measured on the store's clock.
func (s *Scheduler) Sweep() {
	s.store.Evict(s.opts.RecordTTL)
	now := s.store.now()
	for _, r := range s.store.Stale(s.opts.StaleAfter) {
		s.log.Warn("task has not reported progress", "task", r.ID, "type", r.Type,
			"age", r.Age(now).Round(time.Second), "processed", r.ProcessedUnits, "total", r.TotalUnits)
	}
}

// Shutdown stops accepting tasks and waits for running ones. If ctx ends
// first, running bodies are cancelled and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

type reporter struct {
	store *Store
	id    string
}

func (r *reporter) Report(processed, total int) {
	// A terminal or missing record means the update is moot.
	_ = r.store.Update(r.id, Progress{TotalUnits: &total, ProcessedUnits: &processed})
}
