package tasks

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store is the in-memory registry of task records. It is created once per
// process and shared by the scheduler and every status reader. A single
// lock serializes access; each operation applies all of its fields before
// releasing it, so readers never see a partial update.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	entropy io.Reader
	now     func() time.Time
	log     *slog.Logger
}

// NewStore creates an empty store. A nil logger means slog.Default().
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		records: make(map[string]*Record),
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
		log:     log,
	}
}

// Create registers a queued record and returns its id.
func (s *Store) Create(t Type, clientID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	s.records[id.String()] = &Record{
		ID:             id.String(),
		Type:           t,
		ClientID:       clientID,
		Status:         StatusQueued,
		StartTime:      now,
		LastUpdateTime: now,
	}
	return id.String(), nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *r, nil
}

// LatestForClient returns the most recently started record for clientID.
// Records started in the same instant are ordered by id, which is
// time-sortable.
func (s *Store) LatestForClient(clientID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Record
	for _, r := range s.records {
		if r.ClientID != clientID || clientID == "" {
			continue
		}
		if latest == nil || r.StartTime.After(latest.StartTime) ||
			(r.StartTime.Equal(latest.StartTime) && r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return Record{}, fmt.Errorf("%w: no tasks for client %s", ErrNotFound, clientID)
	}
	return *latest, nil
}

// List returns copies of all records, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Update applies a progress update. Updates to terminal records are
// rejected with ErrInvalidTransition. An update that would move
// ProcessedUnits backwards while processing is dropped and logged; it is
// not an error for the caller.
func (s *Store) Update(id string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: update on %s task %s", ErrInvalidTransition, r.Status, id)
	}
	if p.ProcessedUnits != nil && r.Status == StatusProcessing && *p.ProcessedUnits < r.ProcessedUnits {
		s.log.Debug("dropping out-of-order progress update",
			"task", id, "processed", *p.ProcessedUnits, "current", r.ProcessedUnits)
		return nil
	}

	if p.TotalUnits != nil {
		r.TotalUnits = max(*p.TotalUnits, 0)
	}
	if p.ProcessedUnits != nil {
		r.ProcessedUnits = max(*p.ProcessedUnits, 0)
	}
	// Percent never goes backwards, even if the total grows.
	r.ProgressPercent = max(r.ProgressPercent, percent(r.ProcessedUnits, r.TotalUnits))
	r.LastUpdateTime = s.now().UTC()
	return nil
}

// Transition moves a record to a new status.
func (s *Store) Transition(id string, to Status) error {
	return s.transition(id, to, "")
}

// Fail moves a record to failed and records the cause.
func (s *Store) Fail(id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.transition(id, StatusFailed, msg)
}

func (s *Store) transition(id string, to Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !canTransition(r.Status, to) {
		s.log.Warn("rejected task transition", "task", id, "from", r.Status, "to", to)
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, to)
	}

	r.Status = to
	r.LastUpdateTime = s.now().UTC()
	switch to {
	case StatusCompleted:
		r.ProgressPercent = 100
		if r.ProcessedUnits < r.TotalUnits {
			r.ProcessedUnits = r.TotalUnits
		}
	case StatusFailed:
		r.ErrorMessage = errMsg
	}
	return nil
}

// Stale returns processing records that have not been updated within
// window. The store only reports; callers decide what to do about them.
func (s *Store) Stale(window time.Duration) []Record {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.Status == StatusProcessing && r.Age(now) > window {
			out = append(out, *r)
		}
	}
	return out
}

// Evict removes terminal records whose last update is older than ttl and
// returns how many were removed. Queued and processing records are kept.
func (s *Store) Evict(ttl time.Duration) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.records {
		if r.Status.Terminal() && r.Age(now) > ttl {
			delete(s.records, id)
			n++
		}
	}
	if n > 0 {
		s.log.Info("evicted expired task records", "count", n, "ttl", ttl)
	}
	return n
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
