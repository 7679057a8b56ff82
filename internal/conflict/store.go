package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/overlap/internal/model"
)

// StateKey is the storage key the conflict list is persisted under.
const StateKey = "conflicts"

// Persister is durable key/value storage for the serialized conflict list.
// Load returns nil data when the key has never been saved.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

// Change actions reported to the change hook.
const (
	ActionRecorded = "recorded"
	ActionResolved = "resolved"
)

// ChangeEvent describes a completed mutation. Conflict is a copy.
type ChangeEvent struct {
	Action   string
	Conflict model.Conflict
}

// Store owns the list of conflicts. Every mutation is serialized by one lock
// and re-persisted before the lock is released; readers get copies.
type Store struct {
	mu        sync.Mutex
	conflicts []model.Conflict
	persist   Persister
	onChange  func(ChangeEvent)
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore loads the persisted list once. onChange may be nil; it is called
// outside the lock after each successful mutation.
func NewStore(ctx context.Context, persist Persister, onChange func(ChangeEvent), logger *slog.Logger) (*Store, error) {
	s := &Store{
		persist:  persist,
		onChange: onChange,
		logger:   logger,
		now:      time.Now,
	}

	data, err := persist.Load(ctx, StateKey)
	if err != nil {
		return nil, fmt.Errorf("load conflicts: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.conflicts); err != nil {
			return nil, fmt.Errorf("decode conflicts: %w", err)
		}
	}
	logger.Debug("conflicts loaded", "count", len(s.conflicts))
	return s, nil
}

// Record appends a new unresolved conflict between original (the new event)
// and conflicting. Identical inputs always produce distinct records.
//
// Record does not fail in normal operation: persistence errors are logged and
// the in-memory record stands. ErrNoConflictingEvents only guards against a
// caller passing an empty overlap list; the coordinator never does.
func (s *Store) Record(ctx context.Context, original model.CalendarEvent, conflicting []model.CalendarEvent) (model.Conflict, error) {
	if len(conflicting) == 0 {
		return model.Conflict{}, ErrNoConflictingEvents
	}

	c := model.Conflict{
		ID:                uuid.New(),
		OriginalEvent:     model.NewSnapshot(original, true),
		ConflictingEvents: make([]model.EventSnapshot, len(conflicting)),
		CreatedAt:         s.now().UTC(),
	}
	for i, e := range conflicting {
		c.ConflictingEvents[i] = model.NewSnapshot(e, false)
	}

	s.mu.Lock()
	s.conflicts = append(s.conflicts, c)
	s.save(ctx)
	s.mu.Unlock()

	s.notify(ActionRecorded, c)
	return c.Clone(), nil
}

// List returns conflicts in insertion order.
func (s *Store) List(unresolvedOnly bool) []model.Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Conflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		if unresolvedOnly && c.Resolved {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

func (s *Store) Get(id uuid.UUID) (model.Conflict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		return s.conflicts[i].Clone(), true
	}
	return model.Conflict{}, false
}

// MarkResolved records the resolution. A resolved conflict never changes again.
func (s *Store) MarkResolved(ctx context.Context, id uuid.UUID, resolution model.Resolution) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	if s.conflicts[i].Resolved {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}

	updated := s.conflicts[i]
	updated.Resolved = true
	updated.Resolution = &resolution
	updated = updated.Clone()
	s.conflicts[i] = updated
	s.save(ctx)
	s.mu.Unlock()

	s.notify(ActionResolved, updated)
	return nil
}

func (s *Store) indexOf(id uuid.UUID) int {
	for i := range s.conflicts {
		if s.conflicts[i].ID == id {
			return i
		}
	}
	return -1
}

// save persists the current list. Failures are logged only: the in-memory
// list stays authoritative for the life of the process. Callers hold s.mu.
func (s *Store) save(ctx context.Context) {
	data, err := json.Marshal(s.conflicts)
	if err != nil {
		s.logger.Error("encode conflicts", "error", err)
		return
	}
	if err := s.persist.Save(context.WithoutCancel(ctx), StateKey, data); err != nil {
		s.logger.Error("persist conflicts", "error", err, "count", len(s.conflicts))
	}
}

func (s *Store) notify(action string, c model.Conflict) {
	if s.onChange == nil {
		return
	}
	s.onChange(ChangeEvent{Action: action, Conflict: c.Clone()})
}
