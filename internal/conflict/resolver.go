package conflict

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukerupert/overlap/internal/calendar"
	"github.com/dukerupert/overlap/internal/model"
)

// Resolver applies a chosen resolution to the calendar store and then marks
// the conflict resolved. Resolutions run one at a time, so two attempts on
// the same conflict cannot both succeed.
type Resolver struct {
	mu     sync.Mutex
	events calendar.EventQuery
	store  *Store
	logger *slog.Logger
}

func NewResolver(events calendar.EventQuery, store *Store, logger *slog.Logger) *Resolver {
	return &Resolver{events: events, store: store, logger: logger}
}

// Resolve applies resolution to conflict. On error the conflict stays
// unresolved and the error is a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, conflict model.Conflict, resolution model.Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.precheck(conflict, resolution)
	if err != nil {
		return err
	}

	mutated := false
	switch resolution.Kind {
	case model.ResolutionKeepBoth:
	case model.ResolutionMoveEvent:
		if err := r.move(ctx, current, resolution); err != nil {
			return err
		}
		mutated = true
	case model.ResolutionDeleteEvent:
		if err := r.delete(ctx, current, resolution); err != nil {
			return err
		}
		mutated = true
	}

	if err := r.store.MarkResolved(ctx, current.ID, resolution); err != nil {
		if !mutated {
			return r.storeError(current, err)
		}
		// The calendar change is user-visible and stays applied; only the
		// local flag is stale.
		r.logger.Error("calendar updated but conflict not marked resolved",
			"conflict_id", current.ID, "resolution", resolution.Kind, "error", err)
		return nil
	}

	r.logger.Info("conflict resolved", "conflict_id", current.ID, "resolution", resolution.Kind)
	return nil
}

func (r *Resolver) precheck(conflict model.Conflict, resolution model.Resolution) (model.Conflict, error) {
	if err := resolution.Validate(); err != nil {
		return conflict, &ResolutionError{Kind: KindInvalidResolution, ConflictID: conflict.ID, Message: err.Error()}
	}

	current, ok := r.store.Get(conflict.ID)
	if !ok {
		return conflict, &ResolutionError{Kind: KindConflictNotFound, ConflictID: conflict.ID, Cause: ErrConflictNotFound}
	}
	if current.Resolved {
		return current, &ResolutionError{Kind: KindAlreadyResolved, ConflictID: conflict.ID, Cause: ErrAlreadyResolved}
	}

	if resolution.Event != nil && resolution.Event.EventIdentifier != current.OriginalEvent.EventIdentifier {
		return current, &ResolutionError{
			Kind:       KindInvalidResolution,
			ConflictID: current.ID,
			Message:    "only the newly created event can be moved or deleted",
		}
	}
	return current, nil
}

func (r *Resolver) move(ctx context.Context, c model.Conflict, resolution model.Resolution) error {
	live, err := r.lookup(ctx, c, resolution.Event.EventIdentifier)
	if err != nil {
		return err
	}

	moved := *live
	moved.StartTime = *resolution.NewStart
	moved.EndTime = resolution.NewEnd()
	if err := r.events.Save(ctx, &moved); err != nil {
		return &ResolutionError{Kind: KindStoreMutationFailed, ConflictID: c.ID, Message: "save moved event", Cause: err}
	}
	return nil
}

func (r *Resolver) delete(ctx context.Context, c model.Conflict, resolution model.Resolution) error {
	live, err := r.lookup(ctx, c, resolution.Event.EventIdentifier)
	if err != nil {
		return err
	}

	if err := r.events.Delete(ctx, live); err != nil {
		return &ResolutionError{Kind: KindStoreMutationFailed, ConflictID: c.ID, Message: "delete event", Cause: err}
	}
	return nil
}

func (r *Resolver) lookup(ctx context.Context, c model.Conflict, identifier string) (*model.CalendarEvent, error) {
	live, err := r.events.Lookup(ctx, identifier)
	if err != nil {
		return nil, &ResolutionError{Kind: KindStoreMutationFailed, ConflictID: c.ID, Message: "look up event", Cause: err}
	}
	if live == nil {
		return nil, &ResolutionError{Kind: KindTargetNotFound, ConflictID: c.ID, Message: identifier}
	}
	return live, nil
}

func (r *Resolver) storeError(c model.Conflict, err error) error {
	kind := KindConflictNotFound
	if errors.Is(err, ErrAlreadyResolved) {
		kind = KindAlreadyResolved
	}
	return &ResolutionError{Kind: kind, ConflictID: c.ID, Cause: err}
}
