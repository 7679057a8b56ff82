package conflict

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/overlap/internal/model"
)

type resolverFixture struct {
	events   *fakeEvents
	store    *Store
	resolver *Resolver
	conflict model.Conflict
}

func setupResolver(t *testing.T) resolverFixture {
	t.Helper()
	original := event("new", "Standup", at(9, 0), at(9, 30))
	existing := event("old", "1:1", at(9, 15), at(9, 45))
	events := newFakeEvents(original, existing)

	s := newTestStore(t, newMemPersister())
	c, err := s.Record(context.Background(), original, []model.CalendarEvent{existing})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return resolverFixture{
		events:   events,
		store:    s,
		resolver: NewResolver(events, s, slog.Default()),
		conflict: c,
	}
}

func (f resolverFixture) resolved(t *testing.T) model.Conflict {
	t.Helper()
	c, ok := f.store.Get(f.conflict.ID)
	if !ok {
		t.Fatal("conflict missing from store")
	}
	return c
}

func TestResolveKeepBoth(t *testing.T) {
	f := setupResolver(t)

	if err := f.resolver.Resolve(context.Background(), f.conflict, model.KeepBoth()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	c := f.resolved(t)
	if !c.Resolved || c.Resolution == nil || c.Resolution.Kind != model.ResolutionKeepBoth {
		t.Errorf("conflict = %+v, want resolved keep_both", c)
	}
	if f.events.saves != 0 || f.events.deletes != 0 {
		t.Errorf("saves=%d deletes=%d, want no mutation", f.events.saves, f.events.deletes)
	}
	for _, id := range []string{"new", "old"} {
		e, ok := f.events.get(id)
		if !ok {
			t.Fatalf("event %s missing", id)
		}
		if id == "new" && !e.StartTime.Equal(at(9, 0)) {
			t.Errorf("event %s moved to %v", id, e.StartTime)
		}
	}
}

func TestResolveMovePreservesDuration(t *testing.T) {
	f := setupResolver(t)
	newStart := at(14, 0)

	err := f.resolver.Resolve(context.Background(), f.conflict, model.MoveEvent(f.conflict.OriginalEvent, newStart))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	moved, _ := f.events.get("new")
	if !moved.StartTime.Equal(newStart) {
		t.Errorf("start = %v, want %v", moved.StartTime, newStart)
	}
	if want := newStart.Add(30 * time.Minute); !moved.EndTime.Equal(want) {
		t.Errorf("end = %v, want %v", moved.EndTime, want)
	}
	if c := f.resolved(t); !c.Resolved || c.Resolution.Kind != model.ResolutionMoveEvent {
		t.Errorf("conflict = %+v, want resolved move", c)
	}
}

func TestResolveDelete(t *testing.T) {
	f := setupResolver(t)

	if err := f.resolver.Resolve(context.Background(), f.conflict, model.DeleteEvent(f.conflict.OriginalEvent)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := f.events.get("new"); ok {
		t.Error("new event should be deleted")
	}
	if _, ok := f.events.get("old"); !ok {
		t.Error("existing event should remain")
	}
	if c := f.resolved(t); !c.Resolved {
		t.Error("conflict should be resolved")
	}
}

func TestResolveTargetNotFound(t *testing.T) {
	f := setupResolver(t)
	f.events.Delete(context.Background(), &model.CalendarEvent{Identifier: "new"})

	for _, res := range []model.Resolution{
		model.MoveEvent(f.conflict.OriginalEvent, at(14, 0)),
		model.DeleteEvent(f.conflict.OriginalEvent),
	} {
		err := f.resolver.Resolve(context.Background(), f.conflict, res)
		if !errors.Is(err, ErrTargetNotFound) {
			t.Errorf("%s err = %v, want ErrTargetNotFound", res.Kind, err)
		}
	}
	if c := f.resolved(t); c.Resolved {
		t.Error("conflict should stay unresolved")
	}
}

func TestResolveStoreFailureLeavesUnresolved(t *testing.T) {
	f := setupResolver(t)
	cause := errors.New("calendar locked")
	f.events.saveErr = cause
	f.events.deleteErr = cause

	err := f.resolver.Resolve(context.Background(), f.conflict, model.MoveEvent(f.conflict.OriginalEvent, at(14, 0)))
	if !errors.Is(err, ErrStoreMutationFailed) {
		t.Errorf("move err = %v, want ErrStoreMutationFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("move err = %v, want it to wrap the cause", err)
	}

	err = f.resolver.Resolve(context.Background(), f.conflict, model.DeleteEvent(f.conflict.OriginalEvent))
	if !errors.Is(err, ErrStoreMutationFailed) {
		t.Errorf("delete err = %v, want ErrStoreMutationFailed", err)
	}

	if c := f.resolved(t); c.Resolved {
		t.Error("conflict should stay unresolved")
	}

	// The user can retry once the store recovers.
	f.events.saveErr = nil
	if err := f.resolver.Resolve(context.Background(), f.conflict, model.MoveEvent(f.conflict.OriginalEvent, at(14, 0))); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestResolveKeepsMoveWhenMarkResolvedFails(t *testing.T) {
	f := setupResolver(t)
	// Another writer resolves the conflict between the calendar change and
	// the resolver's own MarkResolved.
	f.events.afterMutate = func() {
		if err := f.store.MarkResolved(context.Background(), f.conflict.ID, model.KeepBoth()); err != nil {
			t.Errorf("concurrent mark resolved: %v", err)
		}
	}
	newStart := at(14, 0)

	err := f.resolver.Resolve(context.Background(), f.conflict, model.MoveEvent(f.conflict.OriginalEvent, newStart))
	if err != nil {
		t.Fatalf("resolve = %v, want nil once the calendar was updated", err)
	}

	moved, _ := f.events.get("new")
	if !moved.StartTime.Equal(newStart) {
		t.Errorf("start = %v, want %v (no rollback)", moved.StartTime, newStart)
	}
	c := f.resolved(t)
	if !c.Resolved || c.Resolution == nil || c.Resolution.Kind != model.ResolutionKeepBoth {
		t.Errorf("resolution = %+v, want the earlier keep_both left in place", c.Resolution)
	}
}

func TestResolveKeepsDeleteWhenMarkResolvedFails(t *testing.T) {
	f := setupResolver(t)
	f.events.afterMutate = func() {
		if err := f.store.MarkResolved(context.Background(), f.conflict.ID, model.KeepBoth()); err != nil {
			t.Errorf("concurrent mark resolved: %v", err)
		}
	}

	if err := f.resolver.Resolve(context.Background(), f.conflict, model.DeleteEvent(f.conflict.OriginalEvent)); err != nil {
		t.Fatalf("resolve = %v, want nil once the calendar was updated", err)
	}

	if _, ok := f.events.get("new"); ok {
		t.Error("deleted event was restored")
	}
	if c := f.resolved(t); c.Resolution == nil || c.Resolution.Kind != model.ResolutionKeepBoth {
		t.Errorf("resolution = %+v, want keep_both", c.Resolution)
	}
}

func TestResolveRejectsExistingEventAsTarget(t *testing.T) {
	f := setupResolver(t)

	err := f.resolver.Resolve(context.Background(), f.conflict, model.DeleteEvent(f.conflict.ConflictingEvents[0]))
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("err = %v, want ErrInvalidResolution", err)
	}
	if f.events.deletes != 0 {
		t.Error("existing event should not be touched")
	}
}

func TestResolveTwiceOnlyFirstWins(t *testing.T) {
	f := setupResolver(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.resolver.Resolve(context.Background(), f.conflict, model.DeleteEvent(f.conflict.OriginalEvent))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var re *ResolutionError
		if !errors.As(err, &re) || re.Kind != KindAlreadyResolved {
			t.Errorf("err = %v, want already_resolved", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d resolutions succeeded, want 1", succeeded)
	}
	if f.events.deletes != 1 {
		t.Errorf("deletes = %d, want 1", f.events.deletes)
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	f := setupResolver(t)
	other := f.conflict
	other.ID[0] ^= 0xff

	err := f.resolver.Resolve(context.Background(), other, model.KeepBoth())
	if !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("err = %v, want ErrConflictNotFound", err)
	}
}
