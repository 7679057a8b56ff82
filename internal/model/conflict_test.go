package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func snapshot(id string, start, end time.Time) EventSnapshot {
	return EventSnapshot{Title: "Standup", StartTime: start, EndTime: end, EventIdentifier: id, IsNew: true}
}

func TestResolutionEqual(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	a := snapshot("evt-1", start, end)
	b := a
	b.Title = "Renamed"
	later := start.Add(time.Hour)

	if !KeepBoth().Equal(KeepBoth()) {
		t.Error("keep_both should equal keep_both")
	}
	if !MoveEvent(a, later).Equal(MoveEvent(b, later)) {
		t.Error("moves with same identifier and start should be equal")
	}
	if MoveEvent(a, later).Equal(MoveEvent(a, later.Add(time.Minute))) {
		t.Error("moves with different starts should differ")
	}
	if !DeleteEvent(a).Equal(DeleteEvent(b)) {
		t.Error("deletes of the same identifier should be equal")
	}
	other := a
	other.EventIdentifier = "evt-2"
	if DeleteEvent(a).Equal(DeleteEvent(other)) {
		t.Error("deletes of different identifiers should differ")
	}
	if DeleteEvent(a).Equal(KeepBoth()) {
		t.Error("different kinds should differ")
	}
}

func TestResolutionNewEndPreservesDuration(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	snap := snapshot("evt-1", start, start.Add(45*time.Minute))
	newStart := time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC)

	got := MoveEvent(snap, newStart).NewEnd()
	want := newStart.Add(45 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("new end = %v, want %v", got, want)
	}
	if !KeepBoth().NewEnd().IsZero() {
		t.Error("keep_both should have no new end")
	}
}

func TestResolutionValidate(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	if err := KeepBoth().Validate(); err != nil {
		t.Errorf("keep_both: %v", err)
	}
	if err := (Resolution{Kind: ResolutionMoveEvent}).Validate(); err == nil {
		t.Error("expected error for move without payload")
	}
	if err := DeleteEvent(EventSnapshot{Title: "x"}).Validate(); err == nil {
		t.Error("expected error for delete without identifier")
	}
	if err := (Resolution{Kind: "snooze"}).Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
	if err := MoveEvent(snapshot("evt-1", start, start), start).Validate(); err != nil {
		t.Errorf("move: %v", err)
	}
}

func TestConflictCloneIsDeep(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	res := DeleteEvent(snapshot("evt-1", start, start.Add(time.Hour)))
	c := Conflict{
		ID:                uuid.New(),
		OriginalEvent:     snapshot("evt-1", start, start.Add(time.Hour)),
		ConflictingEvents: []EventSnapshot{{Title: "1:1", EventIdentifier: "evt-2"}},
		Resolved:          true,
		Resolution:        &res,
	}

	cp := c.Clone()
	cp.ConflictingEvents[0].Title = "changed"
	cp.Resolution.Event.EventIdentifier = "changed"

	if c.ConflictingEvents[0].Title != "1:1" {
		t.Error("clone shares conflicting events with original")
	}
	if c.Resolution.Event.EventIdentifier != "evt-1" {
		t.Error("clone shares resolution with original")
	}
}

func TestConflictJSONKeepsTaggedResolution(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	res := MoveEvent(snapshot("evt-1", start, start.Add(30*time.Minute)), start.Add(2*time.Hour))
	c := Conflict{ID: uuid.New(), Resolved: true, Resolution: &res}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Conflict
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Resolution == nil || !got.Resolution.Equal(res) {
		t.Errorf("resolution = %+v, want %+v", got.Resolution, res)
	}
	if got.ID != c.ID {
		t.Errorf("id = %s, want %s", got.ID, c.ID)
	}
}
