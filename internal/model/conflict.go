package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventSnapshot is an immutable copy of the event fields a conflict needs
// after the live event may be gone.
type EventSnapshot struct {
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	CalendarName    string    `json:"calendar_name,omitempty"`
	EventIdentifier string    `json:"event_identifier,omitempty"`
	IsNew           bool      `json:"is_new"`
}

// NewSnapshot copies e. isNew marks the snapshot of the newly created event.
func NewSnapshot(e CalendarEvent, isNew bool) EventSnapshot {
	return EventSnapshot{
		Title:           e.Title,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		CalendarName:    e.CalendarName,
		EventIdentifier: e.Identifier,
		IsNew:           isNew,
	}
}

func (s EventSnapshot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

type ResolutionKind string

const (
	ResolutionKeepBoth    ResolutionKind = "keep_both"
	ResolutionMoveEvent   ResolutionKind = "move_event"
	ResolutionDeleteEvent ResolutionKind = "delete_event"
)

// Resolution is the outcome chosen for a conflict. Kind selects the variant;
// Event is set for move and delete, NewStart only for move.
type Resolution struct {
	Kind     ResolutionKind `json:"kind"`
	Event    *EventSnapshot `json:"event,omitempty"`
	NewStart *time.Time     `json:"new_start,omitempty"`
}

func KeepBoth() Resolution {
	return Resolution{Kind: ResolutionKeepBoth}
}

func MoveEvent(event EventSnapshot, newStart time.Time) Resolution {
	return Resolution{Kind: ResolutionMoveEvent, Event: &event, NewStart: &newStart}
}

func DeleteEvent(event EventSnapshot) Resolution {
	return Resolution{Kind: ResolutionDeleteEvent, Event: &event}
}

// Validate checks that the payload matches the kind.
func (r Resolution) Validate() error {
	switch r.Kind {
	case ResolutionKeepBoth:
		return nil
	case ResolutionMoveEvent:
		if r.Event == nil || r.NewStart == nil {
			return errors.New("move_event requires an event and a new start")
		}
	case ResolutionDeleteEvent:
		if r.Event == nil {
			return errors.New("delete_event requires an event")
		}
	default:
		return fmt.Errorf("unknown resolution kind %q", r.Kind)
	}
	if r.Event.EventIdentifier == "" {
		return fmt.Errorf("%s requires an event identifier", r.Kind)
	}
	return nil
}

// NewEnd returns the end time of a moved event, preserving its original
// duration. It is the zero time for other kinds.
func (r Resolution) NewEnd() time.Time {
	if r.Kind != ResolutionMoveEvent || r.Event == nil || r.NewStart == nil {
		return time.Time{}
	}
	return r.NewStart.Add(r.Event.Duration())
}

// Equal compares moves by (event identifier, new start) and deletes by event
// identifier.
func (r Resolution) Equal(o Resolution) bool {
	if r.Kind != o.Kind {
		return false
	}
	switch r.Kind {
	case ResolutionMoveEvent:
		return r.targetID() == o.targetID() && sameTime(r.NewStart, o.NewStart)
	case ResolutionDeleteEvent:
		return r.targetID() == o.targetID()
	default:
		return true
	}
}

func (r Resolution) targetID() string {
	if r.Event == nil {
		return ""
	}
	return r.Event.EventIdentifier
}

func (r Resolution) clone() *Resolution {
	out := Resolution{Kind: r.Kind}
	if r.Event != nil {
		ev := *r.Event
		out.Event = &ev
	}
	if r.NewStart != nil {
		t := *r.NewStart
		out.NewStart = &t
	}
	return &out
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Conflict records that a newly created event overlaps existing ones.
type Conflict struct {
	ID                uuid.UUID       `json:"id"`
	OriginalEvent     EventSnapshot   `json:"original_event"`
	ConflictingEvents []EventSnapshot `json:"conflicting_events"`
	CreatedAt         time.Time       `json:"created_at"`
	Resolved          bool            `json:"resolved"`
	Resolution        *Resolution     `json:"resolution,omitempty"`
}

// Clone returns a deep copy that shares no memory with c.
func (c Conflict) Clone() Conflict {
	out := c
	out.ConflictingEvents = append([]EventSnapshot(nil), c.ConflictingEvents...)
	if c.Resolution != nil {
		out.Resolution = c.Resolution.clone()
	}
	return out
}

// ConflictingTitles lists the titles of the overlapped events in order.
func (c Conflict) ConflictingTitles() []string {
	titles := make([]string, len(c.ConflictingEvents))
	for i, e := range c.ConflictingEvents {
		titles[i] = e.Title
	}
	return titles
}
