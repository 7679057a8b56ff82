// Package calendar defines the capability the conflict engine needs from a
// calendar store.
package calendar

import (
	"context"
	"time"

	"github.com/dukerupert/overlap/internal/model"
)

// EventQuery lists and mutates events in the underlying calendar store. It is
// the only path by which the engine touches calendar data.
type EventQuery interface {
	// EventsOverlapping returns events intersecting [start, end). A nil or
	// empty calendars slice searches every calendar.
	EventsOverlapping(ctx context.Context, start, end time.Time, calendars []string) ([]model.CalendarEvent, error)
	// Lookup returns nil, nil when no event has the identifier.
	Lookup(ctx context.Context, identifier string) (*model.CalendarEvent, error)
	Save(ctx context.Context, event *model.CalendarEvent) error
	Delete(ctx context.Context, event *model.CalendarEvent) error
	Calendars(ctx context.Context) ([]model.Calendar, error)
}

// DayWindow widens [start, end] to whole days in loc: from midnight of the day
// containing start to midnight after the day containing end.
func DayWindow(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	s := start.In(loc)
	e := end.In(loc)
	from := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	to := time.Date(e.Year(), e.Month(), e.Day()+1, 0, 0, 0, 0, loc)
	return from, to
}
