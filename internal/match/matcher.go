// Package match resolves a parsed hint to exactly one calendar event.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/overlap/internal/calendar"
	"github.com/dukerupert/overlap/internal/model"
)

// Tolerance absorbs clock and precision skew between sender and store. It is
// strict: a difference of exactly Tolerance does not match.
const Tolerance = 2 * time.Second

type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindAmbiguous   Kind = "ambiguous"
	KindNoCalendars Kind = "no_calendars"
)

var (
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrAmbiguous   = &Error{Kind: KindAmbiguous}
	ErrNoCalendars = &Error{Kind: KindNoCalendars}
)

// Error is an expected, non-fatal match outcome.
type Error struct {
	Kind       Kind
	Candidates []string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAmbiguous:
		return fmt.Sprintf("match: %d candidate events: %s", len(e.Candidates), strings.Join(e.Candidates, ", "))
	case KindNoCalendars:
		return "match: no calendars available"
	default:
		return "match: no matching event"
	}
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

type Matcher struct {
	events calendar.EventQuery
	loc    *time.Location
	logger *slog.Logger
}

// NewMatcher returns a Matcher that computes day boundaries in loc.
func NewMatcher(events calendar.EventQuery, loc *time.Location, logger *slog.Logger) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{events: events, loc: loc, logger: logger}
}

// Match returns the single event the hint refers to. It never guesses between
// duplicates: two qualifying events yield an ambiguous error.
func (m *Matcher) Match(ctx context.Context, h model.ParsedEventHint) (*model.CalendarEvent, error) {
	from, to := calendar.DayWindow(h.StartTime, h.EndTime, m.loc)

	scope, err := m.scope(ctx, h.CalendarNameHint)
	if err != nil {
		return nil, err
	}

	events, err := m.events.EventsOverlapping(ctx, from, to, scope)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var candidates []model.CalendarEvent
	for _, e := range events {
		if e.Title == h.Title && within(e.StartTime, h.StartTime) && within(e.EndTime, h.EndTime) {
			candidates = append(candidates, e)
		}
	}

	switch len(candidates) {
	case 0:
		m.logger.Debug("no event matches hint", "external_id", h.ExternalID, "searched", len(events))
		return nil, &Error{Kind: KindNotFound}
	case 1:
		return &candidates[0], nil
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.Identifier
		}
		m.logger.Info("hint matches several events", "external_id", h.ExternalID, "candidates", ids)
		return nil, &Error{Kind: KindAmbiguous, Candidates: ids}
	}
}

// scope returns the calendar names to search. A hint that names no existing
// calendar widens the search to every calendar.
func (m *Matcher) scope(ctx context.Context, hint string) ([]string, error) {
	cals, err := m.events.Calendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	var all, named []string
	for _, c := range cals {
		all = append(all, c.Name)
		if hint != "" && c.Name == hint {
			named = append(named, c.Name)
		}
	}

	if hint != "" {
		if len(named) > 0 {
			return named, nil
		}
		m.logger.Info("calendar hint matched no calendar, searching all", "calendar_hint", hint)
	}
	if len(all) == 0 {
		return nil, &Error{Kind: KindNoCalendars}
	}
	return all, nil
}

func within(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < Tolerance
}
