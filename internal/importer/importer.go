// Package importer loads iCalendar (.ics) files into the calendar store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	ics "github.com/emersion/go-ical"

	"github.com/dukerupert/overlap/internal/model"
	"github.com/dukerupert/overlap/internal/recurrence"
)

// DefaultHorizon is how far past its first occurrence a recurring event is
// expanded.
const DefaultHorizon = 180 * 24 * time.Hour

// occurrenceLayout stamps occurrence identifiers, as in RECURRENCE-ID.
const occurrenceLayout = "20060102T150405Z"

// EventWriter is the part of the calendar store the importer needs.
type EventWriter interface {
	Create(ctx context.Context, e model.CalendarEvent) (*model.CalendarEvent, error)
}

// Result counts what one import did. Imported includes every stored
// occurrence of a recurring event.
type Result struct {
	Imported  int `json:"imported"`
	Skipped   int `json:"skipped"`
	Recurring int `json:"recurring"`
}

type Importer struct {
	events  EventWriter
	loc     *time.Location
	horizon time.Duration
	logger  *slog.Logger
}

// New returns an Importer that reads floating times and dates in loc.
func New(events EventWriter, loc *time.Location, logger *slog.Logger) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	return &Importer{events: events, loc: loc, horizon: DefaultHorizon, logger: logger}
}

// WithHorizon returns a copy that expands recurring events over d instead.
func (im *Importer) WithHorizon(d time.Duration) *Importer {
	c := *im
	if d > 0 {
		c.horizon = d
	}
	return &c
}

// OccurrenceID names one occurrence of the recurring event uid. The first
// occurrence keeps the plain UID.
func OccurrenceID(uid string, start, first time.Time) string {
	if start.Equal(first) {
		return uid
	}
	return uid + "#" + start.UTC().Format(occurrenceLayout)
}

// Import stores every VEVENT in r under calendar, replacing events with the
// same identifier. Recurring events are expanded over the horizon; overridden
// occurrences (RECURRENCE-ID) replace the generated ones.
func (im *Importer) Import(ctx context.Context, r io.Reader, calendar string) (Result, error) {
	var res Result
	if strings.TrimSpace(calendar) == "" {
		return res, errors.New("calendar name is required")
	}

	dec := ics.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("decode calendar: %w", err)
		}

		events, recurring := im.collect(cal)
		for _, c := range events {
			stored, err := im.store(ctx, c, calendar, recurring)
			if err != nil {
				var skip *skipError
				if errors.As(err, &skip) {
					im.logger.Warn("skipping event", "error", err)
					res.Skipped++
					continue
				}
				return res, err
			}
			if c.Props.Get(ics.PropRecurrenceRule) != nil {
				res.Recurring++
			}
			res.Imported += stored
		}
	}

	im.logger.Info("calendar imported", "calendar", calendar,
		"imported", res.Imported, "skipped", res.Skipped, "recurring", res.Recurring)
	return res, nil
}

// series tracks one recurring UID across the VEVENTs that share it.
type series struct {
	first      time.Time
	overridden []time.Time
}

// collect returns the VEVENTs in cal along with the recurring series they
// describe. Overrides (RECURRENCE-ID) are stored as events of their own and
// suppress the generated occurrence they replace.
func (im *Importer) collect(cal *ics.Calendar) ([]*ics.Component, map[string]*series) {
	var events []*ics.Component
	all := make(map[string]*series)
	get := func(uid string) *series {
		if all[uid] == nil {
			all[uid] = &series{}
		}
		return all[uid]
	}

	for _, child := range cal.Children {
		if child.Name != ics.CompEvent {
			continue
		}
		events = append(events, child)

		uid := child.Props.Get(ics.PropUID)
		if uid == nil {
			continue
		}
		key := strings.TrimSpace(uid.Value)

		if rid := child.Props.Get(ics.PropRecurrenceID); rid != nil {
			t, _, err := im.parseTime(rid)
			if err != nil {
				im.logger.Warn("ignoring RECURRENCE-ID", "uid", key, "error", err)
				continue
			}
			s := get(key)
			s.overridden = append(s.overridden, t)
			continue
		}
		if dtstart := child.Props.Get(ics.PropDateTimeStart); dtstart != nil && child.Props.Get(ics.PropRecurrenceRule) != nil {
			if t, _, err := im.parseTime(dtstart); err == nil {
				get(key).first = t
			}
		}
	}
	return events, all
}

// skipError marks a VEVENT that is left out without failing the import.
type skipError struct {
	msg string
}

func (e *skipError) Error() string { return e.msg }

func skipf(format string, args ...any) error {
	return &skipError{msg: fmt.Sprintf(format, args...)}
}

// store writes one VEVENT and returns how many events it produced.
func (im *Importer) store(ctx context.Context, c *ics.Component, calendar string, recurring map[string]*series) (int, error) {
	e, err := im.convert(c, calendar)
	if err != nil {
		return 0, err
	}
	s := recurring[e.Identifier]
	if s == nil {
		s = &series{}
	}

	if rid := c.Props.Get(ics.PropRecurrenceID); rid != nil {
		at, _, err := im.parseTime(rid)
		if err != nil {
			return 0, skipf("event %s RECURRENCE-ID: %v", e.Identifier, err)
		}
		e.Identifier = OccurrenceID(e.Identifier, at, s.first)
		return 1, im.create(ctx, e)
	}

	rrule := c.Props.Get(ics.PropRecurrenceRule)
	if rrule == nil {
		return 1, im.create(ctx, e)
	}

	rule, err := recurrence.Parse(rrule.Value, im.loc)
	if err != nil {
		im.logger.Warn("unsupported recurrence, importing first occurrence only",
			"uid", e.Identifier, "rrule", rrule.Value, "error", err)
		return 1, im.create(ctx, e)
	}

	except := append(im.exceptions(c), s.overridden...)
	first := recurrence.Span{Start: e.StartTime, End: e.EndTime}
	window := recurrence.Span{Start: e.StartTime, End: e.StartTime.Add(im.horizon)}
	occurrences := recurrence.Expand(rule, first, window, except...)

	im.logger.Debug("expanding recurring event", "uid", e.Identifier,
		"rule", rule.String(), "occurrences", len(occurrences))
	for _, occ := range occurrences {
		o := e
		o.Identifier = OccurrenceID(e.Identifier, occ.Start, e.StartTime)
		o.StartTime = occ.Start
		o.EndTime = occ.End
		if err := im.create(ctx, o); err != nil {
			return 0, err
		}
	}
	return len(occurrences), nil
}

func (im *Importer) create(ctx context.Context, e model.CalendarEvent) error {
	if _, err := im.events.Create(ctx, e); err != nil {
		return fmt.Errorf("store event %s: %w", e.Identifier, err)
	}
	return nil
}

// exceptions reads every EXDATE value, including comma-separated lists.
func (im *Importer) exceptions(c *ics.Component) []time.Time {
	var out []time.Time
	for _, p := range c.Props.Values(ics.PropExceptionDates) {
		for _, v := range strings.Split(p.Value, ",") {
			single := p
			single.Value = v
			t, _, err := im.parseTime(&single)
			if err != nil {
				im.logger.Warn("ignoring EXDATE", "value", v, "error", err)
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

func (im *Importer) convert(c *ics.Component, calendar string) (model.CalendarEvent, error) {
	e := model.CalendarEvent{CalendarName: calendar}

	uid := c.Props.Get(ics.PropUID)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return e, skipf("event has no UID")
	}
	e.Identifier = strings.TrimSpace(uid.Value)

	if status := c.Props.Get(ics.PropStatus); status != nil && strings.EqualFold(status.Value, "CANCELLED") {
		return e, skipf("event %s is cancelled", e.Identifier)
	}
	if summary := c.Props.Get(ics.PropSummary); summary != nil {
		e.Title = summary.Value
	}

	dtstart := c.Props.Get(ics.PropDateTimeStart)
	if dtstart == nil {
		return e, skipf("event %s has no DTSTART", e.Identifier)
	}
	start, allDay, err := im.parseTime(dtstart)
	if err != nil {
		return e, skipf("event %s DTSTART: %v", e.Identifier, err)
	}
	e.StartTime = start
	e.AllDay = allDay

	switch {
	case c.Props.Get(ics.PropDateTimeEnd) != nil:
		end, _, err := im.parseTime(c.Props.Get(ics.PropDateTimeEnd))
		if err != nil {
			return e, skipf("event %s DTEND: %v", e.Identifier, err)
		}
		e.EndTime = end
	case c.Props.Get(ics.PropDuration) != nil:
		d, err := c.Props.Get(ics.PropDuration).Duration()
		if err != nil {
			return e, skipf("event %s DURATION: %v", e.Identifier, err)
		}
		e.EndTime = start.Add(d)
	case allDay:
		e.EndTime = start.AddDate(0, 0, 1)
	default:
		e.EndTime = start
	}

	if e.EndTime.Before(e.StartTime) {
		return e, skipf("event %s ends before it starts", e.Identifier)
	}
	return e, nil
}

// parseTime reads a DATE or DATE-TIME property. Bare eight-digit values are
// treated as dates even without VALUE=DATE.
func (im *Importer) parseTime(p *ics.Prop) (time.Time, bool, error) {
	v := strings.TrimSpace(p.Value)
	if p.ValueType() == ics.ValueDate || len(v) == len("20060102") {
		t, err := time.ParseInLocation("20060102", v, im.loc)
		return t, true, err
	}
	t, err := p.DateTime(im.loc)
	return t, false, err
}
