// Package conflict detects, records and resolves overlapping calendar events.
package conflict

import (
	"context"
	"fmt"

	"github.com/dukerupert/overlap/internal/calendar"
	"github.com/dukerupert/overlap/internal/model"
)

type Detector struct {
	events calendar.EventQuery
}

func NewDetector(events calendar.EventQuery) *Detector {
	return &Detector{events: events}
}

// Detect returns the timed events across all calendars that overlap event.
// The event itself and all-day entries are never reported.
func (d *Detector) Detect(ctx context.Context, event model.CalendarEvent) ([]model.CalendarEvent, error) {
	found, err := d.events.EventsOverlapping(ctx, event.StartTime, event.EndTime, nil)
	if err != nil {
		return nil, fmt.Errorf("query overlapping events: %w", err)
	}

	var overlaps []model.CalendarEvent
	for _, e := range found {
		if e.Identifier == event.Identifier || e.AllDay {
			continue
		}
		if !e.Overlaps(event.StartTime, event.EndTime) {
			continue
		}
		overlaps = append(overlaps, e)
	}
	return overlaps, nil
}
