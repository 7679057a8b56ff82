package model

import "time"

type Calendar struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CalendarEvent is a live event owned by the calendar store. The engine only
// holds read copies; mutations go back through the store.
type CalendarEvent struct {
	Identifier   string    `json:"identifier"`
	Title        string    `json:"title"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	AllDay       bool      `json:"all_day"`
	CalendarName string    `json:"calendar_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Overlaps reports whether the event intersects the half-open range [start, end).
func (e CalendarEvent) Overlaps(start, end time.Time) bool {
	return e.StartTime.Before(end) && start.Before(e.EndTime)
}

func (e CalendarEvent) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}
