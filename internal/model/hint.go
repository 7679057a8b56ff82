package model

import "time"

// ParsedEventHint is a validated inbound claim that an event was created.
// ExternalID is the sender's correlation id, not a calendar identifier.
type ParsedEventHint struct {
	ExternalID       string    `json:"external_id"`
	Title            string    `json:"title"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	CalendarNameHint string    `json:"calendar_name_hint,omitempty"`
}
