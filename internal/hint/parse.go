// Package hint validates inbound "event created" payloads.
package hint

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/overlap/internal/model"
)

// Payload keys.
const (
	FieldUID      = "event_uid"
	FieldTitle    = "event_title"
	FieldStart    = "event_start"
	FieldEnd      = "event_end"
	FieldCalendar = "calendar_name"
)

var requiredFields = []string{FieldUID, FieldTitle, FieldStart, FieldEnd}

// Both layouts require an explicit Z or numeric offset.
var timestampLayouts = []string{time.RFC3339Nano, time.RFC3339}

type ErrorKind string

const (
	KindMissingFields    ErrorKind = "missing_fields"
	KindInvalidTimestamp ErrorKind = "invalid_timestamp"
	KindInvalidRange     ErrorKind = "invalid_range"
)

// Sentinels for errors.Is; they match any ParseError of the same kind.
var (
	ErrMissingFields    = &ParseError{Kind: KindMissingFields}
	ErrInvalidTimestamp = &ParseError{Kind: KindInvalidTimestamp}
	ErrInvalidRange     = &ParseError{Kind: KindInvalidRange}
)

type ParseError struct {
	Kind   ErrorKind
	Fields []string
	Value  string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case KindMissingFields:
		return "hint: missing fields: " + strings.Join(e.Fields, ", ")
	case KindInvalidTimestamp:
		return fmt.Sprintf("hint: invalid timestamp in %s: %q", strings.Join(e.Fields, ", "), e.Value)
	case KindInvalidRange:
		return "hint: event_start is after event_end"
	default:
		return "hint: " + string(e.Kind)
	}
}

func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

// Parse extracts a ParsedEventHint from raw payload fields. Only absent keys
// count as missing: an empty title is a real (untitled) event, and empty
// timestamps fail as invalid. It never logs; every failure is a *ParseError.
func Parse(raw map[string]string) (model.ParsedEventHint, error) {
	var missing []string
	for _, key := range requiredFields {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return model.ParsedEventHint{}, &ParseError{Kind: KindMissingFields, Fields: missing}
	}

	start, err := parseTimestamp(FieldStart, raw[FieldStart])
	if err != nil {
		return model.ParsedEventHint{}, err
	}
	end, err := parseTimestamp(FieldEnd, raw[FieldEnd])
	if err != nil {
		return model.ParsedEventHint{}, err
	}
	if start.After(end) {
		return model.ParsedEventHint{}, &ParseError{Kind: KindInvalidRange, Fields: []string{FieldStart, FieldEnd}}
	}

	return model.ParsedEventHint{
		ExternalID:       raw[FieldUID],
		Title:            raw[FieldTitle],
		StartTime:        start,
		EndTime:          end,
		CalendarNameHint: raw[FieldCalendar],
	}, nil
}

func parseTimestamp(field, value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ParseError{Kind: KindInvalidTimestamp, Fields: []string{field}, Value: value}
}
