// Package recurrence expands the subset of RFC 5545 RRULEs that calendar
// exports commonly carry: DAILY, WEEKLY, MONTHLY and YEARLY rules with
// INTERVAL, BYDAY, BYMONTHDAY, COUNT and UNTIL.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Freq]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

var weekdays = []string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Layouts accepted for UNTIL.
const (
	untilDateTime = "20060102T150405Z"
	untilDate     = "20060102"
)

type Rule struct {
	Freq       Freq
	Interval   int            // 1 when absent
	ByDay      []time.Weekday // WEEKLY only; empty means the weekday of the first occurrence
	ByMonthDay int            // MONTHLY only; 0 means the day of the first occurrence
	Count      int            // 0 means unbounded
	Until      *time.Time     // inclusive
}

// Parse reads an RRULE value such as "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2".
// A leading "RRULE:" is tolerated and WKST is ignored. Date-only UNTIL
// values are read in loc.
func Parse(value string, loc *time.Location) (Rule, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "RRULE:")
	if value == "" {
		return Rule{}, fmt.Errorf("parse rrule: empty rule")
	}
	if loc == nil {
		loc = time.UTC
	}

	r := Rule{Interval: 1}
	hasFreq := false
	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("parse rrule: malformed part %q", part)
		}

		var err error
		switch strings.ToUpper(key) {
		case "FREQ":
			r.Freq, err = parseFreq(val)
			hasFreq = err == nil
		case "INTERVAL":
			r.Interval, err = positive(key, val, 0)
		case "COUNT":
			r.Count, err = positive(key, val, 0)
		case "BYMONTHDAY":
			r.ByMonthDay, err = positive(key, val, 31)
		case "BYDAY":
			r.ByDay, err = parseByDay(val)
		case "UNTIL":
			var until time.Time
			until, err = parseUntil(val, loc)
			r.Until = &until
		case "WKST":
		default:
			err = fmt.Errorf("unsupported key %q", key)
		}
		if err != nil {
			return Rule{}, fmt.Errorf("parse rrule: %w", err)
		}
	}

	if !hasFreq {
		return Rule{}, fmt.Errorf("parse rrule: FREQ is required")
	}
	if r.Count > 0 && r.Until != nil {
		return Rule{}, fmt.Errorf("parse rrule: COUNT and UNTIL are mutually exclusive")
	}
	return r, nil
}

func parseFreq(val string) (Freq, error) {
	for f, name := range freqNames {
		if strings.EqualFold(val, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unsupported frequency %q", val)
}

// positive parses a value >= 1, bounded by limit when limit > 0.
func positive(key, val string, limit int) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 || (limit > 0 && n > limit) {
		return 0, fmt.Errorf("invalid %s %q", key, val)
	}
	return n, nil
}

func parseByDay(val string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, d := range strings.Split(val, ",") {
		d = strings.ToUpper(strings.TrimSpace(d))
		found := false
		for i, name := range weekdays {
			if d == name {
				days = append(days, time.Weekday(i))
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unsupported BYDAY %q", d)
		}
	}
	return days, nil
}

func parseUntil(val string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(untilDateTime, val); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(untilDate, val, loc); err == nil {
		// A date bound includes the whole day.
		return t.AddDate(0, 0, 1).Add(-time.Second), nil
	}
	return time.Time{}, fmt.Errorf("invalid UNTIL %q", val)
}

// String renders the rule in RRULE form.
func (r Rule) String() string {
	parts := []string{"FREQ=" + freqNames[r.Freq]}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		days := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			days[i] = weekdays[d]
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if r.ByMonthDay > 0 {
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.ByMonthDay))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format(untilDateTime))
	}
	return strings.Join(parts, ";")
}
