package recurrence

import (
	"slices"
	"time"
)

// MaxIterations bounds the candidates Expand examines for one rule.
const MaxIterations = 5000

// Span is a half-open [Start, End) interval.
type Span struct {
	Start time.Time
	End   time.Time
}

// Expand returns the occurrences of rule that intersect window, in order.
// first is the event's own DTSTART/DTEND span and fixes the duration and
// wall-clock time of every occurrence. Starts listed in except (EXDATE) are
// dropped after COUNT is applied.
func Expand(rule Rule, first, window Span, except ...time.Time) []Span {
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	duration := first.End.Sub(first.Start)

	skip := make(map[int64]bool, len(except))
	for _, t := range except {
		skip[t.Unix()] = true
	}

	next := generator(rule, first.Start)
	var out []Span
	count := 0
	for i := 0; i < MaxIterations; i++ {
		start, ok := next()
		if !ok {
			break
		}
		if rule.Until != nil && start.After(*rule.Until) {
			break
		}
		if !start.Before(window.End) {
			break
		}
		count++
		if rule.Count > 0 && count > rule.Count {
			break
		}
		if skip[start.Unix()] {
			continue
		}

		end := start.Add(duration)
		if end.After(window.Start) || !start.Before(window.Start) {
			out = append(out, Span{Start: start, End: end})
		}
	}
	return out
}

// generator yields candidate starts in ascending order, never before first.
func generator(rule Rule, first time.Time) func() (time.Time, bool) {
	at := func(year int, month time.Month, day int) time.Time {
		return time.Date(year, month, day, first.Hour(), first.Minute(), first.Second(), first.Nanosecond(), first.Location())
	}

	switch rule.Freq {
	case Daily:
		k := 0
		return func() (time.Time, bool) {
			t := at(first.Year(), first.Month(), first.Day()+k*rule.Interval)
			k++
			return t, true
		}

	case Weekly:
		if len(rule.ByDay) == 0 {
			k := 0
			return func() (time.Time, bool) {
				t := at(first.Year(), first.Month(), first.Day()+7*k*rule.Interval)
				k++
				return t, true
			}
		}
		days := slices.Clone(rule.ByDay)
		slices.SortFunc(days, func(a, b time.Weekday) int { return mondayOffset(a) - mondayOffset(b) })
		monday := first.Day() - mondayOffset(first.Weekday())
		week, idx := 0, 0
		return func() (time.Time, bool) {
			for guard := 0; guard < 2*len(days)+1; guard++ {
				if idx == len(days) {
					week++
					idx = 0
				}
				t := at(first.Year(), first.Month(), monday+7*week*rule.Interval+mondayOffset(days[idx]))
				idx++
				if !t.Before(first) {
					return t, true
				}
			}
			return time.Time{}, false
		}

	case Monthly:
		day := rule.ByMonthDay
		if day == 0 {
			day = first.Day()
		}
		k := 0
		return func() (time.Time, bool) {
			for guard := 0; guard < 12*4; guard++ {
				y, m, _ := time.Date(first.Year(), first.Month()+time.Month(k*rule.Interval), 1, 0, 0, 0, 0, time.UTC).Date()
				k++
				if day > daysInMonth(y, m) {
					continue
				}
				if t := at(y, m, day); !t.Before(first) {
					return t, true
				}
			}
			return time.Time{}, false
		}

	case Yearly:
		k := 0
		return func() (time.Time, bool) {
			for guard := 0; guard < 8; guard++ {
				t := at(first.Year()+k*rule.Interval, first.Month(), first.Day())
				k++
				// Feb 29 only exists in leap years.
				if t.Day() == first.Day() {
					return t, true
				}
			}
			return time.Time{}, false
		}
	}

	return func() (time.Time, bool) { return time.Time{}, false }
}

// mondayOffset numbers weekdays from Monday = 0.
func mondayOffset(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
