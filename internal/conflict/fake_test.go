package conflict

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/overlap/internal/model"
)

// fakeEvents is an in-memory calendar.EventQuery with failure injection.
type fakeEvents struct {
	mu        sync.Mutex
	events    map[string]model.CalendarEvent
	saveErr   error
	deleteErr error
	lookupErr error
	saves     int
	deletes   int
	// afterMutate runs after a successful Save or Delete.
	afterMutate func()
}

func newFakeEvents(events ...model.CalendarEvent) *fakeEvents {
	f := &fakeEvents{events: make(map[string]model.CalendarEvent)}
	for _, e := range events {
		f.events[e.Identifier] = e
	}
	return f
}

func (f *fakeEvents) EventsOverlapping(_ context.Context, start, end time.Time, calendars []string) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.CalendarEvent
	for _, e := range f.events {
		if len(calendars) > 0 && !contains(calendars, e.CalendarName) {
			continue
		}
		if e.StartTime.Before(end) && e.EndTime.After(start) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeEvents) Lookup(_ context.Context, id string) (*model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	e, ok := f.events[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeEvents) Save(_ context.Context, e *model.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.events[e.Identifier]; !ok {
		return errors.New("no such event")
	}
	f.events[e.Identifier] = *e
	if f.afterMutate != nil {
		f.afterMutate()
	}
	return nil
}

func (f *fakeEvents) Delete(_ context.Context, e *model.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.events, e.Identifier)
	if f.afterMutate != nil {
		f.afterMutate()
	}
	return nil
}

func (f *fakeEvents) Calendars(_ context.Context) ([]model.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)
	var out []model.Calendar
	for _, e := range f.events {
		if !seen[e.CalendarName] {
			seen[e.CalendarName] = true
			out = append(out, model.Calendar{Name: e.CalendarName})
		}
	}
	return out, nil
}

func (f *fakeEvents) get(id string) (model.CalendarEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	return e, ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// memPersister keeps the serialized list in memory.
type memPersister struct {
	mu      sync.Mutex
	data    map[string][]byte
	saveErr error
	saves   int
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string][]byte)}
}

func (p *memPersister) Load(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data[key], nil
}

func (p *memPersister) Save(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.data[key] = append([]byte(nil), value...)
	return nil
}

func at(hour, min int) time.Time {
	return time.Date(2025, 1, 6, hour, min, 0, 0, time.UTC)
}

func event(id, title string, start, end time.Time) model.CalendarEvent {
	return model.CalendarEvent{Identifier: id, Title: title, StartTime: start, EndTime: end, CalendarName: "Work"}
}
