package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/overlap/internal/model"
)

// ErrEventNotFound is returned by Save and Delete when the event is gone.
var ErrEventNotFound = errors.New("calendar event not found")

const eventColumns = `e.uid, e.title, e.start_time, e.end_time, e.all_day, c.name, e.created_at, e.updated_at`

// EventStore is the SQLite-backed calendar store. It implements
// calendar.EventQuery.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// CreateCalendar returns the calendar with the given name, creating it if needed.
func (s *EventStore) CreateCalendar(ctx context.Context, name string) (*model.Calendar, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("calendar name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("insert calendar: %w", err)
	}

	var c model.Calendar
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM calendars WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}
	return &c, nil
}

func (s *EventStore) Calendars(ctx context.Context) ([]model.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM calendars ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query calendars: %w", err)
	}
	defer rows.Close()

	var calendars []model.Calendar
	for rows.Next() {
		var c model.Calendar
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		calendars = append(calendars, c)
	}
	return calendars, rows.Err()
}

// Create inserts e into the named calendar, creating the calendar if needed.
// An empty Identifier gets a generated one; an existing Identifier is
// overwritten so imports can be re-run.
func (s *EventStore) Create(ctx context.Context, e model.CalendarEvent) (*model.CalendarEvent, error) {
	if e.EndTime.Before(e.StartTime) {
		return nil, errors.New("end time is before start time")
	}
	cal, err := s.CreateCalendar(ctx, e.CalendarName)
	if err != nil {
		return nil, err
	}
	if e.Identifier == "" {
		e.Identifier = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (uid, calendar_id, title, start_time, end_time, all_day, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET calendar_id = excluded.calendar_id, title = excluded.title,
		   start_time = excluded.start_time, end_time = excluded.end_time, all_day = excluded.all_day,
		   updated_at = excluded.updated_at`,
		e.Identifier, cal.ID, e.Title, e.StartTime.UTC(), e.EndTime.UTC(), boolToInt(e.AllDay), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}

	return s.Lookup(ctx, e.Identifier)
}

func (s *EventStore) Lookup(ctx context.Context, identifier string) (*model.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+`
		 FROM calendar_events e JOIN calendars c ON c.id = e.calendar_id
		 WHERE e.uid = ?`,
		identifier,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query calendar event: %w", err)
	}
	return e, nil
}

// EventsOverlapping returns events intersecting [start, end), ordered by start
// time. Zero-length events that begin inside the range are included too.
func (s *EventStore) EventsOverlapping(ctx context.Context, start, end time.Time, calendars []string) ([]model.CalendarEvent, error) {
	query := `SELECT ` + eventColumns + `
		 FROM calendar_events e JOIN calendars c ON c.id = e.calendar_id
		 WHERE e.start_time < ? AND (e.end_time > ? OR e.start_time >= ?)`
	args := []any{end.UTC(), start.UTC(), start.UTC()}

	if len(calendars) > 0 {
		query += ` AND c.name IN (?` + strings.Repeat(", ?", len(calendars)-1) + `)`
		for _, name := range calendars {
			args = append(args, name)
		}
	}
	query += ` ORDER BY e.start_time ASC, e.uid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calendar events: %w", err)
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Save writes the mutable fields of an existing event.
func (s *EventStore) Save(ctx context.Context, e *model.CalendarEvent) error {
	if e.EndTime.Before(e.StartTime) {
		return errors.New("end time is before start time")
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE calendar_events
		 SET title = ?, start_time = ?, end_time = ?, all_day = ?, updated_at = ?
		 WHERE uid = ?`,
		e.Title, e.StartTime.UTC(), e.EndTime.UTC(), boolToInt(e.AllDay), time.Now().UTC(), e.Identifier,
	)
	if err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	return requireRow(result, e.Identifier)
}

func (s *EventStore) Delete(ctx context.Context, e *model.CalendarEvent) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM calendar_events WHERE uid = ?", e.Identifier)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return requireRow(result, e.Identifier)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	var allDayInt int
	if err := row.Scan(&e.Identifier, &e.Title, &e.StartTime, &e.EndTime, &allDayInt, &e.CalendarName, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.AllDay = allDayInt != 0
	return &e, nil
}

func requireRow(result sql.Result, uid string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, uid)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
