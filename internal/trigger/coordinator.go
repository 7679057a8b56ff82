// Package trigger runs the background flow started by an inbound hint.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/overlap/internal/conflict"
	"github.com/dukerupert/overlap/internal/hint"
	"github.com/dukerupert/overlap/internal/match"
	"github.com/dukerupert/overlap/internal/model"
)

// DefaultBudget bounds a single HandleHint call when none is configured.
const DefaultBudget = 30 * time.Second

type Status string

const (
	StatusNoConflict       Status = "no_conflict"
	StatusConflictRecorded Status = "conflict_recorded"
	StatusRejected         Status = "rejected"
)

// Rejection reasons.
const (
	ReasonInvalidHint  = "invalid_hint"
	ReasonNotFound     = "not_found"
	ReasonAmbiguous    = "ambiguous"
	ReasonNoCalendars  = "no_calendars"
	ReasonTimeout      = "timeout"
	ReasonQueryFailed  = "query_failed"
	ReasonRecordFailed = "record_failed"
)

type Outcome struct {
	Status   Status          `json:"status"`
	Conflict *model.Conflict `json:"conflict,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Err      error           `json:"-"`
}

// Notifier delivers a user notification about a conflict. It must not block.
type Notifier interface {
	Schedule(conflictID uuid.UUID, title, body string)
}

type Coordinator struct {
	matcher  *match.Matcher
	detector *conflict.Detector
	store    *conflict.Store
	notifier Notifier
	budget   time.Duration
	logger   *slog.Logger
}

// NewCoordinator wires the flow. A zero budget uses DefaultBudget; notifier
// may be nil.
func NewCoordinator(m *match.Matcher, d *conflict.Detector, s *conflict.Store, n Notifier, budget time.Duration, logger *slog.Logger) *Coordinator {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Coordinator{matcher: m, detector: d, store: s, notifier: n, budget: budget, logger: logger}
}

type lookupResult struct {
	event    *model.CalendarEvent
	overlaps []model.CalendarEvent
	err      error
}

// HandleHint parses raw, finds the event it refers to and records a conflict
// if the event overlaps others. The whole flow is bounded by the budget; on
// expiry it returns a timeout rejection and writes nothing.
func (c *Coordinator) HandleHint(ctx context.Context, raw map[string]string) Outcome {
	h, err := hint.Parse(raw)
	if err != nil {
		c.logger.Info("hint rejected", "reason", ReasonInvalidHint, "error", err)
		return rejected(ReasonInvalidHint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	// Store queries run in their own goroutine so an unresponsive store is
	// abandoned at the deadline.
	done := make(chan lookupResult, 1)
	go func() {
		done <- c.lookup(ctx, h)
	}()

	var res lookupResult
	select {
	case <-ctx.Done():
		c.logger.Warn("hint timed out", "external_id", h.ExternalID, "budget", c.budget)
		return rejected(ReasonTimeout, ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return c.classify(ctx, h, res.err)
	}
	if len(res.overlaps) == 0 {
		c.logger.Debug("no conflict", "external_id", h.ExternalID, "event", res.event.Identifier)
		return Outcome{Status: StatusNoConflict}
	}
	if err := ctx.Err(); err != nil {
		return rejected(ReasonTimeout, err)
	}

	recorded, err := c.store.Record(ctx, *res.event, res.overlaps)
	if err != nil {
		c.logger.Error("record conflict", "external_id", h.ExternalID, "error", err)
		return rejected(ReasonRecordFailed, err)
	}
	c.logger.Info("conflict recorded",
		"conflict_id", recorded.ID, "event", res.event.Identifier, "overlaps", len(res.overlaps))

	if c.notifier != nil {
		title, body := notificationText(recorded)
		c.notifier.Schedule(recorded.ID, title, body)
	}
	return Outcome{Status: StatusConflictRecorded, Conflict: &recorded}
}

func (c *Coordinator) lookup(ctx context.Context, h model.ParsedEventHint) lookupResult {
	event, err := c.matcher.Match(ctx, h)
	if err != nil {
		return lookupResult{err: err}
	}
	overlaps, err := c.detector.Detect(ctx, *event)
	if err != nil {
		return lookupResult{err: err}
	}
	return lookupResult{event: event, overlaps: overlaps}
}

func (c *Coordinator) classify(ctx context.Context, h model.ParsedEventHint, err error) Outcome {
	var reason string
	switch {
	case errors.Is(err, match.ErrNotFound):
		reason = ReasonNotFound
	case errors.Is(err, match.ErrAmbiguous):
		reason = ReasonAmbiguous
	case errors.Is(err, match.ErrNoCalendars):
		reason = ReasonNoCalendars
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	default:
		c.logger.Error("hint lookup failed", "external_id", h.ExternalID, "error", err)
		return rejected(ReasonQueryFailed, err)
	}
	c.logger.Info("hint rejected", "external_id", h.ExternalID, "reason", reason)
	return rejected(reason, err)
}

func rejected(reason string, err error) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, Err: err}
}

func notificationText(c model.Conflict) (string, string) {
	titles := c.ConflictingTitles()
	if len(titles) == 1 {
		return "Calendar conflict", fmt.Sprintf("%q overlaps %q", c.OriginalEvent.Title, titles[0])
	}
	return "Calendar conflict", fmt.Sprintf("%q overlaps %d events: %s",
		c.OriginalEvent.Title, len(titles), strings.Join(titles, ", "))
}
