package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/overlap/internal/model"
)

// DefaultReminderSpec runs the digest every weekday morning.
const DefaultReminderSpec = "0 9 * * 1-5"

// ConflictLister reads the current conflict list.
type ConflictLister interface {
	List(unresolvedOnly bool) []model.Conflict
}

// Reminder periodically pushes a digest of conflicts that are still unresolved.
type Reminder struct {
	cron      *cron.Cron
	spec      string
	conflicts ConflictLister
	notifier  *Notifier
	logger    *slog.Logger
}

// NewReminder validates spec (standard five-field cron syntax) and prepares the
// schedule in loc. Nothing runs until Start.
func NewReminder(spec string, loc *time.Location, conflicts ConflictLister, notifier *Notifier, logger *slog.Logger) (*Reminder, error) {
	if spec == "" {
		spec = DefaultReminderSpec
	}
	if loc == nil {
		loc = time.UTC
	}
	r := &Reminder{
		cron:      cron.New(cron.WithLocation(loc)),
		spec:      spec,
		conflicts: conflicts,
		notifier:  notifier,
		logger:    logger,
	}
	if _, err := r.cron.AddFunc(spec, func() { r.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse reminder schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start begins the schedule in the background.
func (r *Reminder) Start() {
	r.cron.Start()
	r.logger.Info("conflict reminder scheduled", "spec", r.spec)
}

// Stop halts the schedule and waits for a running digest to finish.
func (r *Reminder) Stop() {
	<-r.cron.Stop().Done()
}

// Run sends one digest now. It sends nothing when every conflict is resolved.
func (r *Reminder) Run(ctx context.Context) int {
	payload, ok := digest(r.conflicts.List(true))
	if !ok {
		r.logger.Debug("no unresolved conflicts")
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return r.notifier.Broadcast(ctx, payload)
}

func digest(unresolved []model.Conflict) (Payload, bool) {
	switch len(unresolved) {
	case 0:
		return Payload{}, false
	case 1:
		c := unresolved[0]
		return Payload{
			Title: "Unresolved conflict",
			Body:  fmt.Sprintf("%q still overlaps %d event(s)", c.OriginalEvent.Title, len(c.ConflictingEvents)),
			URL:   "/conflicts/" + c.ID.String(),
			Tag:   "conflict-reminder",
			Type:  model.NotifTypeConflictReminder,
		}, true
	default:
		return Payload{
			Title: "Unresolved conflicts",
			Body:  fmt.Sprintf("You have %d calendar conflicts to review", len(unresolved)),
			URL:   "/conflicts",
			Tag:   "conflict-reminder",
			Type:  model.NotifTypeConflictReminder,
		}, true
	}
}
