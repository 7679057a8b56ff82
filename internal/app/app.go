// Package app wires overlap's components together.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukerupert/overlap/internal/backup"
	"github.com/dukerupert/overlap/internal/config"
	"github.com/dukerupert/overlap/internal/conflict"
	"github.com/dukerupert/overlap/internal/database"
	"github.com/dukerupert/overlap/internal/importer"
	"github.com/dukerupert/overlap/internal/match"
	"github.com/dukerupert/overlap/internal/push"
	"github.com/dukerupert/overlap/internal/store"
	"github.com/dukerupert/overlap/internal/trigger"
	ws "github.com/dukerupert/overlap/internal/websocket"
)

// App holds the long-lived dependencies shared by the CLI commands and the
// HTTP server.
type App struct {
	Config      *config.Config
	DB          *sql.DB
	Events      *store.EventStore
	Pushes      *store.PushStore
	Conflicts   *conflict.Store
	Resolver    *conflict.Resolver
	Coordinator *trigger.Coordinator
	Importer    *importer.Importer
	Hub         *ws.Hub
	Backup      *backup.Manager

	// Push fields are nil when no VAPID keys are configured.
	PushService *push.Service
	Notifier    *push.Notifier
	Reminder    *push.Reminder

	Logger *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Events: store.NewEventStore(db),
		Pushes: store.NewPushStore(db),
		Hub:    ws.NewHub(logger.With("component", "websocket")),
		Logger: logger,
	}

	a.Conflicts, err = conflict.NewStore(ctx, store.NewStateStore(db), a.Hub.ConflictChanged, logger.With("component", "conflicts"))
	if err != nil {
		db.Close()
		return nil, err
	}
	a.Resolver = conflict.NewResolver(a.Events, a.Conflicts, logger.With("component", "resolver"))
	a.Importer = importer.New(a.Events, cfg.Location(), logger.With("component", "importer"))
	a.Backup = backup.NewManager(BackupConfig(cfg), db, logger.With("component", "backup"))

	var notifier trigger.Notifier
	if cfg.Push.Enabled() {
		pushLogger := logger.With("component", "push")
		a.PushService = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
		a.Notifier = push.NewNotifier(a.PushService, a.Pushes, cfg.Push.MaxRetries, pushLogger)
		a.Reminder, err = push.NewReminder(cfg.Push.ReminderCron, cfg.Location(), a.Conflicts, a.Notifier, pushLogger)
		if err != nil {
			db.Close()
			return nil, err
		}
		notifier = a.Notifier
	} else {
		logger.Info("push notifications disabled, no VAPID keys configured")
	}

	a.Coordinator = trigger.NewCoordinator(
		match.NewMatcher(a.Events, cfg.Location(), logger.With("component", "matcher")),
		conflict.NewDetector(a.Events),
		a.Conflicts,
		notifier,
		cfg.Budget(),
		logger.With("component", "trigger"),
	)
	return a, nil
}

// BackupConfig maps the backup section of cfg onto the backup manager.
func BackupConfig(cfg *config.Config) backup.Config {
	b := cfg.Backup
	return backup.Config{
		Endpoint:   b.Endpoint,
		Bucket:     b.Bucket,
		Region:     b.Region,
		Prefix:     b.Prefix,
		AccessKey:  b.AccessKey,
		SecretKey:  b.SecretKey,
		Passphrase: b.Passphrase,
		Retention:  b.Retention,
	}
}

// Close waits for queued notifications and closes the database.
func (a *App) Close() error {
	a.Backup.Stop()
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	return a.DB.Close()
}
