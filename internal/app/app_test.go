package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/overlap/internal/config"
	"github.com/dukerupert/overlap/internal/hint"
	"github.com/dukerupert/overlap/internal/model"
	"github.com/dukerupert/overlap/internal/trigger"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.Timezone = "UTC"
	return cfg
}

func TestNewWithoutPush(t *testing.T) {
	a, err := New(context.Background(), testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.Notifier != nil || a.Reminder != nil {
		t.Error("push components should be nil without VAPID keys")
	}
}

func TestNewWithPush(t *testing.T) {
	cfg := testConfig()
	cfg.Push.VAPIDPublicKey = "pub"
	cfg.Push.VAPIDPrivateKey = "priv"

	a, err := New(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.Notifier == nil || a.Reminder == nil {
		t.Error("push components should be set with VAPID keys")
	}
}

func TestHintFlowRecordsConflict(t *testing.T) {
	a, err := New(context.Background(), testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	for _, e := range []model.CalendarEvent{
		{Title: "Standup", StartTime: day.Add(9 * time.Hour), EndTime: day.Add(9*time.Hour + 30*time.Minute), CalendarName: "Work"},
		{Title: "1:1", StartTime: day.Add(9*time.Hour + 15*time.Minute), EndTime: day.Add(9*time.Hour + 45*time.Minute), CalendarName: "Work"},
	} {
		if _, err := a.Events.Create(ctx, e); err != nil {
			t.Fatalf("create %q: %v", e.Title, err)
		}
	}

	out := a.Coordinator.HandleHint(ctx, map[string]string{
		hint.FieldUID:   "u1",
		hint.FieldTitle: "Standup",
		hint.FieldStart: "2025-01-06T09:00:00Z",
		hint.FieldEnd:   "2025-01-06T09:30:00Z",
	})
	if out.Status != trigger.StatusConflictRecorded {
		t.Fatalf("status = %q (%v), want %q", out.Status, out.Err, trigger.StatusConflictRecorded)
	}
	if got := a.Conflicts.List(true); len(got) != 1 || got[0].ID != out.Conflict.ID {
		t.Errorf("unresolved conflicts = %+v, want the recorded one", got)
	}
}

func TestRequireOfflineDetectsServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	cfg := testConfig()
	cfg.Listen = ts.Listener.Addr().String()

	if err := RequireOffline(context.Background(), cfg); !errors.Is(err, ErrServerRunning) {
		t.Errorf("err = %v, want ErrServerRunning", err)
	}

	ts.Close()
	if err := RequireOffline(context.Background(), cfg); err != nil {
		t.Errorf("err after shutdown = %v, want nil", err)
	}
}

func TestLoopbackAddr(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{":8080", "127.0.0.1:8080"},
		{"0.0.0.0:9000", "127.0.0.1:9000"},
		{"[::]:9000", "127.0.0.1:9000"},
		{"192.168.1.5:8080", "192.168.1.5:8080"},
	}
	for _, tt := range tests {
		if got := loopbackAddr(tt.listen); got != tt.want {
			t.Errorf("loopbackAddr(%q) = %q, want %q", tt.listen, got, tt.want)
		}
	}
}
