package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/overlap/internal/app"
	"github.com/dukerupert/overlap/internal/config"
	"github.com/dukerupert/overlap/internal/middleware"
	"github.com/dukerupert/overlap/internal/model"
)

func setupTestServer(t *testing.T, mutate func(*config.Config)) (*app.App, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.New(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ts := httptest.NewServer(New(a, slog.Default()).Router())
	t.Cleanup(func() {
		ts.Close()
		a.Close()
	})
	return a, ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func createEvent(t *testing.T, base, title, start, end string) model.CalendarEvent {
	t.Helper()
	resp := doJSON(t, http.MethodPost, base+"/api/events", map[string]any{
		"title": title, "start_time": start, "end_time": end, "calendar": "Work",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create %q: status %d", title, resp.StatusCode)
	}
	return decode[model.CalendarEvent](t, resp)
}

func standupHint() map[string]string {
	return map[string]string{
		"event_uid":   "u1",
		"event_title": "Standup",
		"event_start": "2025-01-06T09:00:00Z",
		"event_end":   "2025-01-06T09:30:00Z",
	}
}

type hintResult struct {
	Status   string          `json:"status"`
	Reason   string          `json:"reason"`
	Conflict *model.Conflict `json:"conflict"`
}

func TestHealth(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	backupStatus, _ := body["backup"].(map[string]any)
	if backupStatus["state"] != "disabled" {
		t.Errorf("backup = %v, want disabled state", body["backup"])
	}
}

func TestHintThenMoveResolution(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	standup := createEvent(t, ts.URL, "Standup", "2025-01-06T09:00:00Z", "2025-01-06T09:30:00Z")
	createEvent(t, ts.URL, "Lunch", "2025-01-06T12:00:00Z", "2025-01-06T13:00:00Z")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/hints", standupHint())
	if got := decode[hintResult](t, resp); got.Status != "no_conflict" {
		t.Fatalf("first hint status = %q, want no_conflict", got.Status)
	}

	createEvent(t, ts.URL, "1:1", "2025-01-06T09:15:00Z", "2025-01-06T09:45:00Z")
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/hints", standupHint())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second hint status code = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	got := decode[hintResult](t, resp)
	if got.Conflict == nil || len(got.Conflict.ConflictingEvents) != 1 || got.Conflict.ConflictingEvents[0].Title != "1:1" {
		t.Fatalf("conflict = %+v, want one overlap with 1:1", got.Conflict)
	}
	id := got.Conflict.ID.String()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/conflicts?unresolved=true", nil)
	if list := decode[[]model.Conflict](t, resp); len(list) != 1 {
		t.Fatalf("unresolved = %d, want 1", len(list))
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/conflicts/"+id+"/resolve", map[string]string{
		"kind": "move_event", "new_start": "2025-01-06T10:00:00Z",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resolved := decode[model.Conflict](t, resp)
	if !resolved.Resolved || resolved.Resolution == nil || resolved.Resolution.Kind != model.ResolutionMoveEvent {
		t.Errorf("resolved conflict = %+v", resolved)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/events/"+standup.Identifier, nil)
	moved := decode[model.CalendarEvent](t, resp)
	if want := time.Date(2025, 1, 6, 10, 30, 0, 0, time.UTC); !moved.EndTime.Equal(want) {
		t.Errorf("moved end = %v, want %v", moved.EndTime, want)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/conflicts/"+id+"/resolve", map[string]string{"kind": "keep_both"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second resolve status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestResolveDeletedTarget(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	standup := createEvent(t, ts.URL, "Standup", "2025-01-06T09:00:00Z", "2025-01-06T09:30:00Z")
	createEvent(t, ts.URL, "1:1", "2025-01-06T09:15:00Z", "2025-01-06T09:45:00Z")

	got := decode[hintResult](t, doJSON(t, http.MethodPost, ts.URL+"/api/hints", standupHint()))
	if got.Conflict == nil {
		t.Fatalf("expected conflict, got %+v", got)
	}

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/events/"+standup.Identifier, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/conflicts/"+got.Conflict.ID.String()+"/resolve", map[string]string{"kind": "delete_event"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resolve status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	body := decode[map[string]string](t, resp)
	if body["kind"] != "target_not_found" {
		t.Errorf("kind = %q, want target_not_found", body["kind"])
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/conflicts/"+got.Conflict.ID.String(), nil)
	if c := decode[model.Conflict](t, resp); c.Resolved {
		t.Error("conflict should stay unresolved")
	}
}

func TestHintRejections(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	bad := standupHint()
	bad["event_start"] = "2025-01-06 09:00"
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/hints", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid hint status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if got := decode[hintResult](t, resp); got.Reason != "invalid_hint" {
		t.Errorf("reason = %q, want invalid_hint", got.Reason)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/hints", standupHint())
	if got := decode[hintResult](t, resp); got.Status != "rejected" || got.Reason != "no_calendars" {
		t.Errorf("empty store: status = %q reason = %q", got.Status, got.Reason)
	}
}

func doWithToken(t *testing.T, method, url, token string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHintRequiresToken(t *testing.T) {
	hash, err := middleware.HashToken("s3cret")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	_, ts := setupTestServer(t, func(c *config.Config) { c.APITokenHash = hash })

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/hints", standupHint())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	authed := doWithToken(t, http.MethodPost, ts.URL+"/api/hints", "s3cret", `{"event_uid":"u1"}`)
	if authed.StatusCode != http.StatusBadRequest {
		t.Errorf("authorized status = %d, want %d", authed.StatusCode, http.StatusBadRequest)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	hash, err := middleware.HashToken("s3cret")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	a, ts := setupTestServer(t, func(c *config.Config) { c.APITokenHash = hash })

	ctx := context.Background()
	day := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	event, err := a.Events.Create(ctx, model.CalendarEvent{
		Title: "Standup", StartTime: day, EndTime: day.Add(30 * time.Minute), CalendarName: "Work",
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	unauthorized := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodDelete, "/api/events/" + event.Identifier, ""},
		{http.MethodPut, "/api/events/" + event.Identifier, `{"title":"Moved"}`},
		{http.MethodGet, "/api/events/" + event.Identifier, ""},
		{http.MethodPost, "/api/calendars", `{"name":"Home"}`},
		{http.MethodGet, "/api/conflicts", ""},
		{http.MethodPost, "/api/conflicts/00000000-0000-0000-0000-000000000001/resolve", `{"kind":"keep_both"}`},
		{http.MethodGet, "/ws", ""},
	}
	for _, tc := range unauthorized {
		resp := doWithToken(t, tc.method, ts.URL+tc.path, "", tc.body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want %d", tc.method, tc.path, resp.StatusCode, http.StatusUnauthorized)
		}
		resp = doWithToken(t, tc.method, ts.URL+tc.path, "wrong", tc.body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s with wrong token: status = %d, want %d", tc.method, tc.path, resp.StatusCode, http.StatusUnauthorized)
		}
	}

	live, err := a.Events.Lookup(ctx, event.Identifier)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if live == nil || live.Title != "Standup" {
		t.Fatalf("event after rejected requests = %+v, want unchanged", live)
	}

	resp := doWithToken(t, http.MethodDelete, ts.URL+"/api/events/"+event.Identifier, "s3cret", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("authorized delete status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	health := doWithToken(t, http.MethodGet, ts.URL+"/health", "", "")
	if health.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", health.StatusCode, http.StatusOK)
	}
}

func TestUnknownConflict(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/conflicts/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/conflicts/00000000-0000-0000-0000-000000000001", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestPushRoutesDisabledWithoutKeys(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/push/vapid-key", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestBackupRoutesDisabledWithoutStorage(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/backups", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestWebSocketReceivesConflict(t *testing.T) {
	a, ts := setupTestServer(t, nil)
	createEvent(t, ts.URL, "Standup", "2025-01-06T09:00:00Z", "2025-01-06T09:30:00Z")
	createEvent(t, ts.URL, "1:1", "2025-01-06T09:15:00Z", "2025-01-06T09:45:00Z")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// Registration happens in the server goroutine after the handshake.
	for a.Hub.ClientCount() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	doJSON(t, http.MethodPost, ts.URL+"/api/hints", standupHint())

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "conflict_recorded" {
		t.Errorf("type = %q, want conflict_recorded", msg.Type)
	}
}
