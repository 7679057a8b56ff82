package websocket

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/overlap/internal/conflict"
	"github.com/dukerupert/overlap/internal/model"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		conn: nil,
		send: make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub)
	c2 := mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	msg := NewMessage(EntityCalendarEvent, "created", "evt-42", map[string]any{"title": "Standup"})
	hub.Broadcast(msg)

	// Check both clients received the message
	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "calendar_event_created" {
				t.Errorf("type = %q, want %q", got.Type, "calendar_event_created")
			}
			if got.Entity != EntityCalendarEvent {
				t.Errorf("entity = %q, want %q", got.Entity, EntityCalendarEvent)
			}
			if got.ID != "evt-42" {
				t.Errorf("id = %q, want %q", got.ID, "evt-42")
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	hub.Unregister(c1)
	hub.Unregister(c2)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	msg := NewMessage(EntityConflict, "resolved", "1", nil)
	hub.Broadcast(msg)
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub)
	hub.Register(c)

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(NewMessage("test", "fill", strconv.Itoa(i), nil))
	}

	// This should drop the message, not panic or block
	hub.Broadcast(NewMessage("test", "dropped", "999", nil))

	// Drain to verify buffer was full
	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(EntityCalendarEvent, "updated", "evt-5", nil)
	if msg.Type != "calendar_event_updated" {
		t.Errorf("type = %q, want %q", msg.Type, "calendar_event_updated")
	}
	if msg.Action != "updated" {
		t.Errorf("action = %q, want %q", msg.Action, "updated")
	}
	if msg.ID != "evt-5" {
		t.Errorf("id = %q, want %q", msg.ID, "evt-5")
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	// Spawn goroutines that register, broadcast, and unregister concurrently
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Broadcast(NewMessage("test", "concurrent", "", nil))
			// Drain any messages
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestConflictChanged(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	id := uuid.New()
	hub.ConflictChanged(conflict.ChangeEvent{
		Action: conflict.ActionRecorded,
		Conflict: model.Conflict{
			ID:                id,
			OriginalEvent:     model.EventSnapshot{Title: "Standup", IsNew: true},
			ConflictingEvents: []model.EventSnapshot{{Title: "1:1"}},
		},
	})

	select {
	case data := <-c.send:
		var got struct {
			Type string         `json:"type"`
			ID   string         `json:"id"`
			Data model.Conflict `json:"data"`
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "conflict_recorded" {
			t.Errorf("type = %q, want %q", got.Type, "conflict_recorded")
		}
		if got.ID != id.String() {
			t.Errorf("id = %q, want %q", got.ID, id.String())
		}
		if got.Data.OriginalEvent.Title != "Standup" {
			t.Errorf("original title = %q, want %q", got.Data.OriginalEvent.Title, "Standup")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}
