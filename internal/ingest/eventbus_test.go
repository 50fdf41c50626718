package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/snarg/stt-bench/internal/api"
)

// ── EventBus Publish/Subscribe ────────────────────────────────────────

func TestEventBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		defer cancel()

		eb.Publish(EventData{
			Type:     "provider_status",
			SubType:  "done",
			RunID:    "run-1",
			Provider: "deepgram",
			Payload:  map[string]string{"msg": "hello"},
		})

		select {
		case evt := <-ch:
			if evt.Type != "provider_status" || evt.SubType != "done" {
				t.Errorf("Type = %q:%q, want provider_status:done", evt.Type, evt.SubType)
			}
			if evt.RunID != "run-1" {
				t.Errorf("RunID = %q, want run-1", evt.RunID)
			}
			if evt.Provider != "deepgram" {
				t.Errorf("Provider = %q, want deepgram", evt.Provider)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			// Verify data is valid JSON
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["msg"] != "hello" {
				t.Errorf("payload msg = %q, want hello", payload["msg"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{Types: []string{"run_finished"}})
		defer cancel()

		eb.Publish(EventData{Type: "run_started", Payload: "x"})

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
			// expected
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		cancel()

		eb.Publish(EventData{Type: "run_started", Payload: "x"})

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("should not receive event after cancel")
			}
		case <-time.After(50 * time.Millisecond):
			// expected: channel not closed, just removed from map
		}
	})

	t.Run("multiple_subscribers", func(t *testing.T) {
		eb := NewEventBus(64)
		ch1, cancel1 := eb.Subscribe(api.EventFilter{})
		defer cancel1()
		ch2, cancel2 := eb.Subscribe(api.EventFilter{})
		defer cancel2()

		eb.Publish(EventData{Type: "run_started", Payload: "x"})

		for i, ch := range []<-chan api.SSEEvent{ch1, ch2} {
			select {
			case evt := <-ch:
				if evt.Type != "run_started" {
					t.Errorf("subscriber %d: Type = %q, want run_started", i, evt.Type)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %d: timed out", i)
			}
		}
	})
}

// ── EventBus ReplaySince ─────────────────────────────────────────────

func TestEventBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "run_started", Payload: "a"})
		eb.Publish(EventData{Type: "run_finished", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{})
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "run_started", Payload: "a"})

		// Grab the first event's ID from the ring
		allEvents := eb.ReplaySince("", api.EventFilter{})
		if len(allEvents) != 1 {
			t.Fatalf("expected 1 event, got %d", len(allEvents))
		}
		firstID := allEvents[0].ID

		eb.Publish(EventData{Type: "run_finished", Payload: "b"})

		events := eb.ReplaySince(firstID, api.EventFilter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (after first)", len(events))
		}
		if events[0].Type != "run_finished" {
			t.Errorf("Type = %q, want run_finished", events[0].Type)
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "run_started", RunID: "r1", Payload: "a"})
		eb.Publish(EventData{Type: "run_started", RunID: "r2", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{Runs: []string{"r2"}})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (filtered)", len(events))
		}
		if events[0].RunID != "r2" {
			t.Errorf("RunID = %q, want r2", events[0].RunID)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "run_started", Payload: "a"})

		// When lastEventID is not found (overwritten by ring wrap), all available
		// events are returned so the client doesn't silently miss everything.
		events := eb.ReplaySince("nonexistent-id", api.EventFilter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})
}

func TestEventBusRingWrap(t *testing.T) {
	eb := NewEventBus(2)
	eb.Publish(EventData{Type: "a", Payload: 1})
	first := eb.ReplaySince("", api.EventFilter{})[0].ID
	eb.Publish(EventData{Type: "b", Payload: 2})
	eb.Publish(EventData{Type: "c", Payload: 3})

	events := eb.ReplaySince("", api.EventFilter{})
	if len(events) != 2 || events[0].Type != "b" || events[1].Type != "c" {
		t.Fatalf("ring contents = %+v, want [b c]", events)
	}

	// The first ID has been overwritten, so everything still buffered replays.
	if got := eb.ReplaySince(first, api.EventFilter{}); len(got) != 2 {
		t.Errorf("replay after overwritten ID returned %d events, want 2", len(got))
	}
}

func TestPublishBenchmark(t *testing.T) {
	eb := NewEventBus(8)
	ch, cancel := eb.Subscribe(api.EventFilter{Types: []string{"provider_status:error"}})
	defer cancel()

	if eb.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", eb.SubscriberCount())
	}

	eb.PublishBenchmark("provider_status", "run-9", map[string]any{"provider": "openai", "status": "done"})
	eb.PublishBenchmark("provider_status", "run-9", map[string]any{"provider": "deepgram", "status": "error", "error": "boom"})

	select {
	case evt := <-ch:
		if evt.Provider != "deepgram" || evt.SubType != "error" || evt.RunID != "run-9" {
			t.Errorf("unexpected event %+v", evt)
		}
		var payload map[string]any
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			t.Fatalf("Data is not valid JSON: %v", err)
		}
		if payload["error"] != "boom" {
			t.Errorf("payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	if eb.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount after cancel = %d, want 0", eb.SubscriberCount())
	}
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  api.SSEEvent
		filter api.EventFilter
		want   bool
	}{
		// Empty filter matches everything
		{
			name:   "empty_filter_matches_all",
			event:  api.SSEEvent{Type: "run_started", RunID: "r1"},
			filter: api.EventFilter{},
			want:   true,
		},

		// Type matching
		{
			name:   "type_match",
			event:  api.SSEEvent{Type: "run_started"},
			filter: api.EventFilter{Types: []string{"run_started"}},
			want:   true,
		},
		{
			name:   "type_no_match",
			event:  api.SSEEvent{Type: "run_started"},
			filter: api.EventFilter{Types: []string{"run_finished"}},
			want:   false,
		},
		{
			name:   "type_multiple_one_matches",
			event:  api.SSEEvent{Type: "run_finished"},
			filter: api.EventFilter{Types: []string{"run_started", " run_finished"}},
			want:   true,
		},

		// Compound type syntax
		{
			name:   "compound_type_exact_match",
			event:  api.SSEEvent{Type: "provider_status", SubType: "error"},
			filter: api.EventFilter{Types: []string{"provider_status:error"}},
			want:   true,
		},
		{
			name:   "compound_type_wrong_subtype",
			event:  api.SSEEvent{Type: "provider_status", SubType: "running"},
			filter: api.EventFilter{Types: []string{"provider_status:error"}},
			want:   false,
		},
		{
			name:   "plain_type_matches_any_subtype",
			event:  api.SSEEvent{Type: "provider_status", SubType: "done"},
			filter: api.EventFilter{Types: []string{"provider_status"}},
			want:   true,
		},

		// Run filter
		{
			name:   "run_match",
			event:  api.SSEEvent{Type: "run_started", RunID: "r1"},
			filter: api.EventFilter{Runs: []string{"r1", "r2"}},
			want:   true,
		},
		{
			name:   "run_no_match",
			event:  api.SSEEvent{Type: "run_started", RunID: "r3"},
			filter: api.EventFilter{Runs: []string{"r1", "r2"}},
			want:   false,
		},

		// Provider filter
		{
			name:   "provider_match",
			event:  api.SSEEvent{Type: "provider_status", Provider: "openai"},
			filter: api.EventFilter{Providers: []string{"openai"}},
			want:   true,
		},
		{
			name:   "provider_no_match",
			event:  api.SSEEvent{Type: "provider_status", Provider: "deepgram"},
			filter: api.EventFilter{Providers: []string{"openai"}},
			want:   false,
		},
		{
			name:   "run_level_event_passes_provider_filter",
			event:  api.SSEEvent{Type: "run_finished", RunID: "r1"},
			filter: api.EventFilter{Providers: []string{"openai"}},
			want:   true,
		},

		// Multi-dimension AND logic
		{
			name:   "multi_all_pass",
			event:  api.SSEEvent{Type: "provider_status", RunID: "r1", Provider: "openai"},
			filter: api.EventFilter{Types: []string{"provider_status"}, Runs: []string{"r1"}, Providers: []string{"openai"}},
			want:   true,
		},
		{
			name:   "multi_one_fails",
			event:  api.SSEEvent{Type: "provider_status", RunID: "r2", Provider: "openai"},
			filter: api.EventFilter{Types: []string{"provider_status"}, Runs: []string{"r1"}, Providers: []string{"openai"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesFilter(tt.event, tt.filter)
			if got != tt.want {
				t.Errorf("matchesFilter(%+v, %+v) = %v, want %v", tt.event, tt.filter, got, tt.want)
			}
		})
	}
}
