package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type EventsHandler struct {
	events EventSource
}

func NewEventsHandler(events EventSource) *EventsHandler {
	return &EventsHandler{events: events}
}

// StreamEvents opens an SSE connection and pushes filtered benchmark events.
// Filters: types (comma list, "type" or "type:sub_type"), runs, providers.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	// Middleware wraps the writer, so flush through the controller which
	// follows Unwrap.
	rc := http.NewResponseController(w)

	filter := EventFilter{
		Types:     QueryStringList(r, "types"),
		Runs:      QueryStringList(r, "runs"),
		Providers: QueryStringList(r, "providers"),
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	// Replay missed events if Last-Event-ID is provided
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.events.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
		}
		rc.Flush()
	}

	ch, cancel := h.events.Subscribe(filter)
	defer cancel()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e SSEEvent) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
