package api

// EventSource provides benchmark progress events to the SSE endpoint.
// The ingest event bus implements this interface, so api never imports it.
type EventSource interface {
	// Subscribe returns a channel that receives SSE events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent
}

// WatcherStatus reports drop-folder watcher state for the health endpoint.
type WatcherStatus interface {
	Status() *WatcherStatusData
}

// WatcherStatusData represents the status of the drop-folder watcher.
type WatcherStatusData struct {
	Status         string `json:"status"` // "starting", "watching", "stopped"
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
}

// EventFilter specifies which events an SSE subscriber wants to receive.
type EventFilter struct {
	Types     []string // "provider_status" or compound "provider_status:done"
	Runs      []string
	Providers []string
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID        string `json:"event_id"`
	Type      string `json:"event_type"`
	SubType   string `json:"sub_type,omitempty"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Data      []byte `json:"-"` // pre-serialized JSON payload
}
