package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/stt-bench/internal/benchmark"
)

// HealthChecker is satisfied by the database pool.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionChecker is satisfied by the MQTT client.
type ConnectionChecker interface {
	IsConnected() bool
}

// QueueStatter is satisfied by the benchmark queue.
type QueueStatter interface {
	Stats() benchmark.QueueStats
}

type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Checks        map[string]string     `json:"checks"`
	Providers     []string              `json:"providers"`
	Storage       string                `json:"storage,omitempty"`
	Queue         *benchmark.QueueStats `json:"queue,omitempty"`
	Watcher       *WatcherStatusData    `json:"watcher,omitempty"`
}

// HealthOptions wires optional dependencies into the health handler. Leave a
// field nil when the component is not configured.
type HealthOptions struct {
	DB        HealthChecker
	MQTT      ConnectionChecker
	Queue     QueueStatter
	Watcher   WatcherStatus
	Providers []string
	Storage   string
	Version   string
	StartTime time.Time
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check. Runs fall back to memory without one, so only a
	// configured but failing database is unhealthy.
	if h.opts.DB != nil {
		if err := h.opts.DB.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.opts.MQTT != nil {
		if h.opts.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Providers check
	if len(h.opts.Providers) == 0 {
		checks["providers"] = "none_configured"
		if status == "healthy" {
			status = "degraded"
		}
	} else {
		checks["providers"] = "ok"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Checks:        checks,
		Providers:     h.opts.Providers,
		Storage:       h.opts.Storage,
	}
	if resp.Providers == nil {
		resp.Providers = []string{}
	}

	if h.opts.Queue != nil {
		qs := h.opts.Queue.Stats()
		resp.Queue = &qs
		checks["queue"] = "ok"
		if qs.Pending >= qs.Capacity {
			checks["queue"] = "full"
		}
	}

	// File watcher check
	if h.opts.Watcher != nil {
		if ws := h.opts.Watcher.Status(); ws != nil {
			checks["file_watcher"] = ws.Status
			resp.Watcher = ws
		}
	}

	WriteJSON(w, httpStatus, resp)
}
