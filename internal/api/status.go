package api

import (
	"net/http"
	"runtime"
	"time"
)

// ControllerStatus is the live state supplied by the controller.
type ControllerStatus struct {
	Door          string `json:"door"`
	Cycle         string `json:"cycle"`
	Network       bool   `json:"network"`
	Session       bool   `json:"session"`
	TableEntries  int    `json:"table_entries"`
	TableError    string `json:"table_error,omitempty"`
	EventsQueued  int    `json:"events_queued"`
	EventsDropped uint64 `json:"events_dropped"`
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Timestamp     string           `json:"timestamp"`
	Device        string           `json:"device"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Controller    ControllerStatus `json:"controller"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Device:        s.deviceID,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Controller:    s.status(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	})
}
