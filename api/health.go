package api

import (
	"net/http"
	"runtime"
	"time"
)

type databaseHealth struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Error  string `json:"error,omitempty"`
}

type healthBody struct {
	Status               string         `json:"status"`
	Version              string         `json:"version"`
	UptimeSeconds        float64        `json:"uptime_seconds"`
	ActiveWorkflows      int            `json:"active_workflows"`
	WebsocketConnections int            `json:"websocket_connections"`
	MemoryMB             float64        `json:"memory_mb"`
	CPUPercent           float64        `json:"cpu_percent"`
	Database             databaseHealth `json:"database"`
}

// version is stamped at build time; "dev" otherwise.
var version = "dev"

// handleHealth reports aggregate process health, degrading only when the
// State Store itself is unreachable (spec.md §7's user-visible-behavior
// rule (d)).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	db := databaseHealth{Status: "healthy", Mode: "postgres"}
	if err := s.store.Pool.Ping(ctx); err != nil {
		status = "degraded"
		db.Status = "unhealthy"
		db.Error = err.Error()
	}

	active, err := s.store.Workflows.ListActive(ctx)
	if err != nil {
		status = "degraded"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, healthBody{
		Status:               status,
		Version:              version,
		UptimeSeconds:        time.Since(s.startedAt).Seconds(),
		ActiveWorkflows:      len(active),
		WebsocketConnections: s.hub.connectionCount(),
		MemoryMB:             float64(mem.Alloc) / (1024 * 1024),
		CPUPercent:           0,
		Database:             db,
	})
}

// handleHealthLive always returns 200 when the process is responding at
// all, independent of downstream health.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleHealthReady returns 200 only once the store is reachable.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
