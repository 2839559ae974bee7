package handlers

import (
	"net/http"
	"time"
)

// HealthResponse is the body of the health probes.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Counts    map[string]int `json:"counts,omitempty"`
}

// Counter exposes a live object count for the readiness report.
type Counter func() int

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	rooms  Counter
	files  Counter
	shares Counter
}

// NewHealthHandler creates a HealthHandler from the component counters.
func NewHealthHandler(rooms, files, shares Counter) *HealthHandler {
	return &HealthHandler{rooms: rooms, files: files, shares: shares}
}

// Liveness handles GET /health. Always healthy while the process serves.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Readiness handles GET /health/ready and reports the component counts.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Counts: map[string]int{
			"rooms":  h.rooms(),
			"files":  h.files(),
			"shares": h.shares(),
		},
	})
}
