package handler

import (
	"net/http"
	"time"
)

// CycleStatus reports whether a settlement cycle is running.
type CycleStatus interface {
	RunningSince() time.Time
}

// StatusHandler serves the backend status for the dashboard.
type StatusHandler struct {
	Mode     string
	Schedule string
	cycles   CycleStatus
}

// NewStatusHandler creates a StatusHandler. cycles may be nil when the
// process does not run the scheduler.
func NewStatusHandler(mode, schedule string, cycles CycleStatus) *StatusHandler {
	return &StatusHandler{Mode: mode, Schedule: schedule, cycles: cycles}
}

// GetStatus responds with the process mode, the settlement schedule and the
// start time of a cycle in progress.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":     h.Mode,
		"schedule": h.Schedule,
	}
	if h.cycles != nil {
		if since := h.cycles.RunningSince(); !since.IsZero() {
			resp["cycle_running_since"] = since.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
