package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// CycleTrigger runs a settlement cycle on demand.
type CycleTrigger interface {
	TriggerNow(ctx context.Context) (domain.SettlementReport, error)
}

// SettlementHandler exposes the operator endpoints of the settlement
// scheduler.
type SettlementHandler struct {
	trigger CycleTrigger
	status  CycleStatus
	runs    domain.SettlementRunStore
	logger  *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler. trigger and status are
// nil in processes that do not run the scheduler; the trigger endpoint then
// answers 503.
func NewSettlementHandler(trigger CycleTrigger, status CycleStatus, runs domain.SettlementRunStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		trigger: trigger,
		status:  status,
		runs:    runs,
		logger:  logHandler(logger, "settlement"),
	}
}

// Trigger starts one cycle in the background and returns immediately. The
// finished report reaches clients over the settlement channel.
// POST /api/settlement/trigger
func (h *SettlementHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement scheduler is not running in this process")
		return
	}
	if h.status != nil {
		if since := h.status.RunningSince(); !since.IsZero() {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":         domain.ErrCycleInFlight.Error(),
				"running_since": since.UTC().Format(time.RFC3339),
			})
			return
		}
	}

	// The cycle must outlive the request.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.trigger.TriggerNow(ctx); err != nil && !errors.Is(err, domain.ErrCycleInFlight) {
			h.logger.ErrorContext(ctx, "handler: manual settlement failed", slog.String("error", err.Error()))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// ListRuns returns recent settlement cycles, newest first.
// GET /api/settlement/runs?limit=20
func (h *SettlementHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 200)
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list settlement runs", err)
		return
	}
	if runs == nil {
		runs = []domain.SettlementReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
