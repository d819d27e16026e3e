package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/automation"
	"github.com/lalithlochan/autopilot/internal/schedule"
)

// GetSchedule handles GET /v1/tenants/{tenantID}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}

	s, err := h.deps.Schedules.Get(r.Context(), tenantID)
	if errors.Is(err, schedule.ErrNotFound) {
		// never configured: show what an upsert would start from
		d := schedule.Defaults(tenantID)
		s, err = &d, nil
	}
	if err != nil {
		h.writeStoreError(w, err, "Failed to get schedule")
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// PutSchedule handles PUT /v1/tenants/{tenantID}/schedule. Absent fields keep
// their current value.
func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}

	var patch schedule.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	s, err := h.deps.Schedules.Upsert(r.Context(), tenantID, patch)
	if err != nil {
		h.writeStoreError(w, err, "Failed to update schedule")
		return
	}

	h.logger.Info("schedule saved",
		zap.String("tenant_id", tenantID.String()),
		zap.Bool("enabled", s.Enabled),
		zap.String("cadence", string(s.Cadence)),
		zap.Int("hour", s.Hour),
		zap.String("timezone", s.Timezone),
	)
	h.writeJSON(w, http.StatusOK, s)
}

// RunNow handles POST /v1/tenants/{tenantID}/runs
func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}

	out, err := h.deps.Runner.RunNow(r.Context(), tenantID, h.deps.Now())
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusCreated, out)
	case errors.Is(err, automation.ErrRunFailed):
		h.writeJSON(w, http.StatusBadGateway, out)
	default:
		h.writeStoreError(w, err, "Failed to run automation")
	}
}

// ListRuns handles GET /v1/tenants/{tenantID}/runs?limit=20
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}

	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	runs, err := h.deps.Runs.ListByTenant(r.Context(), tenantID, limit)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*schedule.Run{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}
