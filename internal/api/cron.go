package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/metrics"
	"github.com/lalithlochan/autopilot/internal/outbox"
	"github.com/lalithlochan/autopilot/internal/worker"
)

// CronAuth requires "Authorization: Bearer <secret>". An empty secret locks
// the endpoints instead of opening them.
func CronAuth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || !found || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				logger.Warn("rejected cron request",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(ErrorResponse{
					Type:   "unauthorized",
					Title:  "Unauthorized",
					Status: http.StatusUnauthorized,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CronOutboxRequest optionally narrows one outbox pass.
type CronOutboxRequest struct {
	Limit int      `json:"limit,omitempty"`
	Types []string `json:"types,omitempty"`
}

// CronOutbox handles POST /v1/cron/outbox
func (h *Handler) CronOutbox(w http.ResponseWriter, r *http.Request) {
	var req CronOutboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	opts := worker.Options{Now: h.deps.Now(), Limit: req.Limit}
	for _, raw := range req.Types {
		t, err := outbox.ParseType(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type", err.Error())
			return
		}
		opts.Types = append(opts.Types, t)
	}

	start := time.Now()
	res, err := h.deps.Processor.ProcessDue(r.Context(), opts)
	metrics.RecordTick("outbox", time.Since(start))
	if err != nil {
		h.logger.Error("outbox tick failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "tick_failed", "Outbox pass failed", err.Error())
		return
	}

	h.logger.Info("outbox tick finished",
		zap.Int("due", res.Due),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred),
	)
	h.writeJSON(w, http.StatusOK, res)
}

// CronAutomation handles POST /v1/cron/automation
func (h *Handler) CronAutomation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res, err := h.deps.Runner.RunScheduled(r.Context(), h.deps.Now())
	metrics.RecordTick("automation", time.Since(start))
	if err != nil {
		h.logger.Error("automation tick failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "tick_failed", "Automation pass failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}
