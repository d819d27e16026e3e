package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/automation"
	"github.com/lalithlochan/autopilot/internal/metrics"
	"github.com/lalithlochan/autopilot/internal/outbox"
	"github.com/lalithlochan/autopilot/internal/redis"
	"github.com/lalithlochan/autopilot/internal/schedule"
	"github.com/lalithlochan/autopilot/internal/worker"
)

// OutboxProcessor drains due items and re-queues failed ones.
type OutboxProcessor interface {
	ProcessDue(ctx context.Context, opts worker.Options) (worker.Result, error)
	Retry(ctx context.Context, id uuid.UUID) (*outbox.Item, error)
}

// AutomationRunner runs tenants on schedule or on demand.
type AutomationRunner interface {
	RunScheduled(ctx context.Context, now time.Time) (automation.Result, error)
	RunNow(ctx context.Context, tenantID uuid.UUID, now time.Time) (automation.RunOutcome, error)
}

// Idempotency deduplicates enqueue requests by Idempotency-Key.
type Idempotency interface {
	LookupOrReserve(ctx context.Context, tenantID, key string) (*redis.EnqueueRecord, error)
	Complete(ctx context.Context, tenantID, key, itemID string) error
	Release(ctx context.Context, tenantID, key string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Deps are the collaborators a Handler needs. Idempotency may be nil.
type Deps struct {
	Outbox      outbox.Store
	Processor   OutboxProcessor
	Schedules   schedule.Store
	Runs        schedule.RunStore
	Runner      AutomationRunner
	Idempotency Idempotency
	Now         func() time.Time
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	deps   Deps
}

func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{logger: logger, deps: deps}
}

// EnqueueRequest is the body of POST /v1/outbox.
type EnqueueRequest struct {
	TenantID     string          `json:"tenant_id"`
	AccountID    string          `json:"account_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// EnqueueResponse is returned after creating an outbox item
type EnqueueResponse struct {
	ID string `json:"id"`
}

// Enqueue handles POST /v1/outbox. An Idempotency-Key header makes repeated
// requests return the first item instead of creating another.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid tenant_id", "tenant_id must be a valid UUID")
		return
	}
	accountID := tenantID
	if req.AccountID != "" {
		if accountID, err = uuid.Parse(req.AccountID); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid account_id", "account_id must be a valid UUID")
			return
		}
	}
	itemType, err := outbox.ParseType(req.Type)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type",
			"type must be publish_post, send_sms, send_email or post_listing")
		return
	}
	if err := outbox.ValidatePayload(itemType, req.Payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid payload", err.Error())
		return
	}

	reserved := false
	if idempotencyKey != "" && h.deps.Idempotency != nil {
		rec, err := h.deps.Idempotency.LookupOrReserve(ctx, req.TenantID, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrRequestInFlight):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case rec != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("X-Idempotency-Replayed", "true")
			h.writeJSON(w, http.StatusCreated, EnqueueResponse{ID: rec.ItemID})
			return
		default:
			reserved = true
		}
	}

	it, err := h.deps.Outbox.Enqueue(ctx, outbox.NewItem{
		TenantID:     tenantID,
		AccountID:    accountID,
		Type:         itemType,
		Payload:      req.Payload,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		if reserved {
			if rerr := h.deps.Idempotency.Release(ctx, req.TenantID, idempotencyKey); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		h.logger.Error("failed to enqueue outbox item",
			zap.Error(err),
			zap.String("tenant_id", req.TenantID),
			zap.String("type", req.Type),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to enqueue item", "")
		return
	}
	metrics.RecordEnqueued(it.Type.String())

	if reserved {
		if err := h.deps.Idempotency.Complete(ctx, req.TenantID, idempotencyKey, it.ID.String()); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.writeJSON(w, http.StatusCreated, EnqueueResponse{ID: it.ID.String()})
}

// GetItem handles GET /v1/outbox/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	it, err := h.deps.Outbox.GetByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get item")
		return
	}
	h.writeJSON(w, http.StatusOK, it)
}

// ListItems handles GET /v1/outbox?account_id=xxx&limit=20&offset=0
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	accountIDStr := r.URL.Query().Get("account_id")
	if accountIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing account_id", "account_id query parameter is required")
		return
	}
	accountID, err := uuid.Parse(accountIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid account_id", "account_id must be a valid UUID")
		return
	}

	limit, offset := pagination(r)
	items, err := h.deps.Outbox.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list outbox items",
			zap.Error(err),
			zap.String("account_id", accountIDStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list items", "")
		return
	}
	if items == nil {
		items = []*outbox.Item{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// RetryItem handles POST /v1/outbox/{id}/retry
func (h *Handler) RetryItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	it, err := h.deps.Processor.Retry(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to retry item")
		return
	}
	h.writeJSON(w, http.StatusOK, it)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps domain sentinels onto problem responses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, outbox.ErrNotFound), errors.Is(err, schedule.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Not found", "")
	case errors.Is(err, outbox.ErrRetryLimitReached):
		h.writeError(w, http.StatusUnprocessableEntity, "retry_limit_reached", title, err.Error())
	case errors.Is(err, outbox.ErrInvalidTransition), errors.Is(err, outbox.ErrConflict):
		h.writeError(w, http.StatusConflict, "invalid_state", title, err.Error())
	case errors.Is(err, schedule.ErrInvalidSettings):
		h.writeError(w, http.StatusBadRequest, "invalid_settings", title, err.Error())
	case errors.Is(err, schedule.ErrGuardrailActive):
		h.writeError(w, http.StatusConflict, "guardrail_active", "Automation already ran recently", err.Error())
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
