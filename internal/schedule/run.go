package schedule

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GuardrailWindow is the minimum gap between two non-failed runs of a tenant.
const GuardrailWindow = 20 * time.Hour

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// HoldsGuardrail reports whether a run with this status blocks the next one.
func (s RunStatus) HoldsGuardrail() bool {
	return s != RunFailed
}

// Run is the audit record of one automation run.
type Run struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	AccountID  uuid.UUID       `json:"account_id"`
	Trigger    Trigger         `json:"trigger"`
	Status     RunStatus       `json:"status"`
	Bundle     json.RawMessage `json:"bundle,omitempty"`
	Error      *string         `json:"error,omitempty"`
	ItemIDs    []uuid.UUID     `json:"item_ids,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunResult is what Complete records.
type RunResult struct {
	Status  RunStatus
	Bundle  json.RawMessage
	ItemIDs []uuid.UUID
	Error   *string
}

// RunStore is the run history. Begin must check the guardrail and insert
// atomically per tenant.
type RunStore interface {
	// LastRunAt returns the start of the latest run that holds the guardrail.
	LastRunAt(ctx context.Context, tenantID uuid.UUID) (*time.Time, error)
	// Begin inserts a running record, or returns ErrGuardrailActive when a
	// guardrail-holding run started after now-GuardrailWindow.
	Begin(ctx context.Context, s *Settings, trigger Trigger, now time.Time) (*Run, error)
	Complete(ctx context.Context, runID uuid.UUID, res RunResult, now time.Time) error
	Fail(ctx context.Context, runID uuid.UUID, reason string, now time.Time) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Run, error)
}

// GuardrailActive reports whether lastRun blocks a run at now.
func GuardrailActive(lastRun *time.Time, now time.Time) bool {
	return lastRun != nil && now.Sub(*lastRun) < GuardrailWindow
}
