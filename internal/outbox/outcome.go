package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Outcome describes an item reaching a terminal state for one attempt.
// Published to downstream consumers; not persisted by the store.
type Outcome struct {
	ItemID     uuid.UUID `json:"item_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	AccountID  uuid.UUID `json:"account_id"`
	Type       Type      `json:"type"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	ProviderID string    `json:"provider_message_id,omitempty"`
	At         time.Time `json:"at"`
}
