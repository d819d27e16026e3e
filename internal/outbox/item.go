// Package outbox defines the persisted work queue of side-effecting actions
// and an in-memory Store used in tests and single-process deployments.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type selects the payload shape and the provider capability an item is routed to.
type Type string

const (
	TypePublishPost Type = "publish_post"
	TypeSendSMS     Type = "send_sms"
	TypeSendEmail   Type = "send_email"
	TypePostListing Type = "post_listing"
)

// Types lists every item type in a stable order.
var Types = []Type{TypePublishPost, TypeSendSMS, TypeSendEmail, TypePostListing}

// ParseType validates a raw type string.
func ParseType(raw string) (Type, error) {
	t := Type(raw)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
	return t, nil
}

func (t Type) IsValid() bool {
	switch t {
	case TypePublishPost, TypeSendSMS, TypeSendEmail, TypePostListing:
		return true
	default:
		return false
	}
}

func (t Type) String() string { return string(t) }

// Status is the lifecycle state of an item.
//
// Transitions:
//
//	queued -> sent     dispatch succeeded (terminal)
//	queued -> failed   dispatch failed
//	failed -> queued   manual retry only
type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusSent || next == StatusFailed
	case StatusFailed:
		return next == StatusQueued
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

var (
	ErrNotFound          = errors.New("outbox item not found")
	ErrConflict          = errors.New("outbox item changed concurrently")
	ErrInvalidType       = errors.New("invalid outbox item type")
	ErrInvalidTransition = errors.New("invalid outbox status transition")
	ErrInvalidPayload    = errors.New("invalid outbox payload")
	ErrRetryLimitReached = errors.New("outbox item reached its attempt limit")
)

// Item is one unit of deferred work.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	AccountID    uuid.UUID       `json:"account_id"`
	Type         Type            `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	LastError    *string         `json:"last_error,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsDue reports whether the item may be dispatched at now.
func (it *Item) IsDue(now time.Time) bool {
	if it.Status != StatusQueued {
		return false
	}
	return it.ScheduledFor == nil || !it.ScheduledFor.After(now)
}

func (it *Item) clone() *Item {
	c := *it
	if it.Payload != nil {
		c.Payload = append(json.RawMessage(nil), it.Payload...)
	}
	if it.LastError != nil {
		msg := *it.LastError
		c.LastError = &msg
	}
	if it.ScheduledFor != nil {
		at := *it.ScheduledFor
		c.ScheduledFor = &at
	}
	return &c
}

// NewItem is the input to Store.Enqueue.
type NewItem struct {
	TenantID     uuid.UUID
	AccountID    uuid.UUID
	Type         Type
	Payload      json.RawMessage
	ScheduledFor *time.Time
}

// Validate checks the fields every store requires before insert.
func (n NewItem) Validate() error {
	if n.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidPayload)
	}
	if n.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account id is required", ErrInvalidPayload)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, n.Type)
	}
	if len(n.Payload) == 0 || !json.Valid(n.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrInvalidPayload)
	}
	return nil
}

// Expect is a compare-and-set precondition on the stored record.
type Expect struct {
	Status   Status
	Attempts *int
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status        *Status
	Attempts      *int
	LastError     *string
	ClearError    bool
	ScheduledFor  *time.Time
	ClearSchedule bool

	// Expect, when set, makes the update conditional. A mismatch yields ErrConflict.
	Expect *Expect
}

// Matches reports whether it satisfies the precondition.
func (e *Expect) Matches(it *Item) bool {
	if e == nil {
		return true
	}
	if e.Status != "" && it.Status != e.Status {
		return false
	}
	if e.Attempts != nil && it.Attempts != *e.Attempts {
		return false
	}
	return true
}

// Apply returns a copy of it with the patch applied.
func (p Patch) Apply(it *Item, now time.Time) (*Item, error) {
	next := it.clone()
	if p.Status != nil && *p.Status != it.Status {
		if !it.Status.CanTransitionTo(*p.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.Status, *p.Status)
		}
		next.Status = *p.Status
	}
	if p.Attempts != nil {
		next.Attempts = *p.Attempts
	}
	switch {
	case p.ClearError:
		next.LastError = nil
	case p.LastError != nil:
		msg := *p.LastError
		next.LastError = &msg
	}
	switch {
	case p.ClearSchedule:
		next.ScheduledFor = nil
	case p.ScheduledFor != nil:
		at := p.ScheduledFor.UTC()
		next.ScheduledFor = &at
	}
	if next.Status == StatusSent {
		next.LastError = nil
	}
	if next.Status == StatusFailed && (next.LastError == nil || *next.LastError == "") {
		return nil, fmt.Errorf("%w: failed item requires an error message", ErrInvalidTransition)
	}
	next.UpdatedAt = now
	return next, nil
}

// Ptr is a helper for building patches.
func Ptr[T any](v T) *T { return &v }
