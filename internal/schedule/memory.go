package schedule

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists tenant settings.
type Store interface {
	// Get returns ErrNotFound when the tenant has never been configured.
	Get(ctx context.Context, tenantID uuid.UUID) (*Settings, error)
	// Upsert merges p over the existing settings, or over Defaults.
	Upsert(ctx context.Context, tenantID uuid.UUID, p Patch) (*Settings, error)
	// ListEnabled returns one page of enabled tenants, least recently
	// updated first. A non-positive limit means no limit.
	ListEnabled(ctx context.Context, limit, offset int) ([]*Settings, error)
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	settings map[uuid.UUID]Settings
	now      func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{settings: make(map[uuid.UUID]Settings), now: now}
}

func (m *MemoryStore) Get(ctx context.Context, tenantID uuid.UUID) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	c := s.clone()
	return &c, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, tenantID uuid.UUID, p Patch) (*Settings, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	base, ok := m.settings[tenantID]
	if !ok {
		base = Defaults(tenantID)
		base.CreatedAt = now
	}
	next := Merge(base, p)
	next.UpdatedAt = now
	m.settings[tenantID] = next

	c := next.clone()
	return &c, nil
}

func (m *MemoryStore) ListEnabled(ctx context.Context, limit, offset int) ([]*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Settings
	for _, s := range m.settings {
		if s.Enabled {
			c := s.clone()
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].TenantID.String() < out[j].TenantID.String()
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	offset = max(offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryRunStore is an in-process RunStore. One mutex makes Begin atomic.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs []*Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

func (m *MemoryRunStore) LastRunAt(ctx context.Context, tenantID uuid.UUID) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRunAtLocked(tenantID), nil
}

func (m *MemoryRunStore) lastRunAtLocked(tenantID uuid.UUID) *time.Time {
	var last *time.Time
	for _, r := range m.runs {
		if r.TenantID != tenantID || !r.Status.HoldsGuardrail() {
			continue
		}
		if last == nil || r.StartedAt.After(*last) {
			at := r.StartedAt
			last = &at
		}
	}
	return last
}

func (m *MemoryRunStore) Begin(ctx context.Context, s *Settings, trigger Trigger, now time.Time) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if GuardrailActive(m.lastRunAtLocked(s.TenantID), now) {
		return nil, ErrGuardrailActive
	}

	r := &Run{
		ID:        uuid.New(),
		TenantID:  s.TenantID,
		AccountID: s.AccountID,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: now.UTC(),
	}
	m.runs = append(m.runs, r)
	return cloneRun(r), nil
}

func (m *MemoryRunStore) Complete(ctx context.Context, runID uuid.UUID, res RunResult, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.findLocked(runID)
	if err != nil {
		return err
	}
	finished := now.UTC()
	r.Status = res.Status
	r.Bundle = res.Bundle
	r.ItemIDs = slices.Clone(res.ItemIDs)
	r.Error = res.Error
	r.FinishedAt = &finished
	return nil
}

func (m *MemoryRunStore) Fail(ctx context.Context, runID uuid.UUID, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.findLocked(runID)
	if err != nil {
		return err
	}
	finished := now.UTC()
	r.Status = RunFailed
	r.Error = &reason
	r.FinishedAt = &finished
	return nil
}

func (m *MemoryRunStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Run
	for _, r := range m.runs {
		if r.TenantID == tenantID {
			out = append(out, cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRunStore) findLocked(id uuid.UUID) (*Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
}

func cloneRun(r *Run) *Run {
	c := *r
	c.ItemIDs = slices.Clone(r.ItemIDs)
	if r.Bundle != nil {
		c.Bundle = append([]byte(nil), r.Bundle...)
	}
	if r.Error != nil {
		msg := *r.Error
		c.Error = &msg
	}
	if r.FinishedAt != nil {
		at := *r.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}
