package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists outbox items. Implementations must make conditional
// updates (Patch.Expect) atomic per record.
type Store interface {
	Enqueue(ctx context.Context, n NewItem) (*Item, error)
	ListDue(ctx context.Context, now time.Time, limit int, types ...Type) ([]*Item, error)
	Update(ctx context.Context, id uuid.UUID, p Patch) (*Item, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Item, error)
}

// MemoryStore is a mutex-guarded Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Item
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. now stamps created/updated times;
// nil means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{items: make(map[uuid.UUID]*Item), now: now}
}

func (m *MemoryStore) Enqueue(ctx context.Context, n NewItem) (*Item, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	it := &Item{
		ID:        uuid.New(),
		TenantID:  n.TenantID,
		AccountID: n.AccountID,
		Type:      n.Type,
		Payload:   n.Payload,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if n.ScheduledFor != nil {
		at := n.ScheduledFor.UTC()
		it.ScheduledFor = &at
	}
	m.items[it.ID] = it.clone()
	return it, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int, types ...Type) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Item
	for _, it := range m.items {
		if !it.IsDue(now) || !typeAllowed(it.Type, types) {
			continue
		}
		due = append(due, it.clone())
	}
	SortDue(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Update(ctx context.Context, id uuid.UUID, p Patch) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !p.Expect.Matches(cur) {
		return nil, ErrConflict
	}
	next, err := p.Apply(cur, m.now().UTC())
	if err != nil {
		return nil, err
	}
	m.items[id] = next
	return next.clone(), nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return it.clone(), nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Item
	for _, it := range m.items {
		if it.AccountID == accountID {
			out = append(out, it.clone())
		}
	}
	// newest first, matching the SQL store
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

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

// SortDue orders items by scheduled time ascending with unscheduled items
// first, then by creation time.
func SortDue(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.ScheduledFor == nil && b.ScheduledFor != nil:
			return true
		case a.ScheduledFor != nil && b.ScheduledFor == nil:
			return false
		case a.ScheduledFor != nil && !a.ScheduledFor.Equal(*b.ScheduledFor):
			return a.ScheduledFor.Before(*b.ScheduledFor)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func typeAllowed(t Type, types []Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, allowed := range types {
		if t == allowed {
			return true
		}
	}
	return false
}
