package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func chicago(hour int, cadence Cadence) *Settings {
	return &Settings{
		TenantID: uuid.New(),
		Enabled:  true,
		Cadence:  cadence,
		Hour:     hour,
		Timezone: "America/Chicago",
	}
}

func TestEvaluate_TimezoneAcrossDST(t *testing.T) {
	s := chicago(7, CadenceDaily)

	tests := []struct {
		name string
		now  string
		due  bool
	}{
		{"CST 7am is 13:00 UTC", "2026-03-07T13:00:00Z", true},
		{"CST 6am", "2026-03-07T12:00:00Z", false},
		{"DST start day 7am CDT is 12:00 UTC", "2026-03-08T12:00:00Z", true},
		{"CDT 7am is 12:00 UTC", "2026-03-09T12:00:00Z", true},
		{"CDT 8am", "2026-03-09T13:00:00Z", false},
		{"back on CST after fall back", "2026-11-02T13:00:00Z", true},
		{"CST 6am after fall back", "2026-11-02T12:00:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(s, utc(tt.now), nil)
			if d.Due != tt.due {
				t.Errorf("Due = %v (%s, local %s), want %v", d.Due, d.Reason, d.Local, tt.due)
			}
		})
	}
}

func TestEvaluate_WeekdayCadence(t *testing.T) {
	s := chicago(7, CadenceWeekday)

	tests := []struct {
		now    string
		due    bool
		reason Reason
	}{
		{"2026-03-07T13:00:00Z", false, ReasonWeekend}, // Saturday
		{"2026-03-08T12:00:00Z", false, ReasonWeekend}, // Sunday
		{"2026-03-09T12:00:00Z", true, ReasonDue},      // Monday
	}

	for _, tt := range tests {
		d := Evaluate(s, utc(tt.now), nil)
		if d.Due != tt.due || d.Reason != tt.reason {
			t.Errorf("%s: got %v/%s, want %v/%s", tt.now, d.Due, d.Reason, tt.due, tt.reason)
		}
	}
}

func TestEvaluate_CustomCadence(t *testing.T) {
	s := chicago(7, CadenceCustom)
	s.CustomDays = []int{2, 4} // Tuesday, Thursday

	if d := Evaluate(s, utc("2026-03-09T12:00:00Z"), nil); d.Due || d.Reason != ReasonNotCustomDay {
		t.Errorf("Monday should not be due, got %v/%s", d.Due, d.Reason)
	}
	if d := Evaluate(s, utc("2026-03-10T12:00:00Z"), nil); !d.Due {
		t.Errorf("Tuesday should be due, got %s", d.Reason)
	}

	s.CustomDays = nil
	if d := Evaluate(s, utc("2026-03-09T12:00:00Z"), nil); !d.Due {
		t.Errorf("empty custom days should behave like daily, got %s", d.Reason)
	}
}

func TestEvaluate_Guardrail(t *testing.T) {
	s := &Settings{TenantID: uuid.New(), Enabled: true, Cadence: CadenceDaily, Hour: 9, Timezone: "UTC"}
	now := utc("2026-03-10T09:00:00Z")

	recent := now.Add(-19 * time.Hour)
	if d := Evaluate(s, now, &recent); d.Due || d.Reason != ReasonGuardrail {
		t.Errorf("19h ago should be held by guardrail, got %v/%s", d.Due, d.Reason)
	}

	older := now.Add(-21 * time.Hour)
	if d := Evaluate(s, now, &older); !d.Due {
		t.Errorf("21h ago should be due, got %s", d.Reason)
	}

	exact := now.Add(-GuardrailWindow)
	if d := Evaluate(s, now, &exact); !d.Due {
		t.Errorf("exactly 20h ago should be due, got %s", d.Reason)
	}
}

func TestEvaluate_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	s := &Settings{TenantID: uuid.New(), Enabled: true, Cadence: CadenceDaily, Hour: 7, Timezone: "Mars/Olympus_Mons"}

	d := Evaluate(s, utc("2026-03-10T07:00:00Z"), nil)
	if !d.Due {
		t.Errorf("expected due in UTC, got %s", d.Reason)
	}
	if !d.TimezoneFallback {
		t.Error("expected TimezoneFallback")
	}
}

func TestEvaluate_HourClamped(t *testing.T) {
	tests := []struct {
		hour    int
		now     string
		wantHr  int
		clamped bool
	}{
		{30, "2026-03-10T23:00:00Z", 23, true},
		{-4, "2026-03-10T00:00:00Z", 0, true},
		{12, "2026-03-10T12:00:00Z", 12, false},
	}

	for _, tt := range tests {
		s := &Settings{TenantID: uuid.New(), Enabled: true, Cadence: CadenceDaily, Hour: tt.hour, Timezone: "UTC"}
		d := Evaluate(s, utc(tt.now), nil)
		if !d.Due || d.Hour != tt.wantHr || d.HourClamped != tt.clamped {
			t.Errorf("hour %d: got due=%v hour=%d clamped=%v", tt.hour, d.Due, d.Hour, d.HourClamped)
		}
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	s := &Settings{TenantID: uuid.New(), Cadence: CadenceDaily, Hour: 7, Timezone: "UTC"}
	if d := Evaluate(s, utc("2026-03-10T07:00:00Z"), nil); d.Due || d.Reason != ReasonDisabled {
		t.Errorf("disabled tenant should not be due, got %v/%s", d.Due, d.Reason)
	}
}

func newTenant(t *testing.T, store *MemoryStore, hour int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := store.Upsert(context.Background(), id, Patch{
		Enabled:  ptr(true),
		Hour:     ptr(hour),
		Timezone: ptr("UTC"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return id
}

func ptr[T any](v T) *T { return &v }

func TestScheduler_Due(t *testing.T) {
	clock := utc("2026-03-01T00:00:00Z")
	store := NewMemoryStore(func() time.Time { return clock })
	runs := NewMemoryRunStore()
	ctx := context.Background()

	fresh := newTenant(t, store, 9)
	clock = clock.Add(time.Minute)
	ranRecently := newTenant(t, store, 9)
	clock = clock.Add(time.Minute)
	ranYesterday := newTenant(t, store, 9)
	clock = clock.Add(time.Minute)
	newTenant(t, store, 10) // wrong hour

	now := utc("2026-03-10T09:00:00Z")

	st, _ := store.Get(ctx, ranRecently)
	if _, err := runs.Begin(ctx, st, TriggerScheduled, now.Add(-19*time.Hour)); err != nil {
		t.Fatalf("begin: %v", err)
	}
	st, _ = store.Get(ctx, ranYesterday)
	if _, err := runs.Begin(ctx, st, TriggerScheduled, now.Add(-21*time.Hour)); err != nil {
		t.Fatalf("begin: %v", err)
	}

	s := NewScheduler(store, runs, Config{}, zap.NewNop())
	due, err := s.Due(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(due) != 2 {
		t.Fatalf("expected 2 due tenants, got %d", len(due))
	}
	if due[0].TenantID != fresh || due[1].TenantID != ranYesterday {
		t.Errorf("unexpected due order: %s, %s", due[0].TenantID, due[1].TenantID)
	}
}

func TestScheduler_CapKeepsOldestUpdated(t *testing.T) {
	clock := utc("2026-03-01T00:00:00Z")
	store := NewMemoryStore(func() time.Time { return clock })

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, newTenant(t, store, 9))
		clock = clock.Add(time.Minute)
	}

	// touching the first tenant moves it to the back of the line
	if _, err := store.Upsert(context.Background(), ids[0], Patch{Goals: &[]string{"foot traffic"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s := NewScheduler(store, NewMemoryRunStore(), Config{Cap: 2}, zap.NewNop())
	due, err := s.Due(context.Background(), utc("2026-03-10T09:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 || due[0].TenantID != ids[1] || due[1].TenantID != ids[2] {
		t.Errorf("expected tenants 1 and 2, got %v", due)
	}
}

func TestScheduler_DuePagesPastFirstPage(t *testing.T) {
	clock := utc("2026-03-01T00:00:00Z")
	store := NewMemoryStore(func() time.Time { return clock })

	// the first page is all wrong-hour tenants; the due ones come later
	for i := 0; i < 3; i++ {
		newTenant(t, store, 10)
		clock = clock.Add(time.Minute)
	}
	var want []uuid.UUID
	for i := 0; i < 4; i++ {
		want = append(want, newTenant(t, store, 9))
		clock = clock.Add(time.Minute)
	}

	s := NewScheduler(store, NewMemoryRunStore(), Config{PageSize: 2}, zap.NewNop())
	due, err := s.Due(context.Background(), utc("2026-03-10T09:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != len(want) {
		t.Fatalf("expected %d due tenants, got %d", len(want), len(due))
	}
	for i, id := range want {
		if due[i].TenantID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, due[i].TenantID)
		}
	}

	capped := NewScheduler(store, NewMemoryRunStore(), Config{PageSize: 2, Cap: 3}, zap.NewNop())
	due, _ = capped.Due(context.Background(), utc("2026-03-10T09:00:00Z"))
	if len(due) != 3 || due[2].TenantID != want[2] {
		t.Errorf("expected the 3 oldest due tenants, got %v", due)
	}
}

type brokenRuns struct {
	*MemoryRunStore
	bad uuid.UUID
}

func (b *brokenRuns) LastRunAt(ctx context.Context, tenantID uuid.UUID) (*time.Time, error) {
	if tenantID == b.bad {
		return nil, errors.New("connection reset")
	}
	return b.MemoryRunStore.LastRunAt(ctx, tenantID)
}

func TestScheduler_HistoryErrorSkipsOnlyThatTenant(t *testing.T) {
	clock := utc("2026-03-01T00:00:00Z")
	store := NewMemoryStore(func() time.Time { return clock })
	bad := newTenant(t, store, 9)
	clock = clock.Add(time.Minute)
	good := newTenant(t, store, 9)

	s := NewScheduler(store, &brokenRuns{MemoryRunStore: NewMemoryRunStore(), bad: bad}, Config{}, zap.NewNop())
	due, err := s.Due(context.Background(), utc("2026-03-10T09:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].TenantID != good {
		t.Errorf("expected only the good tenant, got %v", due)
	}
}
