package db

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lalithlochan/autopilot/internal/outbox"
	"github.com/lalithlochan/autopilot/internal/schedule"
)

const itemColumns = `
	id, tenant_id, account_id, type, payload,
	status, attempts, last_error, scheduled_for,
	created_at, updated_at`

const scheduleColumns = `
	tenant_id, account_id, enabled, cadence, hour, timezone,
	custom_days, goals, focus_audiences, channels, delivery,
	created_at, updated_at`

const runColumns = `
	id, tenant_id, account_id, trigger, status, bundle,
	error, item_ids, started_at, finished_at`

func scanItem(row pgx.Row) (*outbox.Item, error) {
	var it outbox.Item
	var payload []byte
	err := row.Scan(
		&it.ID,
		&it.TenantID,
		&it.AccountID,
		&it.Type,
		&payload,
		&it.Status,
		&it.Attempts,
		&it.LastError,
		&it.ScheduledFor,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Payload = json.RawMessage(payload)
	return &it, nil
}

func scanSettings(row pgx.Row) (*schedule.Settings, error) {
	var s schedule.Settings
	var customDays []int32
	var channels []string
	var delivery []byte
	err := row.Scan(
		&s.TenantID,
		&s.AccountID,
		&s.Enabled,
		&s.Cadence,
		&s.Hour,
		&s.Timezone,
		&customDays,
		&s.Goals,
		&s.FocusAudiences,
		&channels,
		&delivery,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, d := range customDays {
		s.CustomDays = append(s.CustomDays, int(d))
	}
	for _, c := range channels {
		s.Channels = append(s.Channels, schedule.Channel(c))
	}
	if len(delivery) > 0 {
		if err := json.Unmarshal(delivery, &s.Delivery); err != nil {
			return nil, fmt.Errorf("decode delivery: %w", err)
		}
	}
	return &s, nil
}

// settingsArgs returns the values for scheduleColumns, in order.
func settingsArgs(s *schedule.Settings) ([]any, error) {
	delivery, err := json.Marshal(s.Delivery)
	if err != nil {
		return nil, fmt.Errorf("encode delivery: %w", err)
	}
	customDays := make([]int32, 0, len(s.CustomDays))
	for _, d := range s.CustomDays {
		customDays = append(customDays, int32(d))
	}
	channels := make([]string, 0, len(s.Channels))
	for _, c := range s.Channels {
		channels = append(channels, string(c))
	}
	return []any{
		s.TenantID,
		s.AccountID,
		s.Enabled,
		string(s.Cadence),
		s.Hour,
		s.Timezone,
		customDays,
		nonNil(s.Goals),
		nonNil(s.FocusAudiences),
		channels,
		delivery,
		s.CreatedAt,
		s.UpdatedAt,
	}, nil
}

func scanRun(row pgx.Row) (*schedule.Run, error) {
	var r schedule.Run
	var bundle []byte
	err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.AccountID,
		&r.Trigger,
		&r.Status,
		&bundle,
		&r.Error,
		&r.ItemIDs,
		&r.StartedAt,
		&r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(bundle) > 0 {
		r.Bundle = json.RawMessage(bundle)
	}
	return &r, nil
}

// limitArg renders a page size for SQL. Non-positive means no limit, which
// LIMIT NULL expresses in PostgreSQL; the in-memory stores read it the same way.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// nonNil keeps NOT NULL text[] columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
