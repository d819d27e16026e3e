package db

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/autopilot/internal/outbox"
	"github.com/lalithlochan/autopilot/internal/schedule"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "url wins",
			cfg:  Config{URL: "postgres://u:p@db/app", Host: "ignored"},
			want: "postgres://u:p@db/app",
		},
		{
			name: "no password",
			cfg:  Config{Host: "localhost", Port: 5432, User: "app", Database: "autopilot", SSLMode: "disable"},
			want: "host=localhost port=5432 user=app dbname=autopilot sslmode=disable",
		},
		{
			name: "with password",
			cfg:  Config{Host: "db", Port: 5433, User: "app", Password: "secret", Database: "autopilot", SSLMode: "require"},
			want: "host=db port=5433 user=app password=secret dbname=autopilot sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListDueQuery(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	query, args := listDueQuery(now, 10, nil)
	if strings.Contains(query, "ANY") {
		t.Error("unfiltered query should not filter on type")
	}
	if !strings.Contains(query, "NULLS FIRST, created_at ASC") || !strings.Contains(query, "LIMIT $2") {
		t.Errorf("unexpected query:\n%s", query)
	}
	if len(args) != 2 || *args[1].(*int) != 10 {
		t.Errorf("unexpected args %v", args)
	}

	// no limit reads as LIMIT NULL, matching the in-memory store
	_, args = listDueQuery(now, 0, nil)
	if lim := args[1].(*int); lim != nil {
		t.Errorf("expected nil limit for 0, got %d", *lim)
	}

	query, args = listDueQuery(now, 5, []outbox.Type{outbox.TypeSendSMS, outbox.TypeSendEmail})
	if !strings.Contains(query, "type = ANY($2)") || !strings.Contains(query, "LIMIT $3") {
		t.Errorf("unexpected filtered query:\n%s", query)
	}
	names, ok := args[1].([]string)
	if !ok || len(names) != 2 || names[0] != "send_sms" {
		t.Errorf("unexpected type args %v", args[1])
	}
}

func TestSettingsArgs(t *testing.T) {
	s := schedule.Defaults(uuid.New())
	s.CustomDays = []int{1, 3}
	s.Channels = []schedule.Channel{schedule.ChannelSMS}
	s.Delivery = schedule.Delivery{SMSTo: "+15555550100"}

	args, err := settingsArgs(&s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(scheduleColumns, ",") + 1; len(args) != n {
		t.Fatalf("expected %d args to match columns, got %d", n, len(args))
	}
	if days := args[6].([]int32); len(days) != 2 || days[1] != 3 {
		t.Errorf("unexpected custom days %v", args[6])
	}
	if goals := args[7].([]string); goals == nil {
		t.Error("nil goals should be sent as an empty array")
	}
	if delivery := string(args[10].([]byte)); !strings.Contains(delivery, `"sms_to":"+15555550100"`) {
		t.Errorf("unexpected delivery json %s", delivery)
	}
}
