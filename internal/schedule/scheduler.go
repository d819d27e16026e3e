package schedule

import (
	"context"
	"fmt"
	"slices"
	"time"
	_ "time/tzdata" // tenant timezones must resolve on minimal images

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/metrics"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonDue          Reason = "due"
	ReasonDisabled     Reason = "disabled"
	ReasonHourMismatch Reason = "hour_mismatch"
	ReasonWeekend      Reason = "weekend"
	ReasonNotCustomDay Reason = "not_custom_day"
	ReasonGuardrail    Reason = "guardrail"
)

// Decision is the outcome of evaluating one tenant at one instant.
type Decision struct {
	Due    bool
	Reason Reason

	// Local is now in the effective timezone.
	Local time.Time
	// Hour is the effective target hour after clamping.
	Hour int

	TimezoneFallback bool
	HourClamped      bool
}

// Evaluate decides whether s is due at now given the start of its last
// guardrail-holding run (nil if none). It has no side effects.
func Evaluate(s *Settings, now time.Time, lastRun *time.Time) Decision {
	loc, fallback := location(s.Timezone)
	hour, clamped := clampHour(s.Hour)
	local := now.In(loc)

	d := Decision{
		Local:            local,
		Hour:             hour,
		TimezoneFallback: fallback,
		HourClamped:      clamped,
	}

	switch {
	case !s.Enabled:
		d.Reason = ReasonDisabled
	case local.Hour() != hour:
		d.Reason = ReasonHourMismatch
	case !cadenceAllows(s, local.Weekday()):
		if s.Cadence == CadenceWeekday {
			d.Reason = ReasonWeekend
		} else {
			d.Reason = ReasonNotCustomDay
		}
	case GuardrailActive(lastRun, now):
		d.Reason = ReasonGuardrail
	default:
		d.Due = true
		d.Reason = ReasonDue
	}
	return d
}

func cadenceAllows(s *Settings, wd time.Weekday) bool {
	switch s.Cadence {
	case CadenceWeekday:
		return wd != time.Sunday && wd != time.Saturday
	case CadenceCustom:
		// no days configured behaves like daily
		return len(s.CustomDays) == 0 || slices.Contains(s.CustomDays, int(wd))
	default:
		return true
	}
}

// location resolves an IANA name, falling back to UTC when unknown.
func location(tz string) (*time.Location, bool) {
	if tz == "" {
		return time.UTC, false
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, true
	}
	return loc, false
}

func clampHour(h int) (int, bool) {
	switch {
	case h < 0:
		return 0, true
	case h > 23:
		return 23, true
	default:
		return h, false
	}
}

type Config struct {
	// Cap is the most tenants selected per tick.
	Cap int
	// PageSize is how many enabled tenants are read per store call.
	PageSize int
}

// Scheduler selects due tenants from the settings and run stores.
type Scheduler struct {
	store  Store
	runs   RunStore
	config Config
	logger *zap.Logger
}

func NewScheduler(store Store, runs RunStore, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Cap <= 0 {
		cfg.Cap = 50
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Scheduler{
		store:  store,
		runs:   runs,
		config: cfg,
		logger: logger,
	}
}

// Due returns up to Cap tenants due at now, least recently updated first.
// Enabled tenants are read page by page until the cap is reached or the list
// ends. A tenant whose history cannot be read is skipped, not fatal.
func (s *Scheduler) Due(ctx context.Context, now time.Time) ([]*Settings, error) {
	var due []*Settings
	for offset := 0; ; offset += s.config.PageSize {
		page, err := s.store.ListEnabled(ctx, s.config.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list enabled schedules: %w", err)
		}
		if due = s.collectDue(ctx, page, now, due); len(due) >= s.config.Cap {
			s.logger.Info("due tenant cap reached", zap.Int("cap", s.config.Cap))
			return due[:s.config.Cap], nil
		}
		if len(page) < s.config.PageSize {
			return due, nil
		}
	}
}

// collectDue appends the due tenants of one page to due, stopping at Cap.
func (s *Scheduler) collectDue(ctx context.Context, page []*Settings, now time.Time, due []*Settings) []*Settings {
	for _, st := range page {
		if len(due) >= s.config.Cap {
			break
		}

		d := Evaluate(st, now, nil)
		s.logMisconfig(st, d)
		if !d.Due {
			continue
		}

		lastRun, err := s.runs.LastRunAt(ctx, st.TenantID)
		if err != nil {
			s.logger.Error("failed to read last run, skipping tenant",
				zap.String("tenant_id", st.TenantID.String()),
				zap.Error(err),
			)
			continue
		}
		if d = Evaluate(st, now, lastRun); !d.Due {
			s.logger.Debug("tenant held by guardrail",
				zap.String("tenant_id", st.TenantID.String()),
				zap.Time("last_run", *lastRun),
			)
			metrics.RecordGuardrailRejection(string(TriggerScheduled))
			continue
		}
		due = append(due, st)
	}
	return due
}

func (s *Scheduler) logMisconfig(st *Settings, d Decision) {
	if d.TimezoneFallback {
		s.logger.Warn("invalid schedule timezone, using UTC",
			zap.String("tenant_id", st.TenantID.String()),
			zap.String("timezone", st.Timezone),
		)
	}
	if d.HourClamped {
		s.logger.Warn("schedule hour out of range, clamped",
			zap.String("tenant_id", st.TenantID.String()),
			zap.Int("hour", st.Hour),
			zap.Int("effective_hour", d.Hour),
		)
	}
}
