package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/autopilot/internal/metrics"
	"github.com/lalithlochan/autopilot/internal/outbox"
	"github.com/lalithlochan/autopilot/internal/schedule"
)

// ErrRunFailed is returned by RunNow when generation or every enqueue failed.
var ErrRunFailed = errors.New("automation run failed")

// DueLister selects tenants due at now. *schedule.Scheduler satisfies it.
type DueLister interface {
	Due(ctx context.Context, now time.Time) ([]*schedule.Settings, error)
}

type Config struct {
	Workers    int
	RunTimeout time.Duration
}

// Result holds the counts of one scheduled pass.
type Result struct {
	Due       int `json:"due"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomePartial   OutcomeStatus = "partial"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeGuardrail OutcomeStatus = "guardrail"
)

// RunOutcome reports what happened to one tenant.
type RunOutcome struct {
	TenantID uuid.UUID     `json:"tenant_id"`
	RunID    *uuid.UUID    `json:"run_id,omitempty"`
	Status   OutcomeStatus `json:"status"`
	ItemIDs  []uuid.UUID   `json:"item_ids,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Runner struct {
	due       DueLister
	settings  schedule.Store
	runs      schedule.RunStore
	outbox    outbox.Store
	generator ContentGenerator
	config    Config
	logger    *zap.Logger
}

func New(due DueLister, settings schedule.Store, runs schedule.RunStore, ob outbox.Store, gen ContentGenerator, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 90 * time.Second
	}
	return &Runner{
		due:       due,
		settings:  settings,
		runs:      runs,
		outbox:    ob,
		generator: gen,
		config:    cfg,
		logger:    logger,
	}
}

// RunScheduled runs every tenant due at now on a bounded pool. One tenant's
// failure never stops the others.
func (r *Runner) RunScheduled(ctx context.Context, now time.Time) (Result, error) {
	due, err := r.due.Due(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("select due tenants: %w", err)
	}

	res := Result{Due: len(due)}
	if len(due) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.config.Workers)

	for _, st := range due {
		g.Go(func() error {
			out := r.run(ctx, st, schedule.TriggerScheduled, now)

			mu.Lock()
			defer mu.Unlock()
			switch out.Status {
			case OutcomeCompleted, OutcomePartial:
				res.Processed++
			case OutcomeGuardrail:
				res.Skipped++
			default:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("scheduled automation finished",
		zap.Int("due", res.Due),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// RunNow runs tenantID immediately, ignoring hour, cadence and the enabled
// flag. The guardrail still applies and is reported as ErrGuardrailActive.
func (r *Runner) RunNow(ctx context.Context, tenantID uuid.UUID, now time.Time) (RunOutcome, error) {
	st, err := r.settings.Get(ctx, tenantID)
	if err != nil {
		return RunOutcome{TenantID: tenantID}, err
	}

	out := r.run(ctx, st, schedule.TriggerManual, now)
	switch out.Status {
	case OutcomeGuardrail:
		return out, schedule.ErrGuardrailActive
	case OutcomeFailed:
		return out, fmt.Errorf("%w: %s", ErrRunFailed, out.Error)
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, st *schedule.Settings, trigger schedule.Trigger, now time.Time) RunOutcome {
	ctx, cancel := context.WithTimeout(ctx, r.config.RunTimeout)
	defer cancel()

	log := r.logger.With(
		zap.String("tenant_id", st.TenantID.String()),
		zap.String("trigger", string(trigger)),
	)
	out := RunOutcome{TenantID: st.TenantID}

	run, err := r.runs.Begin(ctx, st, trigger, now)
	if errors.Is(err, schedule.ErrGuardrailActive) {
		log.Info("automation skipped, guardrail active")
		metrics.RecordGuardrailRejection(string(trigger))
		out.Status = OutcomeGuardrail
		return out
	}
	if err != nil {
		log.Error("failed to begin automation run", zap.Error(err))
		out.Status = OutcomeFailed
		out.Error = err.Error()
		metrics.RecordAutomationRun(string(trigger), string(OutcomeFailed))
		return out
	}
	out.RunID = &run.ID
	log = log.With(zap.String("run_id", run.ID.String()))

	prefs := prefsFor(st, now)
	bundle, err := r.generator.GenerateDailyBundle(ctx, prefs)
	if err != nil {
		log.Error("content generation failed", zap.Error(err))
		return r.fail(ctx, run.ID, trigger, out, fmt.Sprintf("generate: %v", err), now, log)
	}

	planned := Plan(st, bundle)
	var enqueueErrs []error
	for _, n := range planned {
		it, err := r.outbox.Enqueue(ctx, n)
		if err != nil {
			log.Error("failed to enqueue outbox item", zap.String("type", n.Type.String()), zap.Error(err))
			enqueueErrs = append(enqueueErrs, fmt.Errorf("%s: %w", n.Type, err))
			continue
		}
		metrics.RecordEnqueued(it.Type.String())
		out.ItemIDs = append(out.ItemIDs, it.ID)
	}

	if len(planned) > 0 && len(out.ItemIDs) == 0 {
		// nothing reached the outbox, so a retry cannot duplicate sends
		return r.fail(ctx, run.ID, trigger, out, errors.Join(enqueueErrs...).Error(), now, log)
	}

	status := schedule.RunCompleted
	out.Status = OutcomeCompleted
	var runErr *string
	if len(enqueueErrs) > 0 {
		status = schedule.RunPartial
		out.Status = OutcomePartial
		msg := errors.Join(enqueueErrs...).Error()
		runErr = &msg
		out.Error = msg
	}

	raw, _ := json.Marshal(bundle)
	// the items are already queued, so record them even past the run deadline
	if err := r.runs.Complete(context.WithoutCancel(ctx), run.ID, schedule.RunResult{
		Status:  status,
		Bundle:  raw,
		ItemIDs: out.ItemIDs,
		Error:   runErr,
	}, now); err != nil {
		// the running record still holds the guardrail, which is what we want
		log.Error("failed to record run completion", zap.Error(err))
	}

	metrics.RecordAutomationRun(string(trigger), string(out.Status))
	log.Info("automation run finished",
		zap.String("status", string(out.Status)),
		zap.Int("items", len(out.ItemIDs)),
	)
	return out
}

func (r *Runner) fail(ctx context.Context, runID uuid.UUID, trigger schedule.Trigger, out RunOutcome, reason string, now time.Time, log *zap.Logger) RunOutcome {
	// record the failure even if the run's own deadline already passed
	if err := r.runs.Fail(context.WithoutCancel(ctx), runID, reason, now); err != nil {
		log.Error("failed to record run failure", zap.Error(err))
	}
	metrics.RecordAutomationRun(string(trigger), string(OutcomeFailed))
	out.Status = OutcomeFailed
	out.Error = reason
	return out
}

// prefsFor builds generation prefs for the tenant's next local day.
func prefsFor(st *schedule.Settings, now time.Time) Prefs {
	loc, err := time.LoadLocation(st.Timezone)
	if err != nil || st.Timezone == "" {
		loc = time.UTC
	}
	local := now.In(loc)
	tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)

	channels := make([]string, 0, len(st.Channels))
	for _, c := range st.Channels {
		channels = append(channels, string(c))
	}

	return Prefs{
		TenantID:       st.TenantID,
		Goals:          st.Goals,
		FocusAudiences: st.FocusAudiences,
		Channels:       channels,
		Platforms:      st.Delivery.Platforms,
		Date:           tomorrow,
		Timezone:       loc.String(),
	}
}

// Plan maps a bundle onto outbox items for the tenant's channels and
// delivery targets. Channels without a target or without copy are skipped.
func Plan(st *schedule.Settings, b *Bundle) []outbox.NewItem {
	account := st.AccountID
	if account == uuid.Nil {
		account = st.TenantID
	}
	item := func(t outbox.Type, payload any) outbox.NewItem {
		return outbox.NewItem{
			TenantID:  st.TenantID,
			AccountID: account,
			Type:      t,
			Payload:   outbox.MustPayload(payload),
		}
	}

	d := st.Delivery
	var out []outbox.NewItem

	if st.HasChannel(schedule.ChannelSMS) && d.SMSTo != "" && b.SMS != "" {
		out = append(out, item(outbox.TypeSendSMS, outbox.SMSPayload{To: d.SMSTo, Body: b.SMS}))
	}
	if st.HasChannel(schedule.ChannelListing) && d.ListingLocationID != "" && b.ListingUpdate != "" {
		out = append(out, item(outbox.TypePostListing, outbox.ListingPayload{
			LocationID: d.ListingLocationID,
			Summary:    b.ListingUpdate,
			CTAURL:     d.CTAURL,
		}))
	}
	if st.HasChannel(schedule.ChannelEmail) && d.EmailTo != "" && b.Promo != "" {
		out = append(out, item(outbox.TypeSendEmail, outbox.EmailPayload{
			To:      d.EmailTo,
			Subject: "Tomorrow's promotion",
			Body:    b.Promo,
		}))
	}
	if st.HasChannel(schedule.ChannelSocial) && d.AutoPublish && b.Post != "" {
		for _, platform := range d.Platforms {
			out = append(out, item(outbox.TypePublishPost, outbox.PublishPostPayload{
				Platform: platform,
				Caption:  b.Post,
			}))
		}
	}
	return out
}
