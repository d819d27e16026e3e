// Package worker drains due outbox items: claim, dispatch, record outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/dispatch"
	"github.com/lalithlochan/autopilot/internal/metrics"
	"github.com/lalithlochan/autopilot/internal/outbox"
)

const (
	DefaultBatchSize = 10
	MaxBatchSize     = 25
)

// Dispatcher performs an item's side effect. *dispatch.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, it *outbox.Item) (*dispatch.Receipt, error)
}

// Throttle decides whether one more dispatch is allowed for key.
type Throttle interface {
	Permit(ctx context.Context, key string) (bool, error)
}

// OutcomeSink receives terminal outcomes. Failures are logged, never fatal.
type OutcomeSink interface {
	PublishOutcome(ctx context.Context, o outbox.Outcome) error
}

type Config struct {
	PollInterval time.Duration // only used by Start
	BatchSize    int
	MaxAttempts  int
}

// Options controls a single processing pass.
type Options struct {
	Now   time.Time
	Limit int
	Types []outbox.Type
}

// Result holds the counts of one pass.
type Result struct {
	Due      int `json:"due"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Deferred int `json:"deferred"`
}

type Processor struct {
	store      outbox.Store
	dispatcher Dispatcher
	throttle   Throttle
	sink       OutcomeSink
	config     Config
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Processor)

func WithThrottle(t Throttle) Option {
	return func(p *Processor) { p.throttle = t }
}

func WithOutcomeSink(s OutcomeSink) Option {
	return func(p *Processor) { p.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func New(store outbox.Store, dispatcher Dispatcher, cfg Config, logger *zap.Logger, opts ...Option) *Processor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = outbox.DefaultMaxAttempts
	}

	p := &Processor{
		store:      store,
		dispatcher: dispatcher,
		config:     cfg,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs a pass every PollInterval until ctx is cancelled. Used when the
// gateway drains the outbox itself instead of relying on an external cron.
func (p *Processor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox processor stopping")
			return
		case <-ticker.C:
			res, err := p.ProcessDue(ctx, Options{})
			if err != nil {
				p.logger.Error("outbox pass failed", zap.Error(err))
				continue
			}
			if res.Due > 0 {
				p.logger.Info("outbox pass finished",
					zap.Int("due", res.Due),
					zap.Int("sent", res.Sent),
					zap.Int("failed", res.Failed),
					zap.Int("skipped", res.Skipped),
					zap.Int("deferred", res.Deferred),
				)
			}
		}
	}
}

// ProcessDue dispatches up to opts.Limit due items, one at a time. Each item
// commits independently; an error is returned only when the due list itself
// cannot be read or ctx ends mid-pass.
func (p *Processor) ProcessDue(ctx context.Context, opts Options) (Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = p.now()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = p.config.BatchSize
	}
	if limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	var res Result

	items, err := p.store.ListDue(ctx, now, limit, opts.Types...)
	if err != nil {
		return res, fmt.Errorf("list due outbox items: %w", err)
	}
	res.Due = len(items)

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		outcome := p.processItem(ctx, it, now)
		switch outcome {
		case outcomeSent:
			res.Sent++
		case outcomeFailed:
			res.Failed++
		case outcomeDeferred:
			res.Deferred++
		default:
			res.Skipped++
		}
		metrics.RecordProcessed(string(outcome), it.Type.String())
	}

	return res, nil
}

type itemOutcome string

const (
	outcomeSent     itemOutcome = "sent"
	outcomeFailed   itemOutcome = "failed"
	outcomeSkipped  itemOutcome = "skipped"
	outcomeDeferred itemOutcome = "deferred"
)

func (p *Processor) processItem(ctx context.Context, it *outbox.Item, now time.Time) itemOutcome {
	log := p.logger.With(
		zap.String("item_id", it.ID.String()),
		zap.String("tenant_id", it.TenantID.String()),
		zap.String("type", it.Type.String()),
	)

	if p.throttle != nil {
		ok, err := p.throttle.Permit(ctx, throttleKey(it))
		switch {
		case err != nil:
			log.Warn("dispatch throttle unavailable, dispatching anyway", zap.Error(err))
		case !ok:
			log.Debug("dispatch throttled, leaving item queued")
			metrics.RecordRateLimitRejection("dispatch")
			return outcomeDeferred
		}
	}

	// Claim by bumping attempts. A concurrent pass that read the same
	// attempts value loses here.
	claimed := it.Attempts + 1
	_, err := p.store.Update(ctx, it.ID, outbox.Patch{
		Attempts: outbox.Ptr(claimed),
		Expect:   &outbox.Expect{Status: outbox.StatusQueued, Attempts: outbox.Ptr(it.Attempts)},
	})
	if err != nil {
		if errors.Is(err, outbox.ErrConflict) || errors.Is(err, outbox.ErrNotFound) {
			log.Debug("item already handled by another pass")
		} else {
			log.Error("failed to claim outbox item", zap.Error(err))
		}
		return outcomeSkipped
	}

	start := time.Now()
	receipt, dispatchErr := p.dispatcher.Dispatch(ctx, it)
	metrics.RecordDispatchDuration(it.Type.String(), time.Since(start))

	expect := &outbox.Expect{Status: outbox.StatusQueued, Attempts: outbox.Ptr(claimed)}

	if errors.Is(dispatchErr, dispatch.ErrUnavailable) {
		// Nothing was sent, so give the attempt back and leave it queued.
		if _, err := p.store.Update(ctx, it.ID, outbox.Patch{
			Attempts: outbox.Ptr(it.Attempts),
			Expect:   expect,
		}); err != nil {
			log.Error("failed to release claim on unavailable provider", zap.Error(err))
			return outcomeSkipped
		}
		log.Warn("provider unavailable, leaving item queued", zap.Error(dispatchErr))
		return outcomeDeferred
	}

	if dispatchErr != nil {
		msg := dispatch.Describe(dispatchErr)
		log.Error("outbox dispatch failed",
			zap.Int("attempt", claimed),
			zap.Bool("permanent", dispatch.IsPermanent(dispatchErr)),
			zap.Error(dispatchErr),
		)
		if _, err := p.store.Update(ctx, it.ID, outbox.Patch{
			Status:    outbox.Ptr(outbox.StatusFailed),
			LastError: &msg,
			Expect:    expect,
		}); err != nil {
			log.Error("failed to record dispatch failure", zap.Error(err))
			return outcomeSkipped
		}
		p.publish(ctx, it, outbox.StatusFailed, claimed, msg, nil, now, log)
		return outcomeFailed
	}

	if _, err := p.store.Update(ctx, it.ID, outbox.Patch{
		Status:     outbox.Ptr(outbox.StatusSent),
		ClearError: true,
		Expect:     expect,
	}); err != nil {
		// The side effect happened; the item stays queued and may be sent again.
		log.Error("failed to record successful dispatch", zap.Error(err))
		return outcomeSkipped
	}

	var providerID string
	if receipt != nil {
		providerID = receipt.MessageID
	}
	log.Info("outbox item sent", zap.Int("attempt", claimed), zap.String("provider_message_id", providerID))

	ref := it.CreatedAt
	if it.ScheduledFor != nil {
		ref = *it.ScheduledFor
	}
	metrics.RecordDeliveryLatency(it.Type.String(), now.Sub(ref))

	p.publish(ctx, it, outbox.StatusSent, claimed, "", receipt, now, log)
	return outcomeSent
}

func (p *Processor) publish(ctx context.Context, it *outbox.Item, status outbox.Status, attempts int, errMsg string, receipt *dispatch.Receipt, now time.Time, log *zap.Logger) {
	if p.sink == nil {
		return
	}
	o := outbox.Outcome{
		ItemID:    it.ID,
		TenantID:  it.TenantID,
		AccountID: it.AccountID,
		Type:      it.Type,
		Status:    status,
		Attempts:  attempts,
		Error:     errMsg,
		At:        now,
	}
	if receipt != nil {
		o.Provider = receipt.Provider
		o.ProviderID = receipt.MessageID
	}
	if err := p.sink.PublishOutcome(ctx, o); err != nil {
		log.Warn("failed to publish outbox outcome", zap.Error(err))
	}
}

// Retry re-queues a failed item, refusing once it has used MaxAttempts.
func (p *Processor) Retry(ctx context.Context, id uuid.UUID) (*outbox.Item, error) {
	it, err := outbox.Retry(ctx, p.store, id, p.config.MaxAttempts)
	if err != nil {
		return nil, err
	}
	p.logger.Info("outbox item re-queued",
		zap.String("item_id", id.String()),
		zap.Int("attempts", it.Attempts),
	)
	return it, nil
}

func throttleKey(it *outbox.Item) string {
	return fmt.Sprintf("dispatch:%s:%s", it.TenantID, it.Type)
}
