package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/tracking"
	"github.com/aura-webinar/funnel/pkg/queue"
)

// Sweep settings.
const (
	DefaultSweepInterval = 5 * time.Minute
	// StaleAfter is how long a row may wait before the sweep enqueues it again.
	StaleAfter = 10 * time.Minute
	sweepBatch = 100
)

// JobQueue is the Redis job queue.
type JobQueue interface {
	Dequeue(ctx context.Context, keys ...string) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
	EnqueueFulfillment(ctx context.Context, payload queue.FulfillmentPayload) error
	EnqueueTracking(ctx context.Context, payload queue.TrackingPayload) error
}

// PendingPayments loads and closes pending payments.
type PendingPayments interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.PendingPayment, error)
	ListPending(ctx context.Context, before time.Time, limit int) ([]*models.PendingPayment, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Granter records offer ownership.
type Granter interface {
	Grant(ctx context.Context, email string, userID *uuid.UUID, slugs []string, source string) (int, error)
}

// PaymentVerifier confirms a pending payment with its provider. A payment the provider does
// not back wraps models.ErrPaymentMismatch.
type PaymentVerifier interface {
	VerifyPending(ctx context.Context, p *models.PendingPayment) error
}

// Events loads and marks tracking events.
type Events interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.TrackingEvent, error)
	MarkForwarded(ctx context.Context, id uuid.UUID, at time.Time) error
	ListUnforwarded(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// ErrorReporter receives anomalies that need attention.
type ErrorReporter interface {
	Report(ctx context.Context, op string, err error, fields ...zap.Field)
}

// Deps are the collaborators of Processor.
type Deps struct {
	Queue     JobQueue
	Pending   PendingPayments
	Offers    Granter
	Verifiers map[string]PaymentVerifier
	Events    Events
	Forwarder tracking.Forwarder
	Reporter  ErrorReporter
	Now       func() time.Time
	Logger    *zap.Logger
}

// Processor fulfils pending payments and forwards tracking events.
type Processor struct {
	d      Deps
	logger *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(d Deps) *Processor {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Forwarder == nil {
		d.Forwarder = tracking.NewLogForwarder(d.Logger)
	}
	return &Processor{d: d, logger: d.Logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeFulfillment:
		var payload queue.FulfillmentPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.fulfil(ctx, payload.PendingPaymentID)
	case queue.JobTypeTrackingForward:
		var payload queue.TrackingPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.forward(ctx, payload.EventID)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) fulfil(ctx context.Context, id uuid.UUID) error {
	pp, err := p.d.Pending.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load pending payment %s: %w", id, err)
	}
	if pp.Status != models.PendingPaymentStatusPending {
		p.logger.Info("pending payment already processed", zap.String("pending_payment_id", id.String()), zap.String("status", pp.Status))
		return nil
	}
	if pp.Overdue(p.d.Now()) {
		p.report(ctx, "fulfillment.overdue", fmt.Errorf("pending payment %s older than %s", id, models.FulfillmentWindow), pp)
	}
	verifier, ok := p.d.Verifiers[pp.Provider]
	if !ok {
		p.report(ctx, "fulfillment.unverifiable", fmt.Errorf("no verifier for provider %q", pp.Provider), pp)
		return nil
	}
	if err := verifier.VerifyPending(ctx, pp); err != nil {
		if !errors.Is(err, models.ErrPaymentMismatch) {
			return fmt.Errorf("verify pending payment: %w", err)
		}
		p.report(ctx, "fulfillment.mismatch", err, pp)
		if err := p.d.Pending.SetStatus(ctx, id, models.PendingPaymentStatusFailed); err != nil {
			return fmt.Errorf("reject pending payment: %w", err)
		}
		return nil
	}
	granted, err := p.d.Offers.Grant(ctx, pp.Email, nil, pp.OfferSlugs, pp.Provider)
	if err != nil {
		return fmt.Errorf("grant offers: %w", err)
	}
	if err := p.d.Pending.SetStatus(ctx, id, models.PendingPaymentStatusCompleted); err != nil {
		return fmt.Errorf("complete pending payment: %w", err)
	}
	p.logger.Info("pending payment fulfilled",
		zap.String("pending_payment_id", id.String()),
		zap.String("email", pp.Email),
		zap.Strings("offer_slugs", pp.OfferSlugs),
		zap.Int("granted", granted))
	return nil
}

func (p *Processor) forward(ctx context.Context, id uuid.UUID) error {
	e, err := p.d.Events.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load tracking event %s: %w", id, err)
	}
	if err := p.d.Forwarder.Forward(ctx, e); err != nil {
		return fmt.Errorf("forward %s: %w", e.Name, err)
	}
	return p.d.Events.MarkForwarded(ctx, id, p.d.Now())
}

// Sweep re-enqueues rows whose job was lost and reports pending payments past the
// fulfilment window.
func (p *Processor) Sweep(ctx context.Context) error {
	cutoff := p.d.Now().Add(-StaleAfter)
	pending, err := p.d.Pending.ListPending(ctx, cutoff, sweepBatch)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}
	for _, pp := range pending {
		if pp.Overdue(p.d.Now()) {
			p.report(ctx, "fulfillment.overdue", fmt.Errorf("pending payment %s older than %s", pp.ID, models.FulfillmentWindow), pp)
		}
		if err := p.d.Queue.EnqueueFulfillment(ctx, queue.FulfillmentPayload{PendingPaymentID: pp.ID}); err != nil {
			return fmt.Errorf("enqueue fulfillment: %w", err)
		}
	}
	var ids []uuid.UUID
	if p.d.Events != nil {
		if ids, err = p.d.Events.ListUnforwarded(ctx, cutoff, sweepBatch); err != nil {
			return fmt.Errorf("list tracking events: %w", err)
		}
	}
	for _, id := range ids {
		if err := p.d.Queue.EnqueueTracking(ctx, queue.TrackingPayload{EventID: id}); err != nil {
			return fmt.Errorf("enqueue tracking: %w", err)
		}
	}
	if len(pending) > 0 || len(ids) > 0 {
		p.logger.Info("sweep re-enqueued jobs", zap.Int("pending_payments", len(pending)), zap.Int("tracking_events", len(ids)))
	}
	return nil
}

func (p *Processor) report(ctx context.Context, op string, err error, pp *models.PendingPayment) {
	fields := []zap.Field{
		zap.String("pending_payment_id", pp.ID.String()),
		zap.String("order_id", pp.ProviderOrderID),
		zap.Time("created_at", pp.CreatedAt),
	}
	if p.d.Reporter != nil {
		p.d.Reporter.Report(ctx, op, err, fields...)
		return
	}
	p.logger.Error(op, append(fields, zap.Error(err))...)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (p *Processor) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, _, err := p.d.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.d.Queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, queue.RetryBackoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
