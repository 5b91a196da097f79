// Package tracking records server-side attribution events and forwards them asynchronously.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/pkg/queue"
)

// ErrNotFound is returned for an unknown event id.
var ErrNotFound = errors.New("tracking event not found")

// Repository handles tracking event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a tracking repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores an event. Re-inserting the same id is a no-op.
func (r *Repository) Insert(ctx context.Context, e *models.TrackingEvent) error {
	const q = `INSERT INTO tracking_events (id, name, email, full_name, offer_slugs, value, currency, error_code, reason, checkout_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	var value *string
	if e.Value != nil {
		v := e.Value.StringFixed(2)
		value = &v
	}
	slugs := e.OfferSlugs
	if slugs == nil {
		slugs = []string{}
	}
	_, err := r.pool.Exec(ctx, q, e.ID, e.Name, e.Email, e.FullName, slugs, value, e.Currency, e.ErrorCode, e.Reason, e.CheckoutID, e.OccurredAt)
	return err
}

// GetByID returns an event.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.TrackingEvent, error) {
	const q = `SELECT id, name, email, full_name, offer_slugs, value::text, currency, error_code, reason, checkout_id, occurred_at
		FROM tracking_events WHERE id = $1`
	var (
		e     models.TrackingEvent
		value *string
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(&e.ID, &e.Name, &e.Email, &e.FullName, &e.OfferSlugs, &value, &e.Currency, &e.ErrorCode, &e.Reason, &e.CheckoutID, &e.OccurredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if value != nil {
		d, err := decimal.NewFromString(*value)
		if err != nil {
			return nil, fmt.Errorf("event value: %w", err)
		}
		e.Value = &d
	}
	return &e, nil
}

// MarkForwarded records that the event was handed to the collaborators.
func (r *Repository) MarkForwarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE tracking_events SET forwarded_at = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, at, id)
	return err
}

// ListUnforwarded returns events that were never forwarded and are older than the cutoff.
func (r *Repository) ListUnforwarded(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	const q = `SELECT id FROM tracking_events WHERE forwarded_at IS NULL AND occurred_at < $1 ORDER BY occurred_at LIMIT $2`
	rows, err := r.pool.Query(ctx, q, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EventStore persists events.
type EventStore interface {
	Insert(ctx context.Context, e *models.TrackingEvent) error
}

// Queue schedules forwarding of a stored event.
type Queue interface {
	EnqueueTracking(ctx context.Context, payload queue.TrackingPayload) error
}

// Service records events. Recording never blocks the checkout on the collaborators.
type Service struct {
	store  EventStore
	queue  Queue
	logger *zap.Logger
}

// NewService creates a tracking service. A nil queue stores events for the worker sweep only.
func NewService(store EventStore, q Queue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, queue: q, logger: logger}
}

// Track persists e and enqueues it for forwarding.
func (s *Service) Track(ctx context.Context, e models.TrackingEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if err := s.store.Insert(ctx, &e); err != nil {
		return fmt.Errorf("store %s event: %w", e.Name, err)
	}
	s.logger.Debug("tracking event stored", zap.String("event", e.Name), zap.String("event_id", e.ID.String()), zap.String("checkout_id", e.CheckoutID))
	if s.queue == nil {
		return nil
	}
	if err := s.queue.EnqueueTracking(ctx, queue.TrackingPayload{EventID: e.ID}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", e.Name, err)
	}
	return nil
}
