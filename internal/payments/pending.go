package payments

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

// ErrPendingNotFound is returned for an unknown pending payment.
var ErrPendingNotFound = errors.New("pending payment not found")

// PendingRepository handles pending payment persistence.
type PendingRepository struct {
	pool *pgxpool.Pool
}

// NewPendingRepository creates a pending payment repository.
func NewPendingRepository(pool *pgxpool.Pool) *PendingRepository {
	return &PendingRepository{pool: pool}
}

const pendingColumns = `id, provider, provider_order_id, provider_payment_id, payer_id, full_name, email, region,
	amount::text, currency, offer_slugs, raw, status, created_at, processed_at`

// Create inserts p. Saving the same provider order twice returns the existing row.
func (r *PendingRepository) Create(ctx context.Context, p *models.PendingPayment) error {
	const q = `INSERT INTO pending_payments (provider, provider_order_id, provider_payment_id, payer_id, full_name, email, region, amount, currency, offer_slugs, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider_order_id) DO UPDATE SET provider_order_id = EXCLUDED.provider_order_id
		RETURNING id, status, created_at`
	return r.pool.QueryRow(ctx, q, p.Provider, p.ProviderOrderID, p.ProviderPaymentID, p.PayerID, p.FullName, p.Email, p.Region,
		p.Amount.StringFixed(2), p.Currency, p.OfferSlugs, []byte(p.Raw)).
		Scan(&p.ID, &p.Status, &p.CreatedAt)
}

// GetByID returns a pending payment.
func (r *PendingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingPayment, error) {
	q := `SELECT ` + pendingColumns + ` FROM pending_payments WHERE id = $1`
	p, err := scanPending(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPendingNotFound
	}
	return p, err
}

// ListPending returns open payments created before the cutoff, oldest first.
func (r *PendingRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*models.PendingPayment, error) {
	q := `SELECT ` + pendingColumns + ` FROM pending_payments
		WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`
	rows, err := r.pool.Query(ctx, q, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PendingPayment
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// SetStatus closes a pending payment.
func (r *PendingRepository) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	const q = `UPDATE pending_payments SET status = $1, processed_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPendingNotFound
	}
	return nil
}

func scanPending(row pgx.Row) (*models.PendingPayment, error) {
	var (
		p      models.PendingPayment
		amount string
		raw    []byte
	)
	if err := row.Scan(&p.ID, &p.Provider, &p.ProviderOrderID, &p.ProviderPaymentID, &p.PayerID, &p.FullName, &p.Email, &p.Region,
		&amount, &p.Currency, &p.OfferSlugs, &raw, &p.Status, &p.CreatedAt, &p.ProcessedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("pending payment amount: %w", err)
	}
	p.Amount, p.Raw = d, raw
	return &p, nil
}

// PendingStore persists pending payments.
type PendingStore interface {
	Create(ctx context.Context, p *models.PendingPayment) error
}

// FulfillmentQueue schedules fulfilment of a pending payment.
type FulfillmentQueue interface {
	EnqueueFulfillment(ctx context.Context, payload queue.FulfillmentPayload) error
}

// PendingService records captured payments and schedules their fulfilment.
type PendingService struct {
	store  PendingStore
	queue  FulfillmentQueue
	logger *zap.Logger
}

// NewPendingService creates a pending payment service. A nil queue leaves rows for the worker sweep.
func NewPendingService(store PendingStore, q FulfillmentQueue, logger *zap.Logger) *PendingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingService{store: store, queue: q, logger: logger}
}

// SavePending stores p and enqueues its fulfilment. An enqueue failure is logged only; the
// worker picks up stale rows on its sweep.
func (s *PendingService) SavePending(ctx context.Context, p *models.PendingPayment) error {
	if err := s.store.Create(ctx, p); err != nil {
		return fmt.Errorf("save pending payment: %w", err)
	}
	s.logger.Info("pending payment saved",
		zap.String("pending_payment_id", p.ID.String()),
		zap.String("provider", p.Provider),
		zap.String("order_id", p.ProviderOrderID),
		zap.Strings("offer_slugs", p.OfferSlugs))
	if s.queue == nil {
		return nil
	}
	if err := s.queue.EnqueueFulfillment(ctx, queue.FulfillmentPayload{PendingPaymentID: p.ID}); err != nil {
		s.logger.Warn("enqueue fulfillment failed", zap.String("pending_payment_id", p.ID.String()), zap.Error(err))
	}
	return nil
}
