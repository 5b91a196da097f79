// Package registrations books viewers into a webinar time slot.
package registrations

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/funnel/internal/models"
)

// Repository handles webinar session persistence for registrations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSession inserts a session (unique per webinar, email and slot). Registering twice for the
// same slot returns the existing session with the latest name.
func (r *Repository) CreateSession(ctx context.Context, s *models.WebinarSession) error {
	const q = `INSERT INTO webinar_sessions (id, webinar_id, start_date, user_name, email, user_id)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (webinar_id, email, start_date) DO UPDATE SET user_name = EXCLUDED.user_name, updated_at = NOW()
		RETURNING id, watchtime_seconds, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.WebinarID, s.StartDate, s.UserName, s.Email, s.UserID).
		Scan(&s.ID, &s.WatchtimeSeconds, &s.CreatedAt, &s.UpdatedAt)
}
