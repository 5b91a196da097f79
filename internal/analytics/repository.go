// Package analytics summarises attendance, feedback and sales for a webinar.
package analytics

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Counts are the stored aggregates behind a Summary.
type Counts struct {
	Registrations   int
	Attended        int
	AvgWatchSeconds int64
	Feedback        int
	AvgRating       float64
	Messages        int
	Buyers          int
}

// Repository reads webinar aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountsByWebinar returns the aggregates for one webinar. A viewer attended when any watch time was
// committed; a buyer is an attendee whose email owns at least one offer.
func (r *Repository) CountsByWebinar(ctx context.Context, webinarID uuid.UUID) (*Counts, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM webinar_sessions WHERE webinar_id = $1),
		(SELECT COUNT(*) FROM webinar_sessions WHERE webinar_id = $1 AND watchtime_seconds > 0),
		(SELECT COALESCE(AVG(watchtime_seconds), 0)::BIGINT FROM webinar_sessions WHERE webinar_id = $1 AND watchtime_seconds > 0),
		(SELECT COUNT(*) FROM webinar_feedback WHERE webinar_id = $1),
		(SELECT COALESCE(AVG(rating), 0)::FLOAT8 FROM webinar_feedback WHERE webinar_id = $1),
		(SELECT COUNT(*) FROM webinar_messages WHERE webinar_id = $1),
		(SELECT COUNT(DISTINCT s.email) FROM webinar_sessions s
			JOIN user_offers uo ON uo.email = s.email
			WHERE s.webinar_id = $1 AND s.watchtime_seconds > 0)`
	var c Counts
	err := r.pool.QueryRow(ctx, q, webinarID).Scan(
		&c.Registrations, &c.Attended, &c.AvgWatchSeconds, &c.Feedback, &c.AvgRating, &c.Messages, &c.Buyers)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
