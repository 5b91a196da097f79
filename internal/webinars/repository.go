// Package webinars serves simulated webinar sessions: session and chat lookups, watch-time
// heartbeats, feedback and the live playback websocket.
package webinars

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/playback"
)

// ErrNotFound is returned when a session or webinar does not exist.
var ErrNotFound = errors.New("not found")

// Repository handles webinar persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webinar repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSession returns a session with its webinar.
func (r *Repository) GetSession(ctx context.Context, sessionID uuid.UUID) (*playback.SessionData, error) {
	const q = `SELECT s.id, s.webinar_id, s.start_date, s.watchtime_seconds, s.user_name, s.user_id, s.created_at, s.updated_at,
		w.id, w.title, w.video_url, w.duration_seconds, w.background_image, w.offer, w.created_at, w.updated_at
		FROM webinar_sessions s JOIN webinars w ON w.id = s.webinar_id
		WHERE s.id = $1`
	var (
		d     playback.SessionData
		offer []byte
	)
	s, w := &d.Session, &d.Webinar
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&s.ID, &s.WebinarID, &s.StartDate, &s.WatchtimeSeconds, &s.UserName, &s.UserID, &s.CreatedAt, &s.UpdatedAt,
		&w.ID, &w.Title, &w.VideoURL, &w.DurationSeconds, &w.BackgroundImage, &offer, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Offer, err = decodeOffer(offer); err != nil {
		return nil, fmt.Errorf("webinar %s offer: %w", w.ID, err)
	}
	return &d, nil
}

// GetWebinar returns a webinar by ID.
func (r *Repository) GetWebinar(ctx context.Context, id uuid.UUID) (*models.Webinar, error) {
	const q = `SELECT id, title, video_url, duration_seconds, background_image, offer, created_at, updated_at
		FROM webinars WHERE id = $1`
	var (
		w     models.Webinar
		offer []byte
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(&w.ID, &w.Title, &w.VideoURL, &w.DurationSeconds, &w.BackgroundImage, &offer, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Offer, err = decodeOffer(offer); err != nil {
		return nil, fmt.Errorf("webinar %s offer: %w", w.ID, err)
	}
	return &w, nil
}

func decodeOffer(raw []byte) (*models.WebinarOffer, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var o models.WebinarOffer
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListMessages returns the seeded chat of a webinar ordered by video second.
func (r *Repository) ListMessages(ctx context.Context, webinarID uuid.UUID) ([]models.WebinarMessage, error) {
	const q = `SELECT id, webinar_id, user_id, user_name, message, time_seconds, is_admin, created_at
		FROM webinar_messages WHERE webinar_id = $1 ORDER BY time_seconds, created_at`
	rows, err := r.pool.Query(ctx, q, webinarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.WebinarMessage{}
	for rows.Next() {
		var m models.WebinarMessage
		if err := rows.Scan(&m.ID, &m.WebinarID, &m.UserID, &m.UserName, &m.Message, &m.TimeSeconds, &m.IsAdmin, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// CreateMessage inserts a seeded chat message.
func (r *Repository) CreateMessage(ctx context.Context, m *models.WebinarMessage) error {
	const q = `INSERT INTO webinar_messages (webinar_id, user_id, user_name, message, time_seconds, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, m.WebinarID, m.UserID, m.UserName, m.Message, m.TimeSeconds, m.IsAdmin).
		Scan(&m.ID, &m.CreatedAt)
}

// UpdateWatchtime stores the furthest watched second of a session. Earlier positions never
// lower the stored value.
func (r *Repository) UpdateWatchtime(ctx context.Context, sessionID uuid.UUID, seconds int) error {
	const q = `UPDATE webinar_sessions SET watchtime_seconds = GREATEST(watchtime_seconds, $2), updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, sessionID, seconds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateFeedback stores a post-webinar rating.
func (r *Repository) CreateFeedback(ctx context.Context, f *models.WebinarFeedback) error {
	const q = `INSERT INTO webinar_feedback (webinar_id, rating, comment) VALUES ($1, $2, $3)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, f.WebinarID, f.Rating, f.Comment).Scan(&f.ID, &f.CreatedAt)
}
