package webinars

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/playback"
	"github.com/aura-webinar/funnel/internal/realtime"
)

var (
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
	ErrInvalidWatchtime = errors.New("watchtime must not be negative")
	ErrInvalidMessage   = errors.New("message and user name are required")
)

// Store is the persistence used by Service.
type Store interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*playback.SessionData, error)
	GetWebinar(ctx context.Context, id uuid.UUID) (*models.Webinar, error)
	ListMessages(ctx context.Context, webinarID uuid.UUID) ([]models.WebinarMessage, error)
	CreateMessage(ctx context.Context, m *models.WebinarMessage) error
	UpdateWatchtime(ctx context.Context, sessionID uuid.UUID, seconds int) error
	CreateFeedback(ctx context.Context, f *models.WebinarFeedback) error
}

// Notifier publishes webinar events to every instance.
type Notifier interface {
	Publish(ctx context.Context, webinarID uuid.UUID, event string, payload interface{}) error
}

// Service implements the session, chat, watch-time and feedback operations. It is also the
// playback.Backend of the engines run by the live websocket.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a webinar service. notifier may be nil.
func NewService(store Store, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, notifier: notifier, now: time.Now, logger: logger}
}

var _ playback.Backend = (*Service)(nil)

// GetSession implements playback.Backend.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*playback.SessionData, error) {
	return s.store.GetSession(ctx, sessionID)
}

// GetMessages implements playback.Backend.
func (s *Service) GetMessages(ctx context.Context, webinarID uuid.UUID) ([]models.WebinarMessage, error) {
	return s.store.ListMessages(ctx, webinarID)
}

// UpdateWatchtime implements playback.Backend. Positions past the end count as the full duration.
func (s *Service) UpdateWatchtime(ctx context.Context, sessionID uuid.UUID, seconds int) error {
	if seconds < 0 {
		return ErrInvalidWatchtime
	}
	d, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if seconds > d.Webinar.DurationSeconds {
		seconds = d.Webinar.DurationSeconds
	}
	return s.store.UpdateWatchtime(ctx, sessionID, seconds)
}

// SendFeedback stores a rating for a webinar.
func (s *Service) SendFeedback(ctx context.Context, webinarID uuid.UUID, rating int, comment string) (*models.WebinarFeedback, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if _, err := s.store.GetWebinar(ctx, webinarID); err != nil {
		return nil, err
	}
	f := &models.WebinarFeedback{WebinarID: webinarID, Rating: rating, Comment: strings.TrimSpace(comment)}
	if err := s.store.CreateFeedback(ctx, f); err != nil {
		return nil, fmt.Errorf("create feedback: %w", err)
	}
	return f, nil
}

// AddMessage seeds a chat message and tells connected viewers to reload the chat.
func (s *Service) AddMessage(ctx context.Context, m *models.WebinarMessage) error {
	m.Message = strings.TrimSpace(m.Message)
	m.UserName = strings.TrimSpace(m.UserName)
	if m.Message == "" || m.UserName == "" || m.TimeSeconds < 0 {
		return ErrInvalidMessage
	}
	if _, err := s.store.GetWebinar(ctx, m.WebinarID); err != nil {
		return err
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, m.WebinarID, realtime.EventMessagesUpdated, map[string]string{"message_id": m.ID.String()}); err != nil {
			s.logger.Warn("publish messages_updated failed", zap.String("webinar_id", m.WebinarID.String()), zap.Error(err))
		}
	}
	return nil
}

// Preview is the derived playback state of a session at one video time.
type Preview struct {
	SessionID    uuid.UUID                 `json:"session_id"`
	Window       string                    `json:"window"`
	Time         int                       `json:"time"`
	Duration     int                       `json:"duration"`
	Transcript   []playback.DisplayMessage `json:"transcript"`
	Offer        playback.ActiveOffer      `json:"offer"`
	Participants int                       `json:"participants"`
}

// Preview evaluates the playback derivations at the override time, or at the naturally
// elapsed time when override is nil. The participant count carries no jitter.
func (s *Service) Preview(ctx context.Context, sessionID uuid.UUID, override *int) (*Preview, error) {
	data, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, data.Webinar.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	now := s.now()
	duration := data.Webinar.DurationSeconds
	t := float64(playback.InitialOffset(now, data.Session.StartDate, duration, override))
	window := playback.Window(now, data.Session.StartDate, duration)
	if override != nil {
		window = playback.Live
	}
	return &Preview{
		SessionID:    sessionID,
		Window:       window.String(),
		Time:         int(t),
		Duration:     duration,
		Transcript:   playback.Transcript(playback.ServerEntries(msgs), nil, t),
		Offer:        playback.OfferState(data.Webinar.Offer, t),
		Participants: playback.ParticipantCount(playback.ParticipantConfigFor(data.Webinar.Offer), t, duration, 0.5),
	}, nil
}
