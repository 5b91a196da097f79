package registrations

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/checkout"
	"github.com/aura-webinar/funnel/internal/middleware"
	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/webinars"
	"github.com/aura-webinar/funnel/pkg/response"
)

// FieldStartDate is the validation code for a slot that already ended.
const FieldStartDate = "start_date"

// RegisterRequest is the body for POST /webinars/:id/register.
type RegisterRequest struct {
	FullName  string    `json:"full_name" binding:"required"`
	Email     string    `json:"email" binding:"required"`
	StartDate time.Time `json:"start_date" binding:"required"`
}

// Store persists sessions.
type Store interface {
	CreateSession(ctx context.Context, s *models.WebinarSession) error
}

// Webinars looks up the webinar being registered for.
type Webinars interface {
	GetWebinar(ctx context.Context, id uuid.UUID) (*models.Webinar, error)
}

// Tracker records the lead event.
type Tracker interface {
	Track(ctx context.Context, e models.TrackingEvent) error
}

// Config holds the registration handler settings.
type Config struct {
	WatchURL string
	Cookies  checkout.CookieConfig
}

// Handler handles registration HTTP endpoints.
type Handler struct {
	store    Store
	webinars Webinars
	tracker  Tracker
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a registrations handler. tracker may be nil.
func NewHandler(store Store, lookup Webinars, tracker Tracker, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, webinars: lookup, tracker: tracker, cfg: cfg, now: time.Now, logger: logger}
}

// Register handles POST /webinars/:id/register. Creates the viewer's session for the chosen slot.
func (h *Handler) Register(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := checkout.ValidateIdentity(req.FullName, req.Email); err != nil {
		var ve *checkout.ValidationError
		if errors.As(err, &ve) {
			response.Validation(c, ve.Field, ve.Message)
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	w, err := h.webinars.GetWebinar(ctx, webinarID)
	if errors.Is(err, webinars.ErrNotFound) {
		response.NotFound(c, "webinar not found")
		return
	}
	if err != nil {
		h.logger.Error("load webinar failed", zap.String("webinar_id", webinarID.String()), zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}
	start := req.StartDate.UTC().Truncate(time.Second)
	if !start.Add(time.Duration(w.DurationSeconds) * time.Second).After(h.now()) {
		response.Validation(c, FieldStartDate, "This session has already ended.")
		return
	}

	sess := &models.WebinarSession{
		WebinarID: webinarID,
		StartDate: start,
		UserName:  checkout.NormalizeName(req.FullName),
		Email:     checkout.NormalizeEmail(req.Email),
	}
	if userID, ok := middleware.UserID(c); ok {
		sess.UserID = &userID
	}
	if err := h.store.CreateSession(ctx, sess); err != nil {
		h.logger.Error("create session failed", zap.String("webinar_id", webinarID.String()), zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}

	h.track(ctx, sess)
	checkout.SetLeadCookies(c, h.cfg.Cookies, sess.UserName, sess.Email)
	response.Created(c, gin.H{
		"session_id": sess.ID,
		"start_date": sess.StartDate,
		"join_url":   h.joinURL(sess.ID),
	})
}

func (h *Handler) track(ctx context.Context, s *models.WebinarSession) {
	if h.tracker == nil {
		return
	}
	e := models.TrackingEvent{
		ID:         uuid.New(),
		Name:       models.EventLead,
		Email:      s.Email,
		FullName:   s.UserName,
		OccurredAt: h.now(),
	}
	if err := h.tracker.Track(ctx, e); err != nil {
		h.logger.Warn("tracking event dropped", zap.String("event", e.Name), zap.String("session_id", s.ID.String()), zap.Error(err))
	}
}

func (h *Handler) joinURL(sessionID uuid.UUID) string {
	return h.cfg.WatchURL + "?" + url.Values{"session_id": {sessionID.String()}}.Encode()
}
