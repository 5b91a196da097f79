package webinars

import (
	"errors"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/middleware"
	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/playback"
	"github.com/aura-webinar/funnel/pkg/response"
)

// SessionBody is the body for POST /api/get-session.
type SessionBody struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
}

// MessagesBody is the body for POST /api/get-messages.
type MessagesBody struct {
	WebinarID string `json:"webinar_id" binding:"required,uuid"`
}

// WatchtimeBody is the body for POST /api/update-watchtime.
type WatchtimeBody struct {
	SessionID   string  `json:"session_id" binding:"required,uuid"`
	CurrentTime float64 `json:"current_time"`
}

// FeedbackBody is the body for POST /api/send-feedback.
type FeedbackBody struct {
	WebinarID string `json:"webinar_id" binding:"required,uuid"`
	Rating    int    `json:"rating" binding:"required"`
	Comment   string `json:"comment"`
}

// MessageBody is the body for POST /admin/webinars/:id/messages.
type MessageBody struct {
	UserName    string `json:"user_name" binding:"required"`
	Message     string `json:"message" binding:"required"`
	TimeSeconds int    `json:"time_seconds"`
	IsAdmin     bool   `json:"is_admin"`
}

// Audience counts live playback connections.
type Audience interface {
	AudienceCount(webinarID uuid.UUID) int
}

// Handler handles webinar HTTP endpoints.
type Handler struct {
	svc      *Service
	audience Audience
	support  response.Support
	homeURL  string
	logger   *zap.Logger
}

// NewHandler creates a webinar handler. audience may be nil. Unexpected failures
// answer with support and a link to homeURL.
func NewHandler(svc *Service, audience Audience, support response.Support, homeURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, audience: audience, support: support, homeURL: homeURL, logger: logger}
}

// GetSession handles POST /api/get-session.
func (h *Handler) GetSession(c *gin.Context) {
	var req SessionBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	data, err := h.svc.GetSession(c.Request.Context(), uuid.MustParse(req.SessionID))
	if err != nil {
		h.fail(c, "get session", err)
		return
	}
	response.OK(c, data)
}

// GetMessages handles POST /api/get-messages.
func (h *Handler) GetMessages(c *gin.Context) {
	var req MessagesBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	msgs, err := h.svc.GetMessages(c.Request.Context(), uuid.MustParse(req.WebinarID))
	if err != nil {
		h.fail(c, "get messages", err)
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}

// UpdateWatchtime handles POST /api/update-watchtime.
func (h *Handler) UpdateWatchtime(c *gin.Context) {
	var req WatchtimeBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	seconds := int(math.Round(math.Min(req.CurrentTime, math.MaxInt32)))
	if err := h.svc.UpdateWatchtime(c.Request.Context(), uuid.MustParse(req.SessionID), seconds); err != nil {
		h.fail(c, "update watchtime", err)
		return
	}
	response.OK(c, gin.H{"ok": true})
}

// SendFeedback handles POST /api/send-feedback.
func (h *Handler) SendFeedback(c *gin.Context) {
	var req FeedbackBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	f, err := h.svc.SendFeedback(c.Request.Context(), uuid.MustParse(req.WebinarID), req.Rating, req.Comment)
	if err != nil {
		h.fail(c, "send feedback", err)
		return
	}
	response.Created(c, f)
}

// View handles GET /sessions/:id/view?time=.
func (h *Handler) View(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	p, err := h.svc.Preview(c.Request.Context(), id, playback.ParseTimeOverride(c.Query("time")))
	if err != nil {
		h.fail(c, "preview", err)
		return
	}
	response.OK(c, p)
}

// AddMessage handles POST /admin/webinars/:id/messages.
func (h *Handler) AddMessage(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	var req MessageBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m := &models.WebinarMessage{
		WebinarID:   webinarID,
		UserName:    req.UserName,
		Message:     req.Message,
		TimeSeconds: req.TimeSeconds,
		IsAdmin:     req.IsAdmin,
	}
	if uid, ok := middleware.UserID(c); ok {
		m.UserID = &uid
	}
	if err := h.svc.AddMessage(c.Request.Context(), m); err != nil {
		h.fail(c, "add message", err)
		return
	}
	response.Created(c, m)
}

// AudienceCount handles GET /admin/webinars/:id/audience.
func (h *Handler) AudienceCount(c *gin.Context) {
	webinarID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	count := 0
	if h.audience != nil {
		count = h.audience.AudienceCount(webinarID)
	}
	response.OK(c, gin.H{"webinar_id": webinarID, "count": count})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, ErrInvalidRating):
		response.Validation(c, "rating", err.Error())
	case errors.Is(err, ErrInvalidWatchtime):
		response.Validation(c, "current_time", err.Error())
	case errors.Is(err, ErrInvalidMessage):
		response.Validation(c, "message", err.Error())
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.Fatal(c, op+" failed", h.support, h.homeURL)
	}
}
