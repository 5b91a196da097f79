package analytics

import (
	"context"
	"errors"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/webinars"
	"github.com/aura-webinar/funnel/pkg/response"
)

// Store reads aggregates.
type Store interface {
	CountsByWebinar(ctx context.Context, webinarID uuid.UUID) (*Counts, error)
}

// Webinars looks up the webinar being summarised.
type Webinars interface {
	GetWebinar(ctx context.Context, id uuid.UUID) (*models.Webinar, error)
}

// Audience reports connected viewers.
type Audience interface {
	AudienceCount(webinarID uuid.UUID) int
}

// Summary is the JSON shape of GET /admin/webinars/:id/analytics.
type Summary struct {
	TotalRegistrations int      `json:"total_registrations"`
	TotalAttended      int      `json:"total_attended"`
	TotalNoShow        int      `json:"total_no_show"`
	LiveViewers        int      `json:"live_viewers"`
	AvgWatchSeconds    int64    `json:"avg_watch_seconds"`
	AvgWatchPercent    float64  `json:"avg_watch_percent"`
	FeedbackCount      int      `json:"feedback_count"`
	AvgRating          float64  `json:"avg_rating"`
	MessagesCount      int      `json:"messages_count"`
	Buyers             int      `json:"buyers"`
	ConversionRate     *float64 `json:"conversion_rate,omitempty"`
}

// Handler handles GET /admin/webinars/:id/analytics.
type Handler struct {
	store    Store
	webinars Webinars
	audience Audience
	logger   *zap.Logger
}

// NewHandler creates an analytics handler. audience may be nil.
func NewHandler(store Store, lookup Webinars, audience Audience, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, webinars: lookup, audience: audience, logger: logger}
}

// GetByWebinar handles GET /admin/webinars/:id/analytics. Admin access is enforced by route middleware.
func (h *Handler) GetByWebinar(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid webinar id")
		return
	}
	ctx := c.Request.Context()

	w, err := h.webinars.GetWebinar(ctx, id)
	if errors.Is(err, webinars.ErrNotFound) {
		response.NotFound(c, "webinar not found")
		return
	}
	if err != nil {
		h.logger.Error("load webinar failed", zap.String("webinar_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load webinar")
		return
	}

	counts, err := h.store.CountsByWebinar(ctx, id)
	if err != nil {
		h.logger.Error("load analytics failed", zap.String("webinar_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load analytics")
		return
	}
	response.OK(c, summarise(w, counts, h.live(id)))
}

func (h *Handler) live(id uuid.UUID) int {
	if h.audience == nil {
		return 0
	}
	return h.audience.AudienceCount(id)
}

func summarise(w *models.Webinar, c *Counts, live int) Summary {
	out := Summary{
		TotalRegistrations: c.Registrations,
		TotalAttended:      c.Attended,
		TotalNoShow:        max(c.Registrations-c.Attended, 0),
		LiveViewers:        live,
		AvgWatchSeconds:    c.AvgWatchSeconds,
		FeedbackCount:      c.Feedback,
		AvgRating:          round2(c.AvgRating),
		MessagesCount:      c.Messages,
		Buyers:             c.Buyers,
	}
	if w.DurationSeconds > 0 {
		out.AvgWatchPercent = round2(math.Min(float64(c.AvgWatchSeconds)/float64(w.DurationSeconds)*100, 100))
	}
	if c.Attended > 0 {
		conv := round2(float64(c.Buyers) / float64(c.Attended))
		out.ConversionRate = &conv
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
