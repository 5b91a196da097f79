package tracking

import (
	"context"

	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
)

// Forwarder hands an event to the ads and CRM collaborators.
type Forwarder interface {
	Forward(ctx context.Context, e *models.TrackingEvent) error
}

// LogForwarder writes events to the log. It is the default when no collaborator is wired.
type LogForwarder struct {
	logger *zap.Logger
}

// NewLogForwarder creates a log forwarder.
func NewLogForwarder(logger *zap.Logger) *LogForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogForwarder{logger: logger}
}

// Forward logs e.
func (f *LogForwarder) Forward(ctx context.Context, e *models.TrackingEvent) error {
	fields := []zap.Field{
		zap.String("event", e.Name),
		zap.String("event_id", e.ID.String()),
		zap.String("email", e.Email),
		zap.Strings("offer_slugs", e.OfferSlugs),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.Value != nil {
		fields = append(fields, zap.String("value", e.Value.StringFixed(2)), zap.String("currency", e.Currency))
	}
	if e.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", e.ErrorCode), zap.String("reason", e.Reason))
	}
	f.logger.Info("tracking event forwarded", fields...)
	return nil
}
