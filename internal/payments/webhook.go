package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/checkout"
	"github.com/aura-webinar/funnel/pkg/response"
)

const maxWebhookBody = 64 * 1024

// Granter records offer ownership for a settled payment. Granting twice is a no-op.
type Granter interface {
	Grant(ctx context.Context, email string, userID *uuid.UUID, slugs []string, source string) (int, error)
}

// WebhookHandler fulfils card payments from Stripe events.
type WebhookHandler struct {
	secret   string
	granter  Granter
	reporter checkout.ErrorReporter
	logger   *zap.Logger
}

// NewWebhookHandler creates a Stripe webhook handler. reporter may be nil.
func NewWebhookHandler(secret string, granter Granter, reporter checkout.ErrorReporter, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{secret: secret, granter: granter, reporter: reporter, logger: logger}
}

// HandleStripe handles POST /webhooks/stripe. A non-2xx answer makes Stripe redeliver.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}
	sig := c.GetHeader("Stripe-Signature")
	if sig == "" {
		response.BadRequest(c, "missing Stripe-Signature header")
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn("stripe webhook rejected", zap.Error(err))
		response.BadRequest(c, "invalid signature")
		return
	}

	if event.Data == nil {
		response.BadRequest(c, "event without data")
		return
	}
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			h.logger.Error("decode payment intent failed", zap.String("event_id", event.ID), zap.Error(err))
			response.BadRequest(c, "invalid payment intent")
			return
		}
		if err := h.fulfil(c.Request.Context(), &pi); err != nil {
			response.Internal(c, "fulfilment failed")
			return
		}
	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err == nil {
			fields := []zap.Field{zap.String("intent_id", pi.ID), zap.String("checkout_id", pi.Metadata["checkout_id"])}
			if pi.LastPaymentError != nil {
				fields = append(fields, zap.String("code", string(pi.LastPaymentError.Code)))
			}
			h.logger.Info("card payment failed", fields...)
		}
	default:
		h.logger.Debug("stripe event ignored", zap.String("type", string(event.Type)))
	}
	response.OK(c, gin.H{"received": true})
}

func (h *WebhookHandler) fulfil(ctx context.Context, pi *stripe.PaymentIntent) error {
	email := pi.Metadata["email"]
	slugs := splitSlugs(pi.Metadata["offer_slugs"])
	if email == "" || len(slugs) == 0 {
		h.logger.Warn("payment intent without offer metadata", zap.String("intent_id", pi.ID))
		return nil
	}
	var userID *uuid.UUID
	if id, err := uuid.Parse(pi.Metadata["user_id"]); err == nil {
		userID = &id
	}
	granted, err := h.granter.Grant(ctx, email, userID, slugs, ProviderStripe)
	if err != nil {
		h.logger.Error("grant offers failed", zap.String("intent_id", pi.ID), zap.Error(err))
		if h.reporter != nil {
			h.reporter.Report(ctx, "stripe.fulfil", err, zap.String("intent_id", pi.ID))
		}
		return err
	}
	h.logger.Info("card payment fulfilled",
		zap.String("intent_id", pi.ID),
		zap.String("checkout_id", pi.Metadata["checkout_id"]),
		zap.Strings("offer_slugs", slugs),
		zap.Int("granted", granted))
	return nil
}

func splitSlugs(s string) []string {
	var out []string
	for _, slug := range strings.Split(s, ",") {
		if slug = strings.TrimSpace(slug); slug != "" {
			out = append(out, slug)
		}
	}
	return out
}
