package payments

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/checkout"
	"github.com/aura-webinar/funnel/internal/middleware"
	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/pkg/response"
)

// Handler serves the payment contracts under /api. Nil gateways answer 503.
type Handler struct {
	quoter  *Quoter
	intents checkout.IntentCreator
	stripe  *StripeGateway
	paypal  *PayPalGateway
	pending checkout.PendingSaver
	support response.Support
	success string
	pubKey  string
	logger  *zap.Logger
}

// HandlerDeps are the collaborators of Handler.
type HandlerDeps struct {
	Quoter     *Quoter
	Intents    checkout.IntentCreator
	Stripe     *StripeGateway
	PayPal     *PayPalGateway
	Pending    checkout.PendingSaver
	Support    response.Support
	SuccessURL string
	// PublishableKey is handed to the browser for the card element.
	PublishableKey string
	Logger         *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(d HandlerDeps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		quoter:  d.Quoter,
		intents: d.Intents,
		stripe:  d.Stripe,
		paypal:  d.PayPal,
		pending: d.Pending,
		support: d.Support,
		success: d.SuccessURL,
		pubKey:  d.PublishableKey,
		logger:  d.Logger,
	}
}

// StripeConfig handles GET /api/stripe-config.
func (h *Handler) StripeConfig(c *gin.Context) {
	if h.stripe == nil || h.pubKey == "" {
		response.ServiceUnavailable(c, ErrNotConfigured.Error())
		return
	}
	response.OK(c, gin.H{"publishable_key": h.pubKey})
}

// CreateIntentRequest is the body for POST /api/create-intent.
type CreateIntentRequest struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required"`
	Region        string `json:"region" binding:"required"`
	PrimarySlug   string `json:"primary_offer_slug" binding:"required"`
	SecondarySlug string `json:"secondary_offer_slug"`
}

// CreateIntent handles POST /api/create-intent.
func (h *Handler) CreateIntent(c *gin.Context) {
	if h.intents == nil {
		response.ServiceUnavailable(c, ErrNotConfigured.Error())
		return
	}
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ir := checkout.IntentRequest{
		Name:          req.Name,
		Email:         req.Email,
		Region:        req.Region,
		PrimarySlug:   req.PrimarySlug,
		SecondarySlug: req.SecondarySlug,
	}
	if uid, ok := middleware.UserID(c); ok {
		ir.UserID = &uid
	}
	intent, err := h.intents.CreateIntent(c.Request.Context(), ir)
	if err != nil {
		h.fail(c, "create intent", err)
		return
	}
	response.OK(c, gin.H{"clientSecret": intent.ClientSecret})
}

// HasPaymentMethods handles POST /api/has-payment-methods for the authenticated viewer.
func (h *Handler) HasPaymentMethods(c *gin.Context) {
	if h.stripe == nil {
		response.ServiceUnavailable(c, ErrNotConfigured.Error())
		return
	}
	email := middleware.UserEmail(c)
	if email == "" {
		response.OK(c, gin.H{"has_saved_methods": false})
		return
	}
	has, customerID, err := h.stripe.HasSavedMethods(c.Request.Context(), email)
	if err != nil {
		h.fail(c, "has payment methods", err)
		return
	}
	body := gin.H{"has_saved_methods": has}
	if customerID != "" {
		body["customer_id"] = customerID
	}
	response.OK(c, body)
}

// ChargeSavedCardRequest is the body for POST /api/charge-saved-card. CustomerID is optional
// and must name the signed-in viewer's own customer when sent.
type ChargeSavedCardRequest struct {
	ClientSecret string `json:"client_secret" binding:"required"`
	CustomerID   string `json:"customer_id"`
}

// ChargeSavedCard handles POST /api/charge-saved-card. The customer is resolved from the
// token's email.
func (h *Handler) ChargeSavedCard(c *gin.Context) {
	if h.stripe == nil {
		response.ServiceUnavailable(c, ErrNotConfigured.Error())
		return
	}
	var req ChargeSavedCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	email := middleware.UserEmail(c)
	if email == "" {
		response.Unauthorized(c, "sign in to pay with a saved card")
		return
	}
	has, customerID, err := h.stripe.HasSavedMethods(c.Request.Context(), email)
	if err != nil {
		h.fail(c, "has payment methods", err)
		return
	}
	if !has {
		response.BadRequest(c, ErrNoSavedMethod.Error())
		return
	}
	if req.CustomerID != "" && req.CustomerID != customerID {
		response.Forbidden(c, "customer does not belong to this account")
		return
	}
	res, err := h.stripe.ChargeSavedCard(c.Request.Context(), req.ClientSecret, customerID, h.success)
	if err != nil {
		h.fail(c, "charge saved card", err)
		return
	}
	body := gin.H{"payment_id": res.PaymentID}
	if res.RedirectURL != "" {
		body["next_action"] = gin.H{"redirect_to_url": res.RedirectURL}
	}
	response.OK(c, body)
}

// CreateOrderRequest is the body for POST /api/paypal/create-order.
type CreateOrderRequest struct {
	Email         string `json:"email"`
	Region        string `json:"region" binding:"required"`
	PrimarySlug   string `json:"primary_offer_slug" binding:"required"`
	SecondarySlug string `json:"secondary_offer_slug"`
}

// CreatePayPalOrder handles POST /api/paypal/create-order.
func (h *Handler) CreatePayPalOrder(c *gin.Context) {
	if h.paypal == nil || h.quoter == nil {
		response.ServiceUnavailable(c, ErrNotConfigured.Error())
		return
	}
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q := QuoteRequest{Region: req.Region, PrimarySlug: req.PrimarySlug, SecondarySlug: req.SecondarySlug}
	if uid, ok := middleware.UserID(c); ok {
		q.UserID = &uid
	}
	totals, err := h.quoter.Quote(c.Request.Context(), q)
	if err != nil {
		h.fail(c, "quote", err)
		return
	}
	orderID, err := h.paypal.CreateOrder(c.Request.Context(), totals.AmountEUR, totals.Slugs)
	if err != nil {
		h.fail(c, "paypal create order", err)
		return
	}
	response.OK(c, gin.H{"orderID": orderID})
}

// SavePendingRequest is the body for POST /api/paypal/save-pending-payment.
type SavePendingRequest struct {
	Raw        json.RawMessage `json:"raw"`
	FullName   string          `json:"full_name" binding:"required"`
	Email      string          `json:"email" binding:"required"`
	Region     string          `json:"region" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency" binding:"required"`
	OfferSlugs []string        `json:"offer_slugs" binding:"required,min=1"`
	PaymentID  string          `json:"payment_id"`
	OrderID    string          `json:"order_id" binding:"required"`
	PayerID    string          `json:"payer_id"`
}

// SavePendingPayment handles POST /api/paypal/save-pending-payment.
func (h *Handler) SavePendingPayment(c *gin.Context) {
	if h.pending == nil {
		response.ServiceUnavailable(c, ErrNotConfigured.Error())
		return
	}
	var req SavePendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		response.BadRequest(c, "amount must be positive")
		return
	}
	p := &models.PendingPayment{
		Provider:          models.PaymentProviderPayPal,
		ProviderOrderID:   req.OrderID,
		ProviderPaymentID: req.PaymentID,
		PayerID:           req.PayerID,
		FullName:          req.FullName,
		Email:             req.Email,
		Region:            req.Region,
		Amount:            req.Amount,
		Currency:          req.Currency,
		OfferSlugs:        req.OfferSlugs,
		Raw:               req.Raw,
	}
	if err := h.pending.SavePending(c.Request.Context(), p); err != nil {
		h.fail(c, "save pending payment", err)
		return
	}
	response.OK(c, gin.H{"ok": true, "id": p.ID})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	var pe *checkout.ProviderError
	switch {
	case errors.As(err, &pe):
		response.PaymentFailed(c, pe.Error(), pe.Code, h.support)
	case errors.Is(err, checkout.ErrUnknownOffer), errors.Is(err, checkout.ErrPriceUnavailable):
		response.NotFound(c, "offer not available")
	case errors.Is(err, ErrInvalidClientSecret):
		response.BadRequest(c, err.Error())
	case errors.Is(err, context.Canceled):
		response.ServiceUnavailable(c, "request cancelled")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.InternalWithSupport(c, "something went wrong, please contact support", h.support)
	}
}
