package checkout

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/middleware"
	"github.com/aura-webinar/funnel/pkg/response"
)

// Lead cookies keep the identity across visits.
const (
	CookieLeadName  = "lead_name"
	CookieLeadEmail = "lead_email"
	leadCookieAge   = 365 * 24 * 60 * 60
)

// StateStore loads and saves checkouts.
type StateStore interface {
	Get(ctx context.Context, id string) (*OrderState, error)
	Save(ctx context.Context, st *OrderState) error
}

// CookieConfig controls the lead cookies.
type CookieConfig struct {
	Domain string
	Secure bool
}

// Handler serves the checkout endpoints.
type Handler struct {
	svc           *Service
	store         StateStore
	cookies       CookieConfig
	support       response.Support
	defaultRegion string
	logger        *zap.Logger
}

// NewHandler creates a checkout handler.
func NewHandler(svc *Service, store StateStore, cookies CookieConfig, support response.Support, defaultRegion string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, store: store, cookies: cookies, support: support, defaultRegion: defaultRegion, logger: logger}
}

// BeginBody is the body for POST /checkout.
type BeginBody struct {
	PrimarySlug   string `json:"primary_slug" binding:"required"`
	SecondarySlug string `json:"secondary_slug"`
	Region        string `json:"region"`
	IncludeBump   bool   `json:"include_bump"`
}

// IdentityBody is the body for POST /checkout/:id/identity.
type IdentityBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// BumpBody is the body for POST /checkout/:id/bump.
type BumpBody struct {
	Include bool `json:"include"`
}

// CardBody is the body for POST /checkout/:id/pay/card.
type CardBody struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

// PayPalBody is the body for POST /checkout/:id/pay/paypal.
type PayPalBody struct {
	OrderID string `json:"order_id" binding:"required"`
}

// Begin handles POST /checkout.
func (h *Handler) Begin(c *gin.Context) {
	var req BeginBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	region := req.Region
	if region == "" {
		region = h.defaultRegion
	}
	br := BeginRequest{
		PrimarySlug:   req.PrimarySlug,
		SecondarySlug: req.SecondarySlug,
		Region:        region,
		IncludeBump:   req.IncludeBump,
		Name:          h.cookie(c, CookieLeadName),
		Email:         h.cookie(c, CookieLeadEmail),
	}
	if uid, ok := middleware.UserID(c); ok {
		br.UserID = &uid
		br.AccountEmail = middleware.UserEmail(c)
		if br.AccountEmail != "" {
			br.Email = br.AccountEmail
		}
	}
	st, err := h.svc.Begin(c.Request.Context(), br)
	if st == nil {
		h.fail(c, err)
		return
	}
	if !h.save(c, st) {
		return
	}
	if st.Step == StepPayment {
		h.setLeadCookies(c, st)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, h.svc.View(st))
}

// Get handles GET /checkout/:id.
func (h *Handler) Get(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, h.svc.View(st))
}

// SubmitIdentity handles POST /checkout/:id/identity.
func (h *Handler) SubmitIdentity(c *gin.Context) {
	var req IdentityBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	st, ok := h.load(c)
	if !ok {
		return
	}
	err := h.svc.SubmitIdentity(c.Request.Context(), st, req.Name, req.Email)
	var ve *ValidationError
	if errors.As(err, &ve) {
		response.Validation(c, ve.Field, ve.Message)
		return
	}
	if !h.save(c, st) {
		return
	}
	if st.Step == StepPayment {
		h.setLeadCookies(c, st)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, h.svc.View(st))
}

// SetBump handles POST /checkout/:id/bump.
func (h *Handler) SetBump(c *gin.Context) {
	var req BumpBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	st, ok := h.load(c)
	if !ok {
		return
	}
	err := h.svc.SetBump(c.Request.Context(), st, req.Include)
	h.finish(c, st, err, func() { response.OK(c, h.svc.View(st)) })
}

// PaySavedCard handles POST /checkout/:id/pay/saved-card.
func (h *Handler) PaySavedCard(c *gin.Context) {
	h.pay(c, MethodQuickPay, PayInput{})
}

// PayCard handles POST /checkout/:id/pay/card.
func (h *Handler) PayCard(c *gin.Context) {
	var req CardBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.pay(c, MethodCard, PayInput{PaymentMethodID: req.PaymentMethodID})
}

// PayPayPal handles POST /checkout/:id/pay/paypal after the viewer approved the order.
func (h *Handler) PayPayPal(c *gin.Context) {
	var req PayPalBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.pay(c, MethodPayPal, PayInput{PayPalOrderID: req.OrderID})
}

// CreatePayPalOrder handles POST /checkout/:id/paypal/order.
func (h *Handler) CreatePayPalOrder(c *gin.Context) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	orderID, err := h.svc.CreatePayPalOrder(c.Request.Context(), st)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"order_id": orderID})
}

func (h *Handler) pay(c *gin.Context, kind MethodKind, in PayInput) {
	st, ok := h.load(c)
	if !ok {
		return
	}
	res, err := h.svc.Pay(c.Request.Context(), st, kind, in)
	if err == nil {
		if st, ok = h.saveCompleted(c, st); !ok {
			return
		}
	}
	h.finish(c, st, err, func() {
		response.OK(c, gin.H{
			"payment_id":   res.PaymentID,
			"redirect_url": st.RedirectURL,
			"notice":       st.Notice,
		})
	})
}

// saveCompleted persists a finished payment. A request that saved in between loses: its state
// is reloaded and the payment outcome written over it.
func (h *Handler) saveCompleted(c *gin.Context, st *OrderState) (*OrderState, bool) {
	ctx := c.Request.Context()
	for attempt := 0; attempt < 3; attempt++ {
		err := h.store.Save(ctx, st)
		if err == nil {
			return st, true
		}
		if !errors.Is(err, ErrConflict) {
			break
		}
		latest, gerr := h.store.Get(ctx, st.ID)
		if gerr != nil {
			break
		}
		latest.Step, latest.PaymentID, latest.RedirectURL, latest.Notice = st.Step, st.PaymentID, st.RedirectURL, st.Notice
		st = latest
	}
	h.logger.Error("save completed checkout failed", zap.String("checkout_id", st.ID), zap.String("payment_id", st.PaymentID))
	response.InternalWithSupport(c, "your payment went through but we could not update your order, please contact support", h.support)
	return st, false
}

// finish saves the state and either reports err or runs ok. A state already saved by
// saveCompleted is not written again.
func (h *Handler) finish(c *gin.Context, st *OrderState, err error, ok func()) {
	if err != nil || st.Step != StepRedirected {
		if !h.save(c, st) {
			return
		}
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	ok()
}

// load fetches the checkout. A checkout opened by a signed-in viewer is only served to that viewer.
func (h *Handler) load(c *gin.Context) (*OrderState, bool) {
	st, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if st.UserID != nil {
		if uid, ok := middleware.UserID(c); !ok || uid != *st.UserID {
			response.Forbidden(c, "this checkout belongs to another account")
			return nil, false
		}
	}
	return st, true
}

func (h *Handler) save(c *gin.Context, st *OrderState) bool {
	err := h.store.Save(c.Request.Context(), st)
	if errors.Is(err, ErrConflict) {
		response.Conflict(c, "checkout was updated elsewhere, please reload")
		return false
	}
	if err != nil {
		h.logger.Error("save checkout failed", zap.String("checkout_id", st.ID), zap.Error(err))
		response.InternalWithSupport(c, "something went wrong, please contact support", h.support)
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	var ve *ValidationError
	var pe *ProviderError
	switch {
	case errors.As(err, &ve):
		response.Validation(c, ve.Field, ve.Message)
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "checkout not found")
	case errors.Is(err, ErrUnknownOffer), errors.Is(err, ErrPriceUnavailable):
		response.NotFound(c, "offer not available")
	case errors.Is(err, ErrWrongStep):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrUnknownMethod), errors.Is(err, ErrMissingInput):
		response.BadRequest(c, err.Error())
	case errors.As(err, &pe):
		response.PaymentFailed(c, pe.Error(), pe.Code, h.support)
	case errors.Is(err, ErrPayPalOrder):
		response.PaymentFailed(c, "PayPal is not available right now. Please try again or pay by card.", "paypal_order_failed", h.support)
	case errors.Is(err, ErrIntentUnavailable):
		response.InternalWithSupport(c, NoticeIntentFailed, h.support)
	default:
		h.logger.Error("checkout request failed", zap.Error(err))
		response.InternalWithSupport(c, "something went wrong, please contact support", h.support)
	}
}

func (h *Handler) setLeadCookies(c *gin.Context, st *OrderState) {
	SetLeadCookies(c, h.cookies, st.Name, st.Email)
}

// SetLeadCookies remembers the lead so later forms start prefilled.
func SetLeadCookies(c *gin.Context, cfg CookieConfig, name, email string) {
	c.SetCookie(CookieLeadName, name, leadCookieAge, "/", cfg.Domain, cfg.Secure, false)
	c.SetCookie(CookieLeadEmail, email, leadCookieAge, "/", cfg.Domain, cfg.Secure, false)
}

func (h *Handler) cookie(c *gin.Context, name string) string {
	v, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return v
}
