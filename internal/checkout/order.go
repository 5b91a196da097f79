// Package checkout runs the two-step order flow: lead capture, then payment.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
)

// Step is the position in the order flow.
type Step string

const (
	StepIdentity   Step = "identity"
	StepPayment    Step = "payment"
	StepRedirected Step = "redirected"
)

// DefaultCountdown is the payment reservation length.
const DefaultCountdown = 15 * time.Minute

// Viewer-facing notices.
const (
	NoticeIntentFailed       = "We could not prepare your payment. Please contact support."
	NoticeFulfillmentDelayed = "Your payment went through. Access to your purchase may take up to 24 hours to appear."
)

var (
	ErrWrongStep         = errors.New("operation not allowed in this step")
	ErrUnknownMethod     = errors.New("payment method not available")
	ErrIntentUnavailable = errors.New("payment intent unavailable")
	ErrPayPalOrder       = errors.New("paypal order could not be created")
)

// OfferSource loads offers and ownership.
type OfferSource interface {
	LoadCatalog(ctx context.Context, slugs []string) ([]*models.Offer, error)
	OwnedSlugs(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// IntentRequest mirrors the create-intent contract.
type IntentRequest struct {
	Name          string
	Email         string
	Region        string
	PrimarySlug   string
	SecondarySlug string
	UserID        *uuid.UUID
	CheckoutID    string
}

// Intent is a created payment intent.
type Intent struct {
	ClientSecret string
	CustomerID   string
}

// IntentCreator creates card payment intents.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// SavedMethodLookup reports whether a customer has a stored card.
type SavedMethodLookup interface {
	HasSavedMethods(ctx context.Context, email string) (bool, string, error)
}

// PayPalOrderCreator creates PayPal orders in EUR.
type PayPalOrderCreator interface {
	CreateOrder(ctx context.Context, amountEUR decimal.Decimal, slugs []string) (string, error)
}

// Tracker records attribution events.
type Tracker interface {
	Track(ctx context.Context, e models.TrackingEvent) error
}

// ErrorReporter receives integration errors.
type ErrorReporter interface {
	Report(ctx context.Context, op string, err error, fields ...zap.Field)
}

// OrderState is the persisted checkout.
type OrderState struct {
	ID              string     `json:"id"`
	Step            Step       `json:"step"`
	PrimarySlug     string     `json:"primary_slug"`
	SecondarySlug   string     `json:"secondary_slug,omitempty"`
	Region          string     `json:"region"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	AccountEmail    string     `json:"account_email,omitempty"`
	Name            string     `json:"name,omitempty"`
	Email           string     `json:"email,omitempty"`
	IncludeBump     bool       `json:"include_bump"`
	Upgrade         bool       `json:"upgrade"`
	BumpOffered     bool       `json:"bump_offered"`
	SignedUp        bool       `json:"signed_up"`
	ClientSecret    string     `json:"client_secret,omitempty"`
	CustomerID      string     `json:"customer_id,omitempty"`
	HasSavedMethods bool       `json:"has_saved_methods"`
	Totals          *Totals    `json:"totals,omitempty"`
	Countdown       Countdown  `json:"countdown"`
	PaymentID       string     `json:"payment_id,omitempty"`
	RedirectURL     string     `json:"redirect_url,omitempty"`
	Notice          string     `json:"notice,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	// Version is the store's revision of the state, bumped on every save.
	Version int64 `json:"-"`
}

// BeginRequest opens a checkout. AccountEmail is the authenticated viewer's email; saved
// cards are looked up by it only.
type BeginRequest struct {
	PrimarySlug   string
	SecondarySlug string
	Region        string
	UserID        *uuid.UUID
	AccountEmail  string
	Name          string
	Email         string
	IncludeBump   bool
}

// Deps are the collaborators of Service. Nil collaborators disable their path.
type Deps struct {
	Offers       OfferSource
	Intents      IntentCreator
	SavedMethods SavedMethodLookup
	PayPalOrders PayPalOrderCreator
	Tracker      Tracker
	Reporter     ErrorReporter
	Methods      []PaymentMethod
	Now          func() time.Time
	Countdown    time.Duration
	SuccessURL   string
	Logger       *zap.Logger
}

// Service runs order state transitions. It does not persist state; callers load and save it.
type Service struct {
	deps    Deps
	methods map[MethodKind]PaymentMethod
	logger  *zap.Logger
}

// NewService creates the order service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Countdown <= 0 {
		d.Countdown = DefaultCountdown
	}
	methods := make(map[MethodKind]PaymentMethod, len(d.Methods))
	for _, m := range d.Methods {
		methods[m.Kind()] = m
	}
	return &Service{deps: d, methods: methods, logger: d.Logger}
}

// resolved is the request-scoped pricing context of one operation.
type resolved struct {
	subject Subject
	totals  Totals
}

func (s *Service) resolve(ctx context.Context, st *OrderState) (*resolved, error) {
	slugs := []string{st.PrimarySlug}
	if st.SecondarySlug != "" {
		slugs = append(slugs, st.SecondarySlug)
	}
	offers, err := s.deps.Offers.LoadCatalog(ctx, slugs)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	catalog := NewCatalog(offers)
	var owned []string
	if st.UserID != nil {
		if owned, err = s.deps.Offers.OwnedSlugs(ctx, *st.UserID); err != nil {
			return nil, fmt.Errorf("load ownership: %w", err)
		}
	}
	user := NewUserContext(st.UserID != nil, st.Region, catalog, owned)
	subject, err := ResolveSubject(catalog, st.PrimarySlug, st.SecondarySlug, user)
	if err != nil {
		return nil, err
	}
	totals, err := ComputeTotals(subject, st.IncludeBump, st.Region)
	if err != nil {
		return nil, err
	}
	return &resolved{subject: subject, totals: totals}, nil
}

func (s *Service) apply(st *OrderState, r *resolved) {
	st.Upgrade = r.subject.Upgrade
	st.BumpOffered = r.subject.Bump != nil
	t := r.totals
	st.Totals = &t
}

// Begin opens a checkout. An authenticated upgrade viewer with a known identity skips step 1.
func (s *Service) Begin(ctx context.Context, req BeginRequest) (*OrderState, error) {
	st := &OrderState{
		ID:            uuid.NewString(),
		Step:          StepIdentity,
		PrimarySlug:   req.PrimarySlug,
		SecondarySlug: req.SecondarySlug,
		Region:        req.Region,
		UserID:        req.UserID,
		Name:          req.Name,
		Email:         req.Email,
		IncludeBump:   req.IncludeBump,
		Countdown:     Countdown{Length: s.deps.Countdown},
		CreatedAt:     s.deps.Now(),
	}
	if st.UserID != nil {
		st.AccountEmail = NormalizeEmail(req.AccountEmail)
	}
	r, err := s.resolve(ctx, st)
	if err != nil {
		return nil, err
	}
	s.apply(st, r)
	if st.UserID != nil && st.Upgrade && ValidateIdentity(st.Name, st.Email) == nil {
		st.Name, st.Email = NormalizeName(st.Name), NormalizeEmail(st.Email)
		return st, s.enterPayment(ctx, st, r)
	}
	return st, nil
}

// SubmitIdentity validates and normalises the lead, then moves to payment.
func (s *Service) SubmitIdentity(ctx context.Context, st *OrderState, name, email string) error {
	if st.Step != StepIdentity {
		return ErrWrongStep
	}
	if err := ValidateIdentity(name, email); err != nil {
		return err
	}
	st.Name = NormalizeName(name)
	st.Email = NormalizeEmail(email)
	r, err := s.resolve(ctx, st)
	if err != nil {
		return err
	}
	s.apply(st, r)
	return s.enterPayment(ctx, st, r)
}

func (s *Service) enterPayment(ctx context.Context, st *OrderState, r *resolved) error {
	st.Step = StepPayment
	if !st.SignedUp {
		s.track(ctx, st, models.EventSignUp, r.totals, "", "")
		st.SignedUp = true
	}
	st.HasSavedMethods, st.CustomerID = false, ""
	if s.deps.SavedMethods != nil && st.UserID != nil && st.AccountEmail != "" {
		has, customerID, err := s.deps.SavedMethods.HasSavedMethods(ctx, st.AccountEmail)
		if err != nil {
			s.logger.Warn("saved payment methods lookup failed", zap.String("checkout_id", st.ID), zap.Error(err))
		} else {
			st.HasSavedMethods, st.CustomerID = has, customerID
		}
	}
	return s.refreshIntent(ctx, st)
}

// refreshIntent recreates the card intent and restarts the countdown. With a saved card the
// intent is opened for the account's customer so quick-pay can confirm it.
func (s *Service) refreshIntent(ctx context.Context, st *OrderState) error {
	st.Countdown.Reset(s.deps.Now())
	if s.deps.Intents == nil {
		return nil
	}
	req := IntentRequest{
		Name:        st.Name,
		Email:       st.Email,
		Region:      st.Region,
		PrimarySlug: st.PrimarySlug,
		UserID:      st.UserID,
		CheckoutID:  st.ID,
	}
	if quickPayAllowed(st) {
		req.Email = st.AccountEmail
	}
	if st.IncludeBump || st.Upgrade {
		req.SecondarySlug = st.SecondarySlug
	}
	intent, err := s.deps.Intents.CreateIntent(ctx, req)
	if err != nil {
		st.ClientSecret = ""
		st.Notice = NoticeIntentFailed
		s.report(ctx, "checkout.create_intent", err, st)
		return fmt.Errorf("%w: %v", ErrIntentUnavailable, err)
	}
	st.Notice = ""
	st.ClientSecret = intent.ClientSecret
	return nil
}

// quickPayAllowed holds only for an authenticated viewer whose own account has a stored card.
func quickPayAllowed(st *OrderState) bool {
	return st.UserID != nil && st.HasSavedMethods && st.CustomerID != ""
}

// SetBump toggles the order bump. On the payment step the intent is refreshed and the
// countdown restarts.
func (s *Service) SetBump(ctx context.Context, st *OrderState, include bool) error {
	if st.Step == StepRedirected {
		return ErrWrongStep
	}
	if st.IncludeBump == include {
		return nil
	}
	st.IncludeBump = include
	r, err := s.resolve(ctx, st)
	if err != nil {
		return err
	}
	s.apply(st, r)
	if st.Step != StepPayment {
		return nil
	}
	return s.refreshIntent(ctx, st)
}

// PayInput carries the provider reference of the chosen path.
type PayInput struct {
	PaymentMethodID string
	PayPalOrderID   string
}

// Pay completes the order with the chosen method. A provider failure leaves the step and
// countdown untouched so the viewer can retry.
func (s *Service) Pay(ctx context.Context, st *OrderState, kind MethodKind, in PayInput) (*ChargeResult, error) {
	if st.Step != StepPayment || st.Totals == nil {
		return nil, ErrWrongStep
	}
	method, ok := s.methods[kind]
	if !ok || (kind == MethodQuickPay && !quickPayAllowed(st)) {
		return nil, ErrUnknownMethod
	}
	s.track(ctx, st, models.EventBuyClick, *st.Totals, "", "")

	res, err := method.Pay(ctx, PaymentRequest{
		CheckoutID:      st.ID,
		Name:            st.Name,
		Email:           st.Email,
		Region:          st.Region,
		Totals:          *st.Totals,
		ClientSecret:    st.ClientSecret,
		CustomerID:      st.CustomerID,
		PaymentMethodID: in.PaymentMethodID,
		PayPalOrderID:   in.PayPalOrderID,
		ReturnURL:       s.deps.SuccessURL,
	})
	if err != nil && errors.Is(err, ErrFulfillmentDelayed) && res != nil {
		s.report(ctx, "checkout.save_pending_payment", err, st)
		s.complete(st, res)
		st.Notice = NoticeFulfillmentDelayed
		return res, nil
	}
	if err != nil {
		if errors.Is(err, models.ErrPaymentMismatch) {
			s.report(ctx, "checkout.payment_mismatch", err, st)
		}
		code, reason := DeclineDetails(err)
		s.track(ctx, st, models.EventBuyDecline, *st.Totals, code, reason)
		s.logger.Info("payment declined", zap.String("checkout_id", st.ID), zap.String("method", string(kind)), zap.String("code", code))
		return nil, err
	}
	s.complete(st, res)
	return res, nil
}

// CreatePayPalOrder opens a PayPal order for the EUR total. Failure aborts before any charge.
func (s *Service) CreatePayPalOrder(ctx context.Context, st *OrderState) (string, error) {
	if st.Step != StepPayment || st.Totals == nil {
		return "", ErrWrongStep
	}
	if s.deps.PayPalOrders == nil {
		return "", ErrUnknownMethod
	}
	orderID, err := s.deps.PayPalOrders.CreateOrder(ctx, st.Totals.AmountEUR, st.Totals.Slugs)
	if err != nil {
		code, reason := DeclineDetails(err)
		s.track(ctx, st, models.EventBuyDecline, *st.Totals, code, reason)
		s.report(ctx, "checkout.paypal_create_order", err, st)
		return "", fmt.Errorf("%w: %v", ErrPayPalOrder, err)
	}
	return orderID, nil
}

func (s *Service) complete(st *OrderState, res *ChargeResult) {
	st.Step = StepRedirected
	st.PaymentID = res.PaymentID
	if res.RedirectURL != "" {
		st.RedirectURL = res.RedirectURL
		return
	}
	st.RedirectURL = SuccessURL(s.deps.SuccessURL, res.PaymentID)
}

// SuccessURL appends the payment id to the success page.
func SuccessURL(base, paymentID string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("payment_id", paymentID)
	u.RawQuery = q.Encode()
	return u.String()
}

// DeclineDetails extracts the code and reason recorded on buy_decline.
func DeclineDetails(err error) (code, reason string) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	if errors.Is(err, ErrMissingInput) {
		return "missing_input", err.Error()
	}
	return "unknown", err.Error()
}

func (s *Service) track(ctx context.Context, st *OrderState, name string, t Totals, code, reason string) {
	if s.deps.Tracker == nil {
		return
	}
	value := t.Amount
	e := models.TrackingEvent{
		ID:         uuid.New(),
		Name:       name,
		Email:      st.Email,
		FullName:   st.Name,
		OfferSlugs: t.Slugs,
		Value:      &value,
		Currency:   t.Currency,
		ErrorCode:  code,
		Reason:     reason,
		CheckoutID: st.ID,
		OccurredAt: s.deps.Now(),
	}
	if err := s.deps.Tracker.Track(ctx, e); err != nil {
		s.logger.Warn("tracking event dropped", zap.String("event", name), zap.String("checkout_id", st.ID), zap.Error(err))
	}
}

func (s *Service) report(ctx context.Context, op string, err error, st *OrderState) {
	if s.deps.Reporter != nil {
		s.deps.Reporter.Report(ctx, op, err, zap.String("checkout_id", st.ID))
	}
}

// View is the checkout as rendered for the viewer.
type View struct {
	*OrderState
	RemainingSeconds  int    `json:"remaining_seconds"`
	Banner            Banner `json:"banner,omitempty"`
	QuickPayAvailable bool   `json:"quick_pay_available"`
	PayPalAvailable   bool   `json:"paypal_available"`
}

// View derives timer and availability flags.
func (s *Service) View(st *OrderState) View {
	v := View{OrderState: st}
	if st.Step == StepPayment {
		now := s.deps.Now()
		v.RemainingSeconds = int(st.Countdown.Remaining(now).Seconds())
		v.Banner = st.Countdown.Banner(now)
		_, quick := s.methods[MethodQuickPay]
		v.QuickPayAvailable = quick && quickPayAllowed(st) && st.ClientSecret != ""
		_, pp := s.methods[MethodPayPal]
		v.PayPalAvailable = pp && s.deps.PayPalOrders != nil
	}
	return v
}
