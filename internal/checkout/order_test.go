package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func offer(slug, regular, discounted, eur string) *models.Offer {
	return &models.Offer{
		ID:   uuid.New(),
		Slug: slug,
		Name: slug,
		Prices: map[string]models.Price{
			"cz": {Region: "cz", Currency: "CZK", Regular: dec(regular), Discounted: dec(discounted), EURRegular: dec(eur), EURDiscounted: dec(eur)},
		},
	}
}

func testOffers() []*models.Offer {
	return []*models.Offer{
		offer("course", "49.99", "29.99", "29.99"),
		offer("workbook", "19.99", "9.99", "9.99"),
	}
}

type fakeOffers struct {
	offers []*models.Offer
	owned  map[uuid.UUID][]string
	err    error
}

func (f *fakeOffers) LoadCatalog(ctx context.Context, slugs []string) ([]*models.Offer, error) {
	return f.offers, f.err
}

func (f *fakeOffers) OwnedSlugs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return f.owned[userID], nil
}

type fakeIntents struct {
	calls []IntentRequest
	err   error
}

func (f *fakeIntents) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &Intent{ClientSecret: "pi_1_secret_x", CustomerID: "cus_1"}, nil
}

type mockTracker struct{ mock.Mock }

func (m *mockTracker) Track(ctx context.Context, e models.TrackingEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockTracker) names() []string {
	var out []string
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).(models.TrackingEvent).Name)
	}
	return out
}

func (m *mockTracker) last() models.TrackingEvent {
	return m.Calls[len(m.Calls)-1].Arguments.Get(1).(models.TrackingEvent)
}

type recordingReporter struct{ ops []string }

func (r *recordingReporter) Report(ctx context.Context, op string, err error, fields ...zap.Field) {
	r.ops = append(r.ops, op)
}

type stubMethod struct {
	kind MethodKind
	res  *ChargeResult
	err  error
	reqs []PaymentRequest
}

func (s *stubMethod) Kind() MethodKind { return s.kind }

func (s *stubMethod) Pay(ctx context.Context, req PaymentRequest) (*ChargeResult, error) {
	s.reqs = append(s.reqs, req)
	return s.res, s.err
}

type fixture struct {
	svc      *Service
	offers   *fakeOffers
	intents  *fakeIntents
	tracker  *mockTracker
	reporter *recordingReporter
	now      *time.Time
}

func newFixture(methods ...PaymentMethod) *fixture {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		offers:   &fakeOffers{offers: testOffers(), owned: map[uuid.UUID][]string{}},
		intents:  &fakeIntents{},
		tracker:  &mockTracker{},
		reporter: &recordingReporter{},
		now:      &now,
	}
	f.tracker.On("Track", mock.Anything, mock.Anything).Return(nil)
	f.svc = NewService(Deps{
		Offers:     f.offers,
		Intents:    f.intents,
		Tracker:    f.tracker,
		Reporter:   f.reporter,
		Methods:    methods,
		Now:        func() time.Time { return *f.now },
		SuccessURL: "https://shop.example.com/success",
	})
	return f
}

func (f *fixture) begin(t *testing.T, includeBump bool) *OrderState {
	t.Helper()
	st, err := f.svc.Begin(context.Background(), BeginRequest{PrimarySlug: "course", SecondarySlug: "workbook", Region: "cz", IncludeBump: includeBump})
	require.NoError(t, err)
	return st
}

func (f *fixture) toPayment(t *testing.T, includeBump bool) *OrderState {
	t.Helper()
	st := f.begin(t, includeBump)
	require.NoError(t, f.svc.SubmitIdentity(context.Background(), st, "john doe", "John@example.com"))
	require.Equal(t, StepPayment, st.Step)
	return st
}

func TestTotals_BumpAndUpgrade(t *testing.T) {
	f := newFixture()

	st := f.toPayment(t, true)
	assert.True(t, st.Totals.Amount.Equal(dec("39.98")), st.Totals.Amount.String())
	assert.Equal(t, []string{"course", "workbook"}, st.Totals.Slugs)

	require.NoError(t, f.svc.SetBump(context.Background(), st, false))
	assert.True(t, st.Totals.Amount.Equal(dec("29.99")))

	uid := uuid.New()
	f.offers.owned[uid] = []string{"course"}
	for _, bump := range []bool{true, false} {
		up, err := f.svc.Begin(context.Background(), BeginRequest{PrimarySlug: "course", SecondarySlug: "workbook", Region: "cz", UserID: &uid, IncludeBump: bump})
		require.NoError(t, err)
		assert.True(t, up.Upgrade)
		assert.False(t, up.BumpOffered)
		assert.True(t, up.Totals.Amount.Equal(dec("9.99")))
		assert.Equal(t, []string{"workbook"}, up.Totals.Slugs)
	}
}

func TestSubmitIdentity_NormalisesAndSignsUp(t *testing.T) {
	f := newFixture()
	st := f.toPayment(t, true)

	assert.Equal(t, "John Doe", st.Name)
	assert.Equal(t, "john@example.com", st.Email)
	assert.Equal(t, "pi_1_secret_x", st.ClientSecret)
	require.Len(t, f.intents.calls, 1)
	assert.Equal(t, "workbook", f.intents.calls[0].SecondarySlug)

	assert.Equal(t, []string{models.EventSignUp}, f.tracker.names())
	e := f.tracker.last()
	assert.Equal(t, []string{"course", "workbook"}, e.OfferSlugs)
	assert.Equal(t, st.ID, e.CheckoutID)
}

func TestSubmitIdentity_ValidationBlocks(t *testing.T) {
	f := newFixture()
	st := f.begin(t, false)

	err := f.svc.SubmitIdentity(context.Background(), st, "John", "john@gmail.con")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, FieldEmail, ve.Field)
	assert.Equal(t, StepIdentity, st.Step)
	assert.Empty(t, f.intents.calls)
	assert.Empty(t, f.reporter.ops)
	f.tracker.AssertNotCalled(t, "Track", mock.Anything, mock.Anything)
}

func TestBegin_FastForwardsAuthenticatedUpgrade(t *testing.T) {
	f := newFixture()
	uid := uuid.New()
	f.offers.owned[uid] = []string{"course"}

	st, err := f.svc.Begin(context.Background(), BeginRequest{
		PrimarySlug: "course", SecondarySlug: "workbook", Region: "cz",
		UserID: &uid, Name: "ana novak", Email: "Ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, StepPayment, st.Step)
	assert.Equal(t, "Ana Novak", st.Name)
	assert.Equal(t, []string{models.EventSignUp}, f.tracker.names())
}

func TestBegin_NoFastForwardWithoutIdentity(t *testing.T) {
	f := newFixture()
	uid := uuid.New()
	f.offers.owned[uid] = []string{"course"}

	st, err := f.svc.Begin(context.Background(), BeginRequest{PrimarySlug: "course", SecondarySlug: "workbook", Region: "cz", UserID: &uid})
	require.NoError(t, err)
	assert.Equal(t, StepIdentity, st.Step)
}

func TestSetBump_ResetsCountdown(t *testing.T) {
	f := newFixture()
	st := f.toPayment(t, false)

	*f.now = f.now.Add(14*time.Minute + 30*time.Second)
	v := f.svc.View(st)
	assert.Equal(t, 30, v.RemainingSeconds)
	assert.Equal(t, BannerUrgent, v.Banner)

	require.NoError(t, f.svc.SetBump(context.Background(), st, true))
	v = f.svc.View(st)
	assert.Equal(t, 15*60, v.RemainingSeconds)
	assert.Equal(t, BannerNone, v.Banner)
	assert.Len(t, f.intents.calls, 2)

	require.NoError(t, f.svc.SetBump(context.Background(), st, true))
	assert.Len(t, f.intents.calls, 2, "unchanged flag does not refresh")
}

func TestIntentFailure_ReportedWithNotice(t *testing.T) {
	f := newFixture()
	f.intents.err = errors.New("stripe unavailable")
	st := f.begin(t, false)

	err := f.svc.SubmitIdentity(context.Background(), st, "John Doe", "john@example.com")
	require.ErrorIs(t, err, ErrIntentUnavailable)
	assert.Equal(t, StepPayment, st.Step)
	assert.Equal(t, NoticeIntentFailed, st.Notice)
	assert.Empty(t, st.ClientSecret)
	assert.Equal(t, []string{"checkout.create_intent"}, f.reporter.ops)
}

func TestPay_SuccessRedirects(t *testing.T) {
	card := &stubMethod{kind: MethodCard, res: &ChargeResult{PaymentID: "pi_1"}}
	f := newFixture(card)
	st := f.toPayment(t, true)

	res, err := f.svc.Pay(context.Background(), st, MethodCard, PayInput{PaymentMethodID: "pm_1"})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.PaymentID)
	assert.Equal(t, StepRedirected, st.Step)
	assert.Equal(t, "https://shop.example.com/success?payment_id=pi_1", st.RedirectURL)
	assert.Equal(t, []string{models.EventSignUp, models.EventBuyClick}, f.tracker.names())

	require.Len(t, card.reqs, 1)
	assert.Equal(t, "pm_1", card.reqs[0].PaymentMethodID)
	assert.Equal(t, "John Doe", card.reqs[0].Name)
}

func TestPay_NextActionRedirect(t *testing.T) {
	quick := &stubMethod{kind: MethodQuickPay, res: &ChargeResult{PaymentID: "pi_2", RedirectURL: "https://hooks.stripe.com/3ds"}}
	f := newFixture(quick)
	f.svc.deps.SavedMethods = fakeSaved{"ana@example.com": "cus_ana"}
	st := f.toAccountPayment(t, "ana@example.com", "ana@example.com")

	_, err := f.svc.Pay(context.Background(), st, MethodQuickPay, PayInput{})
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.stripe.com/3ds", st.RedirectURL)
}

type fakeSaved map[string]string

func (f fakeSaved) HasSavedMethods(ctx context.Context, email string) (bool, string, error) {
	id, ok := f[email]
	return ok, id, nil
}

type recordingCharger struct{ customers []string }

func (r *recordingCharger) ChargeSavedCard(ctx context.Context, clientSecret, customerID, returnURL string) (*ChargeResult, error) {
	r.customers = append(r.customers, customerID)
	return &ChargeResult{PaymentID: "pi_quick"}, nil
}

// toAccountPayment opens a checkout for a signed-in viewer who types typedEmail on step 1.
func (f *fixture) toAccountPayment(t *testing.T, accountEmail, typedEmail string) *OrderState {
	t.Helper()
	uid := uuid.New()
	st, err := f.svc.Begin(context.Background(), BeginRequest{PrimarySlug: "course", Region: "cz", UserID: &uid, AccountEmail: accountEmail})
	require.NoError(t, err)
	require.NoError(t, f.svc.SubmitIdentity(context.Background(), st, "Ana Novak", typedEmail))
	return st
}

func TestPay_QuickPayRefusedForTypedEmail(t *testing.T) {
	charger := &recordingCharger{}
	f := newFixture(QuickPay{Charger: charger})
	f.svc.deps.SavedMethods = fakeSaved{"victim@example.com": "cus_victim"}
	st := f.begin(t, false)
	require.NoError(t, f.svc.SubmitIdentity(context.Background(), st, "Mallory Smith", "victim@example.com"))

	assert.False(t, st.HasSavedMethods)
	assert.Empty(t, st.CustomerID)
	assert.False(t, f.svc.View(st).QuickPayAvailable)

	_, err := f.svc.Pay(context.Background(), st, MethodQuickPay, PayInput{})
	assert.ErrorIs(t, err, ErrUnknownMethod)
	assert.Empty(t, charger.customers)
	assert.Equal(t, StepPayment, st.Step)
}

func TestPay_QuickPayChargesAccountCustomer(t *testing.T) {
	charger := &recordingCharger{}
	f := newFixture(QuickPay{Charger: charger})
	f.svc.deps.SavedMethods = fakeSaved{"ana@example.com": "cus_ana", "victim@example.com": "cus_victim"}
	st := f.toAccountPayment(t, "Ana@example.com", "victim@example.com")

	assert.Equal(t, "victim@example.com", st.Email)
	assert.Equal(t, "cus_ana", st.CustomerID)
	assert.True(t, f.svc.View(st).QuickPayAvailable)
	require.NotEmpty(t, f.intents.calls)
	assert.Equal(t, "ana@example.com", f.intents.calls[len(f.intents.calls)-1].Email)

	_, err := f.svc.Pay(context.Background(), st, MethodQuickPay, PayInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cus_ana"}, charger.customers)
	assert.Equal(t, StepRedirected, st.Step)
}

type fakeCapturer struct{ capture *Capture }

func (f fakeCapturer) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	return f.capture, nil
}

type memPendingSaver struct{ saved []*models.PendingPayment }

func (m *memPendingSaver) SavePending(ctx context.Context, p *models.PendingPayment) error {
	m.saved = append(m.saved, p)
	return nil
}

func TestPayPal_MismatchedCaptureRejected(t *testing.T) {
	saver := &memPendingSaver{}
	cheap := &Capture{OrderID: "ORDER-CHEAP", PaymentID: "CAP-1", CustomID: "workbook", Amount: dec("9.99"), Currency: "EUR"}
	f := newFixture(PayPal{Capturer: fakeCapturer{cheap}, Saver: saver})
	st := f.toPayment(t, true)

	_, err := f.svc.Pay(context.Background(), st, MethodPayPal, PayInput{PayPalOrderID: "ORDER-CHEAP"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "order_mismatch", pe.Code)
	assert.ErrorIs(t, err, models.ErrPaymentMismatch)
	assert.Empty(t, saver.saved)
	assert.Equal(t, StepPayment, st.Step)
	assert.Equal(t, []string{"checkout.payment_mismatch"}, f.reporter.ops)
}

func TestPayPal_MatchingCaptureRecorded(t *testing.T) {
	saver := &memPendingSaver{}
	capture := &Capture{OrderID: "ORDER-1", PaymentID: "CAP-1", PayerID: "PAYER-1", CustomID: "course,workbook", Amount: dec("39.98"), Currency: "eur"}
	f := newFixture(PayPal{Capturer: fakeCapturer{capture}, Saver: saver})
	st := f.toPayment(t, true)

	res, err := f.svc.Pay(context.Background(), st, MethodPayPal, PayInput{PayPalOrderID: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, "CAP-1", res.PaymentID)
	require.Len(t, saver.saved, 1)
	p := saver.saved[0]
	assert.Equal(t, []string{"course", "workbook"}, p.OfferSlugs)
	assert.Equal(t, "EUR", p.Currency)
	assert.True(t, p.Amount.Equal(dec("39.98")))
	assert.Equal(t, "john@example.com", p.Email)
}

func TestPay_DeclineKeepsStepAndTimer(t *testing.T) {
	card := &stubMethod{kind: MethodCard, err: &ProviderError{Provider: "stripe", Code: "card_declined", Message: "Your card was declined."}}
	f := newFixture(card)
	st := f.toPayment(t, false)
	started := st.Countdown.StartedAt

	*f.now = f.now.Add(time.Minute)
	_, err := f.svc.Pay(context.Background(), st, MethodCard, PayInput{PaymentMethodID: "pm_1"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Your card was declined.", err.Error())

	assert.Equal(t, StepPayment, st.Step)
	assert.Equal(t, started, st.Countdown.StartedAt)
	assert.Equal(t, []string{models.EventSignUp, models.EventBuyClick, models.EventBuyDecline}, f.tracker.names())
	decline := f.tracker.last()
	assert.Equal(t, "card_declined", decline.ErrorCode)
	assert.Equal(t, "Your card was declined.", decline.Reason)
}

func TestPay_FulfillmentDelayedIsSuccess(t *testing.T) {
	pp := &stubMethod{kind: MethodPayPal, res: &ChargeResult{PaymentID: "CAPTURE-1"}, err: ErrFulfillmentDelayed}
	f := newFixture(pp)
	st := f.toPayment(t, false)

	res, err := f.svc.Pay(context.Background(), st, MethodPayPal, PayInput{PayPalOrderID: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, "CAPTURE-1", res.PaymentID)
	assert.Equal(t, StepRedirected, st.Step)
	assert.Equal(t, NoticeFulfillmentDelayed, st.Notice)
	assert.Equal(t, []string{"checkout.save_pending_payment"}, f.reporter.ops)
	assert.NotContains(t, f.tracker.names(), models.EventBuyDecline)
}

func TestPay_WrongStepAndUnknownMethod(t *testing.T) {
	f := newFixture()
	st := f.begin(t, false)
	_, err := f.svc.Pay(context.Background(), st, MethodCard, PayInput{})
	assert.ErrorIs(t, err, ErrWrongStep)

	st = f.toPayment(t, false)
	_, err = f.svc.Pay(context.Background(), st, MethodCard, PayInput{})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

type fakePayPalOrders struct {
	amount decimal.Decimal
	slugs  []string
	err    error
}

func (f *fakePayPalOrders) CreateOrder(ctx context.Context, amountEUR decimal.Decimal, slugs []string) (string, error) {
	f.amount, f.slugs = amountEUR, slugs
	return "ORDER-9", f.err
}

func TestCreatePayPalOrder_UsesEURTotal(t *testing.T) {
	f := newFixture()
	orders := &fakePayPalOrders{}
	f.svc.deps.PayPalOrders = orders
	st := f.toPayment(t, true)

	id, err := f.svc.CreatePayPalOrder(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "ORDER-9", id)
	assert.True(t, orders.amount.Equal(dec("39.98")))
	assert.Equal(t, []string{"course", "workbook"}, orders.slugs)
}

func TestCreatePayPalOrder_FailureAborts(t *testing.T) {
	f := newFixture()
	f.svc.deps.PayPalOrders = &fakePayPalOrders{err: errors.New("paypal 500")}
	st := f.toPayment(t, false)

	_, err := f.svc.CreatePayPalOrder(context.Background(), st)
	require.ErrorIs(t, err, ErrPayPalOrder)
	assert.Equal(t, StepPayment, st.Step)
	assert.Equal(t, models.EventBuyDecline, f.tracker.last().Name)
}

func TestCountdown_Banners(t *testing.T) {
	start := time.Unix(0, 0)
	c := Countdown{StartedAt: start, Length: DefaultCountdown}

	assert.Equal(t, BannerNone, c.Banner(start.Add(13*time.Minute)))
	assert.Equal(t, BannerUrgent, c.Banner(start.Add(14*time.Minute)))
	assert.Equal(t, BannerReassure, c.Banner(start.Add(15*time.Minute)))
	assert.Equal(t, time.Duration(0), c.Remaining(start.Add(time.Hour)))

	c.Reset(start.Add(20 * time.Minute))
	assert.Equal(t, DefaultCountdown, c.Remaining(start.Add(20*time.Minute)))
}

func TestResolveSubject_UnknownOffer(t *testing.T) {
	_, err := ResolveSubject(NewCatalog(testOffers()), "missing", "", UserContext{})
	assert.ErrorIs(t, err, ErrUnknownOffer)
}

func TestResolveSubject_OwnedSecondaryIsNotBumped(t *testing.T) {
	catalog := NewCatalog(testOffers())
	user := NewUserContext(true, "cz", catalog, []string{"workbook"})

	s, err := ResolveSubject(catalog, "course", "workbook", user)
	require.NoError(t, err)
	assert.Equal(t, "course", s.Offer.Slug)
	assert.Nil(t, s.Bump)
	assert.False(t, s.Upgrade)
}

func TestSuccessURL(t *testing.T) {
	assert.Equal(t, "https://x.io/ok?a=1&payment_id=pi_9", SuccessURL("https://x.io/ok?a=1", "pi_9"))
}
