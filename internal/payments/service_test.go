package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/aura-webinar/funnel/internal/checkout"
	"github.com/aura-webinar/funnel/internal/middleware"
	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/pkg/queue"
	"github.com/aura-webinar/funnel/pkg/response"
)

type catalogSource struct {
	offers []*models.Offer
	owned  []string
}

func (c *catalogSource) LoadCatalog(ctx context.Context, slugs []string) ([]*models.Offer, error) {
	return c.offers, nil
}

func (c *catalogSource) OwnedSlugs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return c.owned, nil
}

func priced(slug, discounted, eur string) *models.Offer {
	return &models.Offer{Slug: slug, Prices: map[string]models.Price{
		"cz": {Region: "cz", Currency: "CZK", Discounted: decimal.RequireFromString(discounted), EURDiscounted: decimal.RequireFromString(eur)},
	}}
}

func newSource(owned ...string) *catalogSource {
	return &catalogSource{
		offers: []*models.Offer{priced("course", "749", "29.99"), priced("workbook", "249", "9.99")},
		owned:  owned,
	}
}

func TestQuote(t *testing.T) {
	ctx := context.Background()

	tot, err := NewQuoter(newSource()).Quote(ctx, QuoteRequest{Region: "cz", PrimarySlug: "course", SecondarySlug: "workbook"})
	require.NoError(t, err)
	assert.True(t, tot.Amount.Equal(decimal.NewFromInt(998)))
	assert.True(t, tot.AmountEUR.Equal(decimal.RequireFromString("39.98")))
	assert.Equal(t, "CZK", tot.Currency)

	tot, err = NewQuoter(newSource()).Quote(ctx, QuoteRequest{Region: "cz", PrimarySlug: "course"})
	require.NoError(t, err)
	assert.True(t, tot.AmountEUR.Equal(decimal.RequireFromString("29.99")))

	uid := uuid.New()
	tot, err = NewQuoter(newSource("course")).Quote(ctx, QuoteRequest{Region: "cz", PrimarySlug: "course", SecondarySlug: "workbook", UserID: &uid})
	require.NoError(t, err)
	assert.True(t, tot.AmountEUR.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, []string{"workbook"}, tot.Slugs)

	_, err = NewQuoter(newSource()).Quote(ctx, QuoteRequest{Region: "us", PrimarySlug: "course"})
	assert.ErrorIs(t, err, checkout.ErrPriceUnavailable)
}

func TestIntentService_PricesServerSide(t *testing.T) {
	b := &fakeStripe{}
	svc := NewIntentService(NewQuoter(newSource()), newStripeGateway(b, nil))
	uid := uuid.New()

	_, err := svc.CreateIntent(context.Background(), checkout.IntentRequest{
		Name: "John Doe", Email: "john@example.com", Region: "cz",
		PrimarySlug: "course", SecondarySlug: "workbook", UserID: &uid, CheckoutID: "chk-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99800), *b.intentParams.Amount)
	assert.Equal(t, "czk", *b.intentParams.Currency)
	assert.Equal(t, uid.String(), b.intentParams.Metadata["user_id"])
	assert.Equal(t, "chk-1", b.intentParams.Metadata["checkout_id"])
}

type memPending struct {
	saved []*models.PendingPayment
	err   error
}

func (m *memPending) Create(ctx context.Context, p *models.PendingPayment) error {
	if m.err != nil {
		return m.err
	}
	p.ID = uuid.New()
	p.Status = models.PendingPaymentStatusPending
	m.saved = append(m.saved, p)
	return nil
}

type memQueue struct {
	payloads []queue.FulfillmentPayload
	err      error
}

func (m *memQueue) EnqueueFulfillment(ctx context.Context, payload queue.FulfillmentPayload) error {
	m.payloads = append(m.payloads, payload)
	return m.err
}

func TestPendingService_SavesAndEnqueues(t *testing.T) {
	store, q := &memPending{}, &memQueue{}
	svc := NewPendingService(store, q, nil)
	p := &models.PendingPayment{ProviderOrderID: "ORDER-1", OfferSlugs: []string{"course"}}

	require.NoError(t, svc.SavePending(context.Background(), p))
	require.Len(t, q.payloads, 1)
	assert.Equal(t, p.ID, q.payloads[0].PendingPaymentID)
}

func TestPendingService_EnqueueFailureIsNotAnError(t *testing.T) {
	svc := NewPendingService(&memPending{}, &memQueue{err: errors.New("redis down")}, nil)
	assert.NoError(t, svc.SavePending(context.Background(), &models.PendingPayment{}))
}

func TestPendingService_StoreFailure(t *testing.T) {
	q := &memQueue{}
	svc := NewPendingService(&memPending{err: errors.New("db down")}, q, nil)
	assert.Error(t, svc.SavePending(context.Background(), &models.PendingPayment{}))
	assert.Empty(t, q.payloads)
}

func serve(t *testing.T, h gin.HandlerFunc, body interface{}, mw ...gin.HandlerFunc) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.POST("/x", h)
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestHandler_SavePendingPayment(t *testing.T) {
	store := &memPending{}
	h := NewHandler(HandlerDeps{Pending: NewPendingService(store, &memQueue{}, nil)})

	w, env := serve(t, h.SavePendingPayment, map[string]interface{}{
		"raw":         map[string]string{"id": "ORDER-1"},
		"full_name":   "John Doe",
		"email":       "john@example.com",
		"region":      "cz",
		"amount":      "39.98",
		"currency":    "EUR",
		"offer_slugs": []string{"course", "workbook"},
		"order_id":    "ORDER-1",
		"payment_id":  "CAP-1",
		"payer_id":    "PAYER-1",
	})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	require.Len(t, store.saved, 1)
	p := store.saved[0]
	assert.Equal(t, models.PaymentProviderPayPal, p.Provider)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("39.98")))
	assert.JSONEq(t, `{"id":"ORDER-1"}`, string(p.Raw))
}

func TestHandler_SavePendingPayment_Validation(t *testing.T) {
	h := NewHandler(HandlerDeps{Pending: NewPendingService(&memPending{}, nil, nil)})
	w, _ := serve(t, h.SavePendingPayment, map[string]interface{}{"full_name": "John"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_UnconfiguredProviderIs503(t *testing.T) {
	h := NewHandler(HandlerDeps{})
	w, env := serve(t, h.CreatePayPalOrder, map[string]string{"region": "cz", "primary_offer_slug": "course"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrNotConfigured.Error(), env.Error)
}

func TestHandler_CreatePayPalOrder(t *testing.T) {
	api := &fakePayPal{order: &paypal.Order{ID: "ORDER-2"}}
	h := NewHandler(HandlerDeps{Quoter: NewQuoter(newSource()), PayPal: newPayPalGateway(api, "", nil)})

	w, env := serve(t, h.CreatePayPalOrder, map[string]string{"region": "cz", "primary_offer_slug": "course", "secondary_offer_slug": "workbook"})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, "39.98", api.units[0].Amount.Value)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "ORDER-2", data["orderID"])
}

func signedIn(email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.New())
		c.Set(middleware.ContextUserEmail, email)
		c.Next()
	}
}

func TestHandler_ChargeSavedCardDeclineIs402(t *testing.T) {
	b := &fakeStripe{
		customer:  &stripe.Customer{ID: "cus_1"},
		method:    &stripe.PaymentMethod{ID: "pm_1"},
		confirmed: &stripe.PaymentIntent{ID: "pi_9", Status: stripe.PaymentIntentStatusRequiresPaymentMethod},
	}
	h := NewHandler(HandlerDeps{Stripe: newStripeGateway(b, nil), Support: response.Support{Email: "help@example.com"}})

	w, env := serve(t, h.ChargeSavedCard, map[string]string{"client_secret": "pi_9_secret_x", "customer_id": "cus_1"}, signedIn("john@example.com"))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	require.NotNil(t, env.Support)
	assert.Equal(t, "help@example.com", env.Support.Email)
	assert.Equal(t, "pi_9", b.confirmID)
}

func TestHandler_ChargeSavedCardUsesAccountCustomer(t *testing.T) {
	b := &fakeStripe{
		customer:  &stripe.Customer{ID: "cus_1"},
		method:    &stripe.PaymentMethod{ID: "pm_1"},
		confirmed: &stripe.PaymentIntent{ID: "pi_9", Status: stripe.PaymentIntentStatusSucceeded},
	}
	h := NewHandler(HandlerDeps{Stripe: newStripeGateway(b, nil)})

	w, _ := serve(t, h.ChargeSavedCard, map[string]string{"client_secret": "pi_9_secret_x", "customer_id": "cus_1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve(t, h.ChargeSavedCard, map[string]string{"client_secret": "pi_9_secret_x", "customer_id": "cus_victim"}, signedIn("john@example.com"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, b.confirmID)

	w, env := serve(t, h.ChargeSavedCard, map[string]string{"client_secret": "pi_9_secret_x"}, signedIn("john@example.com"))
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Equal(t, "pi_9", b.confirmID)
	assert.Equal(t, "pm_1", *b.confirmParams.PaymentMethod)
}

func TestHandler_CreateIntentOmitsCustomer(t *testing.T) {
	b := &fakeStripe{customer: &stripe.Customer{ID: "cus_victim"}}
	h := NewHandler(HandlerDeps{Intents: NewIntentService(NewQuoter(newSource()), newStripeGateway(b, nil))})

	w, env := serve(t, h.CreateIntent, map[string]string{"name": "Mallory Smith", "email": "victim@example.com", "region": "cz", "primary_offer_slug": "course"})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "pi_1_secret_abc", data["clientSecret"])
	assert.NotContains(t, data, "customer_id")
}

func TestHandler_StripeConfig(t *testing.T) {
	w, _ := serve(t, NewHandler(HandlerDeps{}).StripeConfig, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h := NewHandler(HandlerDeps{Stripe: newStripeGateway(&fakeStripe{}, nil), PublishableKey: "pk_test_123"})
	w, env := serve(t, h.StripeConfig, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pk_test_123", env.Data.(map[string]interface{})["publishable_key"])
}
