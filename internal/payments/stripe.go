// Package payments implements the payment provider contracts on Stripe and PayPal.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/checkout"
)

// ProviderStripe names Stripe in provider errors.
const ProviderStripe = "stripe"

var (
	// ErrNotConfigured is returned when a provider has no credentials.
	ErrNotConfigured = errors.New("payment provider not configured")
	// ErrNoSavedMethod is returned when a quick payment finds no stored card.
	ErrNoSavedMethod = errors.New("no saved payment method")
	// ErrInvalidClientSecret is returned for a client secret that does not name an intent.
	ErrInvalidClientSecret = errors.New("invalid client secret")
)

const declinedMessage = "Your payment could not be completed. Please try another card."

// stripeBackend is the subset of the Stripe API the gateway uses.
type stripeBackend interface {
	FindCustomer(params *stripe.CustomerListParams) (*stripe.Customer, error)
	CreateCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	FirstPaymentMethod(params *stripe.PaymentMethodListParams) (*stripe.PaymentMethod, error)
	CreateIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	ConfirmIntent(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

type apiBackend struct {
	api *client.API
}

func (b apiBackend) FindCustomer(params *stripe.CustomerListParams) (*stripe.Customer, error) {
	it := b.api.Customers.List(params)
	if it.Next() {
		return it.Customer(), nil
	}
	return nil, it.Err()
}

func (b apiBackend) CreateCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return b.api.Customers.New(params)
}

func (b apiBackend) FirstPaymentMethod(params *stripe.PaymentMethodListParams) (*stripe.PaymentMethod, error) {
	it := b.api.PaymentMethods.List(params)
	if it.Next() {
		return it.PaymentMethod(), nil
	}
	return nil, it.Err()
}

func (b apiBackend) CreateIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return b.api.PaymentIntents.New(params)
}

func (b apiBackend) ConfirmIntent(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	return b.api.PaymentIntents.Confirm(id, params)
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey string
}

// StripeGateway creates and confirms card payment intents.
type StripeGateway struct {
	backend stripeBackend
	logger  *zap.Logger
}

// NewStripeGateway creates a Stripe gateway.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}
	return newStripeGateway(apiBackend{api: client.New(cfg.SecretKey, nil)}, logger), nil
}

func newStripeGateway(b stripeBackend, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{backend: b, logger: logger}
}

// IntentParams describes a card payment intent.
type IntentParams struct {
	Totals   checkout.Totals
	Name     string
	Email    string
	Metadata map[string]string
}

// CreateIntent finds or creates the customer by email and opens an intent for the local total.
// The card is kept for later on-session payments.
func (g *StripeGateway) CreateIntent(ctx context.Context, p IntentParams) (*checkout.Intent, error) {
	cust, err := g.customer(ctx, p.Email, p.Name)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:           stripe.Int64(MinorUnits(p.Totals)),
		Currency:         stripe.String(strings.ToLower(p.Totals.Currency)),
		Customer:         stripe.String(cust.ID),
		ReceiptEmail:     stripe.String(p.Email),
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOnSession)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{"offer_slugs": strings.Join(p.Totals.Slugs, ",")},
	}
	for k, v := range p.Metadata {
		params.Metadata[k] = v
	}
	params.Context = ctx
	pi, err := g.backend.CreateIntent(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	g.logger.Info("payment intent created", zap.String("intent_id", pi.ID), zap.String("customer_id", cust.ID), zap.Int64("amount", pi.Amount))
	return &checkout.Intent{ClientSecret: pi.ClientSecret, CustomerID: cust.ID}, nil
}

func (g *StripeGateway) customer(ctx context.Context, email, name string) (*stripe.Customer, error) {
	list := &stripe.CustomerListParams{Email: stripe.String(email)}
	list.Context = ctx
	list.Limit = stripe.Int64(1)
	cust, err := g.backend.FindCustomer(list)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if cust != nil {
		return cust, nil
	}
	params := &stripe.CustomerParams{Email: stripe.String(email), Name: stripe.String(name)}
	params.Context = ctx
	cust, err = g.backend.CreateCustomer(params)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return cust, nil
}

// HasSavedMethods reports whether the customer with email has a stored card.
func (g *StripeGateway) HasSavedMethods(ctx context.Context, email string) (bool, string, error) {
	list := &stripe.CustomerListParams{Email: stripe.String(email)}
	list.Context = ctx
	list.Limit = stripe.Int64(1)
	cust, err := g.backend.FindCustomer(list)
	if err != nil {
		return false, "", fmt.Errorf("find customer: %w", err)
	}
	if cust == nil {
		return false, "", nil
	}
	pm, err := g.savedCard(ctx, cust.ID)
	if err != nil {
		return false, "", err
	}
	return pm != nil, cust.ID, nil
}

func (g *StripeGateway) savedCard(ctx context.Context, customerID string) (*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	pm, err := g.backend.FirstPaymentMethod(params)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return pm, nil
}

// ChargeSavedCard confirms the intent with the customer's stored card.
func (g *StripeGateway) ChargeSavedCard(ctx context.Context, clientSecret, customerID, returnURL string) (*checkout.ChargeResult, error) {
	intentID, err := IntentID(clientSecret)
	if err != nil {
		return nil, err
	}
	pm, err := g.savedCard(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if pm == nil {
		return nil, &checkout.ProviderError{Provider: ProviderStripe, Code: "no_saved_method", Message: "No saved card was found. Please enter your card details.", Err: ErrNoSavedMethod}
	}
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(pm.ID),
		ReturnURL:     stripe.String(returnURL),
	}
	params.Context = ctx
	return g.confirm(intentID, params)
}

// ConfirmCard confirms the intent with a card collected by the payment element.
func (g *StripeGateway) ConfirmCard(ctx context.Context, clientSecret, paymentMethodID string, billing checkout.Billing, returnURL string) (*checkout.ChargeResult, error) {
	intentID, err := IntentID(clientSecret)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodID),
		ReceiptEmail:  stripe.String(billing.Email),
		ReturnURL:     stripe.String(returnURL),
	}
	params.Context = ctx
	params.AddMetadata("billing_name", billing.Name)
	return g.confirm(intentID, params)
}

func (g *StripeGateway) confirm(intentID string, params *stripe.PaymentIntentConfirmParams) (*checkout.ChargeResult, error) {
	pi, err := g.backend.ConfirmIntent(intentID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return intentResult(pi)
}

// intentResult maps a confirmed intent to a charge outcome.
func intentResult(pi *stripe.PaymentIntent) (*checkout.ChargeResult, error) {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		return &checkout.ChargeResult{PaymentID: pi.ID}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
			return &checkout.ChargeResult{PaymentID: pi.ID, RedirectURL: pi.NextAction.RedirectToURL.URL}, nil
		}
	}
	pe := &checkout.ProviderError{Provider: ProviderStripe, Code: string(pi.Status), Message: declinedMessage}
	if pi.LastPaymentError != nil {
		pe.Code, pe.Message = errorCode(pi.LastPaymentError), pi.LastPaymentError.Msg
	}
	return nil, pe
}

// stripeError turns a Stripe API error into a provider error. Card errors carry a message
// meant for the cardholder; everything else gets a generic one.
func stripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	pe := &checkout.ProviderError{Provider: ProviderStripe, Code: errorCode(se), Message: declinedMessage, Err: err}
	if se.Type == stripe.ErrorTypeCard && se.Msg != "" {
		pe.Message = se.Msg
	}
	return pe
}

func errorCode(se *stripe.Error) string {
	if se.DeclineCode != "" {
		return string(se.DeclineCode)
	}
	if se.Code != "" {
		return string(se.Code)
	}
	return string(se.Type)
}

// IntentID extracts the intent id from a client secret of the form <id>_secret_<token>.
func IntentID(clientSecret string) (string, error) {
	id, _, ok := strings.Cut(clientSecret, "_secret_")
	if !ok || id == "" {
		return "", ErrInvalidClientSecret
	}
	return id, nil
}

// MinorUnits converts the local total to the provider's smallest currency unit.
func MinorUnits(t checkout.Totals) int64 {
	return t.Amount.Shift(2).Round(0).IntPart()
}
