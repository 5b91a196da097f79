package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aura-webinar/funnel/internal/models"
)

// MethodKind selects a payment path.
type MethodKind string

const (
	MethodQuickPay MethodKind = "quick_pay"
	MethodCard     MethodKind = "card"
	MethodPayPal   MethodKind = "paypal"
)

var (
	// ErrFulfillmentDelayed means the charge succeeded but recording it for fulfilment failed.
	ErrFulfillmentDelayed = errors.New("payment captured, fulfillment delayed")
	// ErrMissingInput is returned when a payment path lacks its provider reference.
	ErrMissingInput = errors.New("missing payment input")
)

// ProviderError is a payment provider failure whose message may be shown to the viewer.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s payment failed", e.Provider)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Billing is attached to a fresh card payment.
type Billing struct {
	Name  string
	Email string
}

// ChargeResult is a provider charge outcome. RedirectURL is set when the provider needs a
// next action such as 3-D Secure.
type ChargeResult struct {
	PaymentID   string
	RedirectURL string
}

// SavedCardCharger charges an existing intent against the customer's stored card.
type SavedCardCharger interface {
	ChargeSavedCard(ctx context.Context, clientSecret, customerID, returnURL string) (*ChargeResult, error)
}

// CardConfirmer confirms an intent with a card collected by the embedded payment element.
type CardConfirmer interface {
	ConfirmCard(ctx context.Context, clientSecret, paymentMethodID string, billing Billing, returnURL string) (*ChargeResult, error)
}

// Capture is a captured PayPal order. CustomID is the offer reference set when the order was created.
type Capture struct {
	OrderID   string
	PaymentID string
	PayerID   string
	CustomID  string
	Amount    decimal.Decimal
	Currency  string
	Raw       json.RawMessage
}

// Matches reports whether the capture paid the EUR total for exactly the checkout's offers.
func (c *Capture) Matches(t Totals) bool {
	return strings.EqualFold(c.Currency, "EUR") && c.Amount.Equal(t.AmountEUR) && c.CustomID == OrderReference(t.Slugs)
}

// OrderReference is the provider-side reference of the offers an order pays for.
func OrderReference(slugs []string) string {
	return strings.Join(slugs, ",")
}

// PayPalCapturer captures an approved PayPal order.
type PayPalCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (*Capture, error)
}

// PendingSaver records a captured payment for asynchronous fulfilment.
type PendingSaver interface {
	SavePending(ctx context.Context, p *models.PendingPayment) error
}

// PaymentRequest is everything a payment path may need.
type PaymentRequest struct {
	CheckoutID      string
	Name            string
	Email           string
	Region          string
	Totals          Totals
	ClientSecret    string
	CustomerID      string
	PaymentMethodID string
	PayPalOrderID   string
	ReturnURL       string
}

// PaymentMethod is one way to complete the order.
type PaymentMethod interface {
	Kind() MethodKind
	Pay(ctx context.Context, req PaymentRequest) (*ChargeResult, error)
}

// QuickPay charges a returning customer's saved card.
type QuickPay struct {
	Charger SavedCardCharger
}

func (QuickPay) Kind() MethodKind { return MethodQuickPay }

// Pay expects CustomerID to be the authenticated account's customer, never one derived from form input.
func (q QuickPay) Pay(ctx context.Context, req PaymentRequest) (*ChargeResult, error) {
	if req.ClientSecret == "" || req.CustomerID == "" {
		return nil, fmt.Errorf("%w: saved card needs an intent and customer", ErrMissingInput)
	}
	return q.Charger.ChargeSavedCard(ctx, req.ClientSecret, req.CustomerID, req.ReturnURL)
}

// CardElement confirms the intent with a freshly entered card.
type CardElement struct {
	Confirmer CardConfirmer
}

func (CardElement) Kind() MethodKind { return MethodCard }

func (c CardElement) Pay(ctx context.Context, req PaymentRequest) (*ChargeResult, error) {
	if req.ClientSecret == "" || req.PaymentMethodID == "" {
		return nil, fmt.Errorf("%w: card needs an intent and payment method", ErrMissingInput)
	}
	return c.Confirmer.ConfirmCard(ctx, req.ClientSecret, req.PaymentMethodID, Billing{Name: req.Name, Email: req.Email}, req.ReturnURL)
}

// PayPal captures an approved order and records it as a pending payment.
type PayPal struct {
	Capturer PayPalCapturer
	Saver    PendingSaver
}

func (PayPal) Kind() MethodKind { return MethodPayPal }

// Pay returns a result together with ErrFulfillmentDelayed when the capture went through but
// the pending payment could not be saved. A capture for another amount or other offers is
// rejected and nothing is recorded for fulfilment.
func (p PayPal) Pay(ctx context.Context, req PaymentRequest) (*ChargeResult, error) {
	if req.PayPalOrderID == "" {
		return nil, fmt.Errorf("%w: paypal order id", ErrMissingInput)
	}
	capture, err := p.Capturer.CaptureOrder(ctx, req.PayPalOrderID)
	if err != nil {
		return nil, err
	}
	if !capture.Matches(req.Totals) {
		return nil, &ProviderError{
			Provider: models.PaymentProviderPayPal,
			Code:     "order_mismatch",
			Message:  "This PayPal payment does not match your order. Please contact support.",
			Err:      fmt.Errorf("%w: order %s", models.ErrPaymentMismatch, capture.OrderID),
		}
	}
	pending := &models.PendingPayment{
		Provider:          models.PaymentProviderPayPal,
		ProviderOrderID:   capture.OrderID,
		ProviderPaymentID: capture.PaymentID,
		PayerID:           capture.PayerID,
		FullName:          req.Name,
		Email:             req.Email,
		Region:            req.Region,
		Amount:            capture.Amount,
		Currency:          strings.ToUpper(capture.Currency),
		OfferSlugs:        req.Totals.Slugs,
		Raw:               capture.Raw,
	}
	result := &ChargeResult{PaymentID: capture.PaymentID}
	if err := p.Saver.SavePending(ctx, pending); err != nil {
		return result, fmt.Errorf("%w: %v", ErrFulfillmentDelayed, err)
	}
	return result, nil
}
