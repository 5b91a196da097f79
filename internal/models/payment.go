package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment providers.
const (
	PaymentProviderStripe = "stripe"
	PaymentProviderPayPal = "paypal"
)

// PendingPayment status values.
const (
	PendingPaymentStatusPending   = "pending"
	PendingPaymentStatusCompleted = "completed"
	PendingPaymentStatusFailed    = "failed"
)

// ErrPaymentMismatch means the provider's record of a payment differs from what is being fulfilled.
var ErrPaymentMismatch = errors.New("payment does not match provider record")

// FulfillmentWindow is the policy window within which pending payments are fulfilled.
const FulfillmentWindow = 24 * time.Hour

// PendingPayment is a provider-confirmed charge awaiting application-side fulfilment.
type PendingPayment struct {
	ID                uuid.UUID       `json:"id"`
	Provider          string          `json:"provider"`
	ProviderOrderID   string          `json:"provider_order_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	PayerID           string          `json:"payer_id"`
	FullName          string          `json:"full_name"`
	Email             string          `json:"email"`
	Region            string          `json:"region"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	OfferSlugs        []string        `json:"offer_slugs"`
	Raw               json.RawMessage `json:"raw,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
}

// Overdue reports whether the pending payment is still open past the fulfilment window.
func (p *PendingPayment) Overdue(now time.Time) bool {
	return p.Status == PendingPaymentStatusPending && now.Sub(p.CreatedAt) > FulfillmentWindow
}
