package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tracking event names.
const (
	EventLead       = "lead"
	EventSignUp     = "sign_up"
	EventBuyClick   = "buy_click"
	EventBuyDecline = "buy_decline"
)

// TrackingEvent is a server-side attribution event fed to the ads and CRM collaborators.
type TrackingEvent struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Email      string           `json:"email,omitempty"`
	FullName   string           `json:"full_name,omitempty"`
	OfferSlugs []string         `json:"offer_slugs,omitempty"`
	Value      *decimal.Decimal `json:"value,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	CheckoutID string           `json:"checkout_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
