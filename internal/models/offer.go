package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Price is one region's price row for an offer.
type Price struct {
	Region        string          `json:"region"`
	Currency      string          `json:"currency"`
	Regular       decimal.Decimal `json:"regular"`
	Discounted    decimal.Decimal `json:"discounted"`
	EURRegular    decimal.Decimal `json:"eur_regular"`
	EURDiscounted decimal.Decimal `json:"eur_discounted"`
}

// OfferDisplay holds copy overrides stored in offer metadata.
type OfferDisplay struct {
	Heading  string `json:"heading,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// Offer is a purchasable digital product with per-region pricing.
type Offer struct {
	ID          uuid.UUID        `json:"id"`
	Slug        string           `json:"slug"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Metadata    OfferDisplay     `json:"metadata"`
	FileKey     string           `json:"-"`
	Prices      map[string]Price `json:"prices"`
}

// PriceFor returns the price row for region.
func (o *Offer) PriceFor(region string) (Price, bool) {
	p, ok := o.Prices[region]
	return p, ok
}

// OwnedOffer annotates an offer with the viewer's ownership.
type OwnedOffer struct {
	Offer *Offer `json:"offer"`
	Owned bool   `json:"owned"`
}
