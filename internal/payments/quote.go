package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aura-webinar/funnel/internal/checkout"
)

// QuoteRequest names what the viewer is buying. A secondary slug means the order bump is
// included, or for an owner of the primary offer, that the secondary is bought as an upgrade.
type QuoteRequest struct {
	Region        string
	PrimarySlug   string
	SecondarySlug string
	UserID        *uuid.UUID
}

// Quoter prices a purchase from the catalog. Amounts never come from the client.
type Quoter struct {
	offers checkout.OfferSource
}

// NewQuoter creates a quoter.
func NewQuoter(offers checkout.OfferSource) *Quoter {
	return &Quoter{offers: offers}
}

// Quote returns the totals for req.
func (q *Quoter) Quote(ctx context.Context, req QuoteRequest) (checkout.Totals, error) {
	slugs := []string{req.PrimarySlug}
	if req.SecondarySlug != "" {
		slugs = append(slugs, req.SecondarySlug)
	}
	offers, err := q.offers.LoadCatalog(ctx, slugs)
	if err != nil {
		return checkout.Totals{}, fmt.Errorf("load catalog: %w", err)
	}
	catalog := checkout.NewCatalog(offers)
	var owned []string
	if req.UserID != nil {
		if owned, err = q.offers.OwnedSlugs(ctx, *req.UserID); err != nil {
			return checkout.Totals{}, fmt.Errorf("load ownership: %w", err)
		}
	}
	user := checkout.NewUserContext(req.UserID != nil, req.Region, catalog, owned)
	subject, err := checkout.ResolveSubject(catalog, req.PrimarySlug, req.SecondarySlug, user)
	if err != nil {
		return checkout.Totals{}, err
	}
	return checkout.ComputeTotals(subject, req.SecondarySlug != "", req.Region)
}

// IntentService prices a checkout and opens the Stripe intent for it.
type IntentService struct {
	quoter *Quoter
	stripe *StripeGateway
}

// NewIntentService creates an intent service.
func NewIntentService(quoter *Quoter, stripe *StripeGateway) *IntentService {
	return &IntentService{quoter: quoter, stripe: stripe}
}

// CreateIntent implements the create-intent contract.
func (s *IntentService) CreateIntent(ctx context.Context, req checkout.IntentRequest) (*checkout.Intent, error) {
	totals, err := s.quoter.Quote(ctx, QuoteRequest{
		Region:        req.Region,
		PrimarySlug:   req.PrimarySlug,
		SecondarySlug: req.SecondarySlug,
		UserID:        req.UserID,
	})
	if err != nil {
		return nil, err
	}
	meta := map[string]string{
		"full_name": req.Name,
		"email":     req.Email,
		"region":    req.Region,
	}
	if req.CheckoutID != "" {
		meta["checkout_id"] = req.CheckoutID
	}
	if req.UserID != nil {
		meta["user_id"] = req.UserID.String()
	}
	return s.stripe.CreateIntent(ctx, IntentParams{Totals: totals, Name: req.Name, Email: req.Email, Metadata: meta})
}
