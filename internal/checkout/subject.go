package checkout

import (
	"errors"
	"fmt"

	"github.com/aura-webinar/funnel/internal/models"
)

var (
	// ErrUnknownOffer is returned when a slug is not in the catalog.
	ErrUnknownOffer = errors.New("unknown offer")
	// ErrPriceUnavailable is returned when an offer has no price for the region.
	ErrPriceUnavailable = errors.New("price not available for region")
)

// Catalog is a request-scoped slug lookup built from one repository fetch.
type Catalog struct {
	offers map[string]*models.Offer
}

// NewCatalog indexes offers by slug.
func NewCatalog(offers []*models.Offer) *Catalog {
	m := make(map[string]*models.Offer, len(offers))
	for _, o := range offers {
		m[o.Slug] = o
	}
	return &Catalog{offers: m}
}

// Get returns the offer for slug.
func (c *Catalog) Get(slug string) (*models.Offer, bool) {
	o, ok := c.offers[slug]
	return o, ok
}

// UserContext is what checkout knows about the viewer.
type UserContext struct {
	Authenticated bool
	Region        string
	Offers        []models.OwnedOffer
}

// Owns reports whether the viewer owns the offer with slug.
func (u UserContext) Owns(slug string) bool {
	for _, o := range u.Offers {
		if o.Owned && o.Offer != nil && o.Offer.Slug == slug {
			return true
		}
	}
	return false
}

// NewUserContext annotates the catalog offers with the owned slugs.
func NewUserContext(authenticated bool, region string, catalog *Catalog, owned []string) UserContext {
	set := make(map[string]bool, len(owned))
	for _, s := range owned {
		set[s] = true
	}
	u := UserContext{Authenticated: authenticated, Region: region}
	for slug, o := range catalog.offers {
		u.Offers = append(u.Offers, models.OwnedOffer{Offer: o, Owned: set[slug]})
	}
	return u
}

// Subject is what the checkout sells: the main offer and an optional order bump.
type Subject struct {
	Offer   *models.Offer
	Bump    *models.Offer
	Upgrade bool
}

// Slugs lists the offers bought when the bump is included or not.
func (s Subject) Slugs(includeBump bool) []string {
	slugs := []string{s.Offer.Slug}
	if includeBump && s.Bump != nil {
		slugs = append(slugs, s.Bump.Slug)
	}
	return slugs
}

// ResolveSubject picks the transaction subject. A viewer who owns the primary offer but not
// the secondary buys the secondary as an upgrade; otherwise the primary is sold and an unowned
// secondary becomes the order bump.
func ResolveSubject(catalog *Catalog, primarySlug, secondarySlug string, user UserContext) (Subject, error) {
	primary, ok := catalog.Get(primarySlug)
	if !ok {
		return Subject{}, fmt.Errorf("%w: %s", ErrUnknownOffer, primarySlug)
	}
	var secondary *models.Offer
	if secondarySlug != "" {
		if secondary, ok = catalog.Get(secondarySlug); !ok {
			return Subject{}, fmt.Errorf("%w: %s", ErrUnknownOffer, secondarySlug)
		}
	}
	if secondary != nil && user.Owns(primary.Slug) && !user.Owns(secondary.Slug) {
		return Subject{Offer: secondary, Upgrade: true}, nil
	}
	s := Subject{Offer: primary}
	if secondary != nil && !user.Owns(secondary.Slug) {
		s.Bump = secondary
	}
	return s, nil
}
