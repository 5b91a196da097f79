package playback

import "github.com/aura-webinar/funnel/internal/models"

// ActiveOffer is the offer with its activation at the current video time.
type ActiveOffer struct {
	IsActive bool                 `json:"is_active"`
	Offer    *models.WebinarOffer `json:"offer"`
}

// OfferState evaluates activation; it re-evaluates from scratch so scrubbing back deactivates.
func OfferState(offer *models.WebinarOffer, t float64) ActiveOffer {
	if offer == nil {
		return ActiveOffer{}
	}
	return ActiveOffer{IsActive: float64(offer.Time) <= t, Offer: offer}
}
