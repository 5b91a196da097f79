package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant curve defaults used when the offer metadata omits them.
const (
	DefaultMinParticipants = 10
	DefaultMaxParticipants = 150
	DefaultEndParticipants = 100
)

// OfferMetadata carries the simulated audience settings for a webinar offer.
type OfferMetadata struct {
	MinParticipants int `json:"min_participants,omitempty"`
	MaxParticipants int `json:"max_participants,omitempty"`
	EndParticipants int `json:"end_participants,omitempty"`
}

// WebinarOffer is the purchase offer revealed at a given video second.
type WebinarOffer struct {
	Time        int           `json:"time"` // activation offset in seconds
	ButtonText  string        `json:"button_text"`
	ButtonURL   string        `json:"button_url"`
	Heading     string        `json:"heading,omitempty"`
	Description string        `json:"description,omitempty"`
	Image       string        `json:"image,omitempty"`
	Metadata    OfferMetadata `json:"metadata,omitempty"`
}

// Webinar is the static content descriptor of a simulated webinar.
type Webinar struct {
	ID              uuid.UUID     `json:"id"`
	Title           string        `json:"title"`
	VideoURL        string        `json:"video_url"`
	DurationSeconds int           `json:"duration"`
	BackgroundImage string        `json:"background_image,omitempty"`
	Offer           *WebinarOffer `json:"offer,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// WebinarSession is one viewer's attendance of a webinar time slot.
type WebinarSession struct {
	ID               uuid.UUID  `json:"id"`
	WebinarID        uuid.UUID  `json:"webinar_id"`
	StartDate        time.Time  `json:"start_date"`
	WatchtimeSeconds int        `json:"watchtime_seconds"`
	UserName         string     `json:"user_name"`
	Email            string     `json:"email,omitempty"`
	UserID           *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WebinarMessage is a pre-seeded chat message replayed at TimeSeconds.
type WebinarMessage struct {
	ID          uuid.UUID  `json:"id"`
	WebinarID   uuid.UUID  `json:"-"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	UserName    string     `json:"user_name"`
	Message     string     `json:"message"`
	TimeSeconds int        `json:"time_seconds"`
	IsAdmin     bool       `json:"is_admin"`
	CreatedAt   time.Time  `json:"-"`
}

// WebinarFeedback is the post-webinar rating left by a viewer.
type WebinarFeedback struct {
	ID        uuid.UUID `json:"id"`
	WebinarID uuid.UUID `json:"webinar_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}
