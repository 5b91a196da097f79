package playback

import (
	"math"
	"time"

	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/throttle"
)

const (
	// maxRiseSeconds caps the rise phase at 15 minutes of video.
	maxRiseSeconds = 900.0
	riseShare      = 0.2
	plateauEnd     = 0.8
	plateauStart   = 0.8 // share of Max reached at the rise point
	jitterShare    = 0.03
)

// ParticipantConfig shapes the simulated audience curve.
type ParticipantConfig struct {
	Min int
	Max int
	End int
}

// ParticipantConfigFor reads the curve from offer metadata, filling defaults.
func ParticipantConfigFor(offer *models.WebinarOffer) ParticipantConfig {
	cfg := ParticipantConfig{
		Min: models.DefaultMinParticipants,
		Max: models.DefaultMaxParticipants,
		End: models.DefaultEndParticipants,
	}
	if offer == nil {
		return cfg
	}
	if v := offer.Metadata.MinParticipants; v > 0 {
		cfg.Min = v
	}
	if v := offer.Metadata.MaxParticipants; v > 0 {
		cfg.Max = v
	}
	if v := offer.Metadata.EndParticipants; v > 0 {
		cfg.End = v
	}
	return cfg
}

// RisePoint is the progress at which the audience reaches 80% of Max.
func RisePoint(duration int) float64 {
	if duration <= 0 {
		return riseShare
	}
	d := float64(duration)
	return math.Min(riseShare*d, maxRiseSeconds) / d
}

// ParticipantBase is the jitter-free audience size at video time t.
func ParticipantBase(cfg ParticipantConfig, t float64, duration int) float64 {
	lo, hi, end := float64(cfg.Min), float64(cfg.Max), float64(cfg.End)
	if duration <= 0 {
		return lo
	}
	p := math.Max(0, math.Min(1, t/float64(duration)))
	rise := RisePoint(duration)
	peak := plateauStart * hi
	switch {
	case p <= rise:
		x := p / rise
		return lo + (peak-lo)*(1-(1-x)*(1-x))
	case p <= plateauEnd:
		x := (p - rise) / (plateauEnd - rise)
		return peak + (hi-peak)*x
	default:
		x := (p - plateauEnd) / (1 - plateauEnd)
		return hi + (end-hi)*x
	}
}

// ParticipantCount applies a uniform ±3% jitter to the base curve. r must be in [0,1).
func ParticipantCount(cfg ParticipantConfig, t float64, duration int, r float64) int {
	jitter := (r*2 - 1) * jitterShare
	return int(math.Round(ParticipantBase(cfg, t, duration) * (1 + jitter)))
}

// Participants recomputes the displayed count at most once per interval.
type Participants struct {
	cfg   ParticipantConfig
	gate  *throttle.Gate
	rand  func() float64
	value int
}

// NewParticipants creates a throttled participant counter.
func NewParticipants(cfg ParticipantConfig, interval time.Duration, now func() time.Time, rand func() float64) *Participants {
	return &Participants{cfg: cfg, gate: throttle.NewGate(interval, now), rand: rand}
}

// Update recomputes the count when the throttle allows it and returns the displayed value.
func (p *Participants) Update(t float64, duration int) int {
	if p.gate.Allow() {
		p.value = ParticipantCount(p.cfg, t, duration, p.rand())
	}
	return p.value
}

// Force recomputes regardless of the throttle and restarts its interval.
func (p *Participants) Force(t float64, duration int) int {
	p.gate.Reset()
	return p.Update(t, duration)
}

// Value returns the last computed count.
func (p *Participants) Value() int { return p.value }
