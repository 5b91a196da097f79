package checkout

import "time"

// Banner is the message shown next to the reservation timer.
type Banner string

const (
	BannerNone     Banner = ""
	BannerUrgent   Banner = "urgent"
	BannerReassure Banner = "reassure"
)

// UrgentThreshold is the remaining time at which the urgency banner appears.
const UrgentThreshold = time.Minute

// Countdown is the payment-step reservation timer. Nothing is enforced when it runs out.
type Countdown struct {
	StartedAt time.Time     `json:"started_at"`
	Length    time.Duration `json:"length"`
}

// Reset restarts the timer at now.
func (c *Countdown) Reset(now time.Time) { c.StartedAt = now }

// Remaining is the time left, never negative.
func (c Countdown) Remaining(now time.Time) time.Duration {
	left := c.Length - now.Sub(c.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Banner picks the banner for the remaining time.
func (c Countdown) Banner(now time.Time) Banner {
	switch left := c.Remaining(now); {
	case left == 0:
		return BannerReassure
	case left <= UrgentThreshold:
		return BannerUrgent
	default:
		return BannerNone
	}
}
