package timeout

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Tier is one of the discrete wait durations.
type Tier int

const (
	TierSmall Tier = iota
	TierMedium
	TierMax
)

func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierMax:
		return "max"
	default:
		return "unknown"
	}
}

// Tiers holds the durations and the round-trip thresholds that select them.
type Tiers struct {
	Small  time.Duration `yaml:"small"`
	Medium time.Duration `yaml:"medium"`
	Max    time.Duration `yaml:"max"`

	// SmallThreshold and MediumThreshold bound the round-trip time that
	// keeps the small and medium tiers respectively.
	SmallThreshold  time.Duration `yaml:"small_threshold"`
	MediumThreshold time.Duration `yaml:"medium_threshold"`
}

// DefaultTiers returns the recommended policy: 10s, 60s, 300s.
func DefaultTiers() Tiers {
	return Tiers{
		Small:           10 * time.Second,
		Medium:          60 * time.Second,
		Max:             300 * time.Second,
		SmallThreshold:  10 * time.Second,
		MediumThreshold: 60 * time.Second,
	}
}

// Validate checks that tiers are positive and ascending.
func (t Tiers) Validate() error {
	if t.Small <= 0 || t.Medium <= 0 || t.Max <= 0 {
		return fmt.Errorf("timeout tiers must be positive")
	}
	if t.Small > t.Medium || t.Medium > t.Max {
		return fmt.Errorf("timeout tiers must be ascending: small=%s medium=%s max=%s",
			t.Small, t.Medium, t.Max)
	}
	if t.SmallThreshold < 0 || t.MediumThreshold < 0 || t.SmallThreshold > t.MediumThreshold {
		return fmt.Errorf("timeout thresholds must be non-negative and ascending")
	}
	return nil
}

// Duration maps a tier to its wait duration.
func (t Tiers) Duration(tier Tier) time.Duration {
	switch tier {
	case TierSmall:
		return t.Small
	case TierMedium:
		return t.Medium
	default:
		return t.Max
	}
}

// ForRoundTrip picks the tier after a successful round-trip of rtt.
func (t Tiers) ForRoundTrip(rtt time.Duration) Tier {
	switch {
	case rtt <= t.SmallThreshold:
		return TierSmall
	case rtt <= t.MediumThreshold:
		return TierMedium
	default:
		return TierMax
	}
}

// ForAttempts picks the tier after the given number of failed full passes
// over the endpoint pool.
func ForAttempts(attempts int) Tier {
	switch {
	case attempts <= 0:
		return TierSmall
	case attempts == 1:
		return TierMedium
	default:
		return TierMax
	}
}

// Controller holds the tier applied to the next operation. Reads and
// writes are lock-free since the current tier is polled on hot paths.
type Controller struct {
	tiers   Tiers
	current atomic.Int32
}

// NewController starts at the small tier.
func NewController(tiers Tiers) *Controller {
	return &Controller{tiers: tiers}
}

// Tiers returns the configured policy.
func (c *Controller) Tiers() Tiers {
	return c.tiers
}

// Tier returns the current tier.
func (c *Controller) Tier() Tier {
	return Tier(c.current.Load())
}

// Current returns the duration of the current tier.
func (c *Controller) Current() time.Duration {
	return c.tiers.Duration(c.Tier())
}

// ObserveRoundTrip updates the tier from a successful round-trip.
func (c *Controller) ObserveRoundTrip(rtt time.Duration) Tier {
	tier := c.tiers.ForRoundTrip(rtt)
	c.current.Store(int32(tier))
	return tier
}

// ObserveAttempts updates the tier from the failed-pass count.
func (c *Controller) ObserveAttempts(attempts int) Tier {
	tier := ForAttempts(attempts)
	c.current.Store(int32(tier))
	return tier
}
