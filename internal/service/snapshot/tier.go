package snapshot

import (
	"fmt"
	"math"
	"time"
)

// Tier is one sampling policy of the cascade.
type Tier struct {
	Name      string
	Interval  time.Duration
	Retention time.Duration
}

// Capacity is the most entries the tier can hold for one pair.
func (t Tier) Capacity() int {
	return int(math.Ceil(float64(t.Retention) / float64(t.Interval)))
}

// DefaultTiers returns T1 1s/5m, T2 10s/1h, T3 60s/4h.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "t1", Interval: time.Second, Retention: 5 * time.Minute},
		{Name: "t2", Interval: 10 * time.Second, Retention: time.Hour},
		{Name: "t3", Interval: time.Minute, Retention: 4 * time.Hour},
	}
}

// ValidateTiers enforces three strictly nested tiers.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) != 3 {
		return fmt.Errorf("snapshot: want 3 tiers, got %d", len(tiers))
	}
	for i, t := range tiers {
		if t.Interval <= 0 || t.Retention < t.Interval {
			return fmt.Errorf("snapshot: tier %s: interval must be positive and not exceed retention", t.Name)
		}
		if i > 0 && (t.Interval <= tiers[i-1].Interval || t.Retention <= tiers[i-1].Retention) {
			return fmt.Errorf("snapshot: tier %s is not coarser than %s", t.Name, tiers[i-1].Name)
		}
	}
	return nil
}
