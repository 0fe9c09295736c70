package usecase

import (
	"math"
	"time"

	"CoinAlarm/internal/domain/models"
	"CoinAlarm/internal/service/snapshot"
)

// RollingWindowCalculator differences the latest snapshot of a pair
// against the snapshot nearest N minutes earlier.
type RollingWindowCalculator struct {
	store *snapshot.Store
	clock func() time.Time
}

// NewRollingWindowCalculator reads from store; clock defines "now" for
// every window.
func NewRollingWindowCalculator(store *snapshot.Store, clock func() time.Time) *RollingWindowCalculator {
	if clock == nil {
		clock = time.Now
	}
	return &RollingWindowCalculator{store: store, clock: clock}
}

func (c *RollingWindowCalculator) pair(key models.PairKey, minutes int) (cur, before models.Snapshot, ok bool) {
	p, found := c.store.Get(key)
	if !found || minutes < 0 {
		return cur, before, false
	}
	cur, found = p.Latest()
	if !found {
		return cur, before, false
	}
	before, found = p.LookupAtOrBefore(cur.Timestamp.Add(-time.Duration(minutes)*time.Minute), c.clock())
	return cur, before, found
}

// RollingVolume returns traded value over the last N minutes. Missing
// history yields 0 and a shrinking 24h counter is clamped to 0.
func (c *RollingWindowCalculator) RollingVolume(key models.PairKey, minutes int) float64 {
	cur, before, ok := c.pair(key, minutes)
	if !ok {
		return 0
	}
	return math.Max(0, cur.Rolling24hVolume-before.Rolling24hVolume)
}

// RollingPriceChange returns the percentage price change over N minutes.
func (c *RollingWindowCalculator) RollingPriceChange(key models.PairKey, minutes int) float64 {
	cur, before, ok := c.pair(key, minutes)
	if !ok || before.CurrentPrice == 0 {
		return 0
	}
	return (cur.CurrentPrice - before.CurrentPrice) / before.CurrentPrice * 100
}

// Window computes every reported window for a pair. ok is false when the
// pair has no data at all.
func (c *RollingWindowCalculator) Window(key models.PairKey) (models.WindowSnapshot, bool) {
	p, found := c.store.Get(key)
	if !found {
		return models.WindowSnapshot{}, false
	}
	cur, found := p.Latest()
	if !found {
		return models.WindowSnapshot{}, false
	}
	now := c.clock()
	w := models.WindowSnapshot{
		ExchangeID: key.ExchangeID,
		MarketCode: key.MarketCode,
		Price:      cur.CurrentPrice,
		Timestamp:  cur.Timestamp,
	}
	for _, m := range models.Windows {
		before, ok := p.LookupAtOrBefore(cur.Timestamp.Add(-time.Duration(m)*time.Minute), now)
		if !ok {
			continue
		}
		w.Volume.Set(m, math.Max(0, cur.Rolling24hVolume-before.Rolling24hVolume))
		if before.CurrentPrice != 0 {
			w.PriceChange.Set(m, (cur.CurrentPrice-before.CurrentPrice)/before.CurrentPrice*100)
		}
	}
	return w, true
}
