package snapshot

import (
	"sort"
	"sync"
	"time"

	"CoinAlarm/internal/domain/models"
)

// PairStore holds the tier cascade of a single (exchange, market) pair.
type PairStore struct {
	key    models.PairKey
	mu     sync.RWMutex
	series []*series

	// Set when candles were primed before any live tick. The first live
	// tick after primedUntil re-bases primed volumes onto the live counter.
	rebasePending bool
	primedUntil   time.Time
}

func newPairStore(key models.PairKey, tiers []Tier) *PairStore {
	p := &PairStore{key: key, series: make([]*series, len(tiers))}
	for i, t := range tiers {
		p.series[i] = &series{tier: t, items: make([]models.Snapshot, 0, min(t.Capacity(), 64))}
	}
	return p
}

func (p *PairStore) Key() models.PairKey { return p.key }

// Insert offers snap to every tier and returns how many tiers stored it.
func (p *PairStore) Insert(snap models.Snapshot) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rebasePending && snap.Timestamp.After(p.primedUntil) {
		p.rebaseLocked(snap.Rolling24hVolume)
	}
	stored := 0
	for _, s := range p.series {
		if s.insert(snap) {
			stored++
		}
	}
	return stored
}

func (p *PairStore) rebaseLocked(live float64) {
	p.rebasePending = false
	primed, ok := p.latestLocked()
	if !ok {
		return
	}
	delta := live - primed.Rolling24hVolume
	for _, s := range p.series {
		s.shift(p.primedUntil, delta)
	}
}

// LookupAtOrBefore returns the newest snapshot at or before target. The
// search starts in the finest tier whose retention covers now-target and
// falls back to coarser tiers when that tier has nothing old enough.
func (p *PairStore) LookupAtOrBefore(target, now time.Time) (models.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	age := now.Sub(target)
	start := len(p.series) - 1
	for i, s := range p.series {
		if age <= s.tier.Retention {
			start = i
			break
		}
	}
	for _, s := range p.series[start:] {
		if snap, ok := s.floor(target); ok {
			return snap, true
		}
	}
	return models.Snapshot{}, false
}

// Latest returns the maximum-timestamp entry across all tiers.
func (p *PairStore) Latest() (models.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latestLocked()
}

func (p *PairStore) latestLocked() (models.Snapshot, bool) {
	var (
		best  models.Snapshot
		found bool
	)
	for _, s := range p.series {
		if snap, ok := s.newest(); ok && (!found || snap.Timestamp.After(best.Timestamp)) {
			best, found = snap, true
		}
	}
	return best, found
}

// EvictExpired drops entries older than now minus each tier's retention.
func (p *PairStore) EvictExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for _, s := range p.series {
		removed += s.evictBefore(now.Add(-s.tier.Retention))
	}
	return removed
}

// PrimeFrom seeds every empty tier from historical candles. Each candle
// becomes a snapshot at its open time carrying the close price and the
// running sum of traded value. When the pair already has live data the
// running sum is anchored to it and newer candles are ignored; otherwise
// the anchor is taken from the first live tick. Returns the number of
// tier inserts.
func (p *PairStore) PrimeFrom(candles []models.CandleData) int {
	if len(candles) == 0 {
		return 0
	}
	sorted := make([]models.CandleData, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	snaps := make([]models.Snapshot, 0, len(sorted))
	cum := 0.0
	for _, c := range sorted {
		if c.Timestamp.IsZero() {
			continue
		}
		cum += c.AccTradeVolume
		snaps = append(snaps, models.Snapshot{
			ExchangeID:       p.key.ExchangeID,
			MarketCode:       p.key.MarketCode,
			Timestamp:        c.Timestamp,
			CurrentPrice:     c.Close,
			Rolling24hVolume: cum,
		})
	}
	if len(snaps) == 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	empty := make([]*series, 0, len(p.series))
	for _, s := range p.series {
		if s.len() == 0 {
			empty = append(empty, s)
		}
	}
	if len(empty) == 0 {
		return 0
	}

	if live, ok := p.latestLocked(); ok {
		n := sort.Search(len(snaps), func(i int) bool { return snaps[i].Timestamp.After(live.Timestamp) })
		if n == 0 {
			return 0
		}
		snaps = snaps[:n]
		offset := live.Rolling24hVolume - snaps[n-1].Rolling24hVolume
		for i := range snaps {
			snaps[i].Rolling24hVolume += offset
		}
	} else {
		p.rebasePending = true
		p.primedUntil = snaps[len(snaps)-1].Timestamp
	}

	inserted := 0
	for _, s := range empty {
		for _, snap := range snaps {
			if s.insert(snap) {
				inserted++
			}
		}
	}
	return inserted
}

// Sizes returns the entry count of each tier, finest first.
func (p *PairStore) Sizes() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int, len(p.series))
	for i, s := range p.series {
		out[i] = s.len()
	}
	return out
}
