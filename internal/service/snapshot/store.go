package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"CoinAlarm/internal/domain/models"
)

// Store maps every pair to its PairStore. Pairs are created on first use
// and live for the lifetime of the process; there is no cross-pair lock.
type Store struct {
	tiers []Tier
	pairs sync.Map // models.PairKey -> *PairStore
	count atomic.Int64
}

// NewStore validates the tier cascade and returns an empty store.
func NewStore(tiers []Tier) (*Store, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &Store{tiers: cp}, nil
}

// Tiers returns a copy of the configured cascade, finest first.
func (s *Store) Tiers() []Tier {
	out := make([]Tier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// Pair returns the store for key, creating it atomically if needed.
func (s *Store) Pair(key models.PairKey) *PairStore {
	if v, ok := s.pairs.Load(key); ok {
		return v.(*PairStore)
	}
	v, loaded := s.pairs.LoadOrStore(key, newPairStore(key, s.tiers))
	if !loaded {
		s.count.Add(1)
	}
	return v.(*PairStore)
}

// Get is Pair without the create; it reports false for unseen pairs.
func (s *Store) Get(key models.PairKey) (*PairStore, bool) {
	v, ok := s.pairs.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*PairStore), true
}

// Insert routes snap to its pair and returns the number of tiers that took it.
func (s *Store) Insert(snap models.Snapshot) int {
	return s.Pair(snap.Key()).Insert(snap)
}

// Latest returns the newest snapshot of key across all tiers.
func (s *Store) Latest(key models.PairKey) (models.Snapshot, bool) {
	p, ok := s.Get(key)
	if !ok {
		return models.Snapshot{}, false
	}
	return p.Latest()
}

// LookupAtOrBefore delegates to the pair; unknown pairs yield false.
func (s *Store) LookupAtOrBefore(key models.PairKey, target, now time.Time) (models.Snapshot, bool) {
	p, ok := s.Get(key)
	if !ok {
		return models.Snapshot{}, false
	}
	return p.LookupAtOrBefore(target, now)
}

// PrimeFrom seeds key from candles; see PairStore.PrimeFrom.
func (s *Store) PrimeFrom(key models.PairKey, candles []models.CandleData) int {
	return s.Pair(key).PrimeFrom(candles)
}

// EvictExpired sweeps every pair and returns the total removed.
func (s *Store) EvictExpired(now time.Time) int {
	removed := 0
	s.pairs.Range(func(_, v any) bool {
		removed += v.(*PairStore).EvictExpired(now)
		return true
	})
	return removed
}

// Keys lists every pair ever seen, in no particular order.
func (s *Store) Keys() []models.PairKey {
	keys := make([]models.PairKey, 0, s.Len())
	s.pairs.Range(func(k, _ any) bool {
		keys = append(keys, k.(models.PairKey))
		return true
	})
	return keys
}

// Len counts pairs, not snapshots.
func (s *Store) Len() int { return int(s.count.Load()) }
