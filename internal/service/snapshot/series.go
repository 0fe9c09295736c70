package snapshot

import (
	"sort"
	"time"

	"CoinAlarm/internal/domain/models"
)

// series is one tier's samples for one pair, ascending and unique by timestamp.
type series struct {
	tier  Tier
	items []models.Snapshot
}

func (s *series) len() int { return len(s.items) }

func (s *series) newest() (models.Snapshot, bool) {
	if len(s.items) == 0 {
		return models.Snapshot{}, false
	}
	return s.items[len(s.items)-1], true
}

// insert stores snap if the tier is due for a sample or if snap replaces
// an entry with the same timestamp. Reports whether snap was stored.
func (s *series) insert(snap models.Snapshot) bool {
	n := len(s.items)
	if n > 0 {
		i := sort.Search(n, func(i int) bool { return !s.items[i].Timestamp.Before(snap.Timestamp) })
		if i < n && s.items[i].Timestamp.Equal(snap.Timestamp) {
			s.items[i] = snap
			return true
		}
		if snap.Timestamp.Sub(s.items[n-1].Timestamp) < s.tier.Interval {
			return false
		}
	}
	s.items = append(s.items, snap)
	s.trim(snap.Timestamp)
	return true
}

// trim keeps only entries inside (newest-retention, newest].
func (s *series) trim(newest time.Time) {
	cutoff := newest.Add(-s.tier.Retention)
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].Timestamp.After(cutoff) })
	s.drop(i)
}

// floor returns the entry with the greatest timestamp <= target.
func (s *series) floor(target time.Time) (models.Snapshot, bool) {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].Timestamp.After(target) })
	if i == 0 {
		return models.Snapshot{}, false
	}
	return s.items[i-1], true
}

// evictBefore removes entries older than cutoff and returns how many went.
func (s *series) evictBefore(cutoff time.Time) int {
	i := sort.Search(len(s.items), func(i int) bool { return !s.items[i].Timestamp.Before(cutoff) })
	s.drop(i)
	return i
}

func (s *series) drop(n int) {
	if n <= 0 {
		return
	}
	if n >= len(s.items) {
		s.items = s.items[:0]
		return
	}
	s.items = append(s.items[:0], s.items[n:]...)
}

func (s *series) shift(until time.Time, delta float64) {
	for i := range s.items {
		if s.items[i].Timestamp.After(until) {
			break
		}
		s.items[i].Rolling24hVolume += delta
	}
}
