package alarm

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
)

// FallbackThreshold applies when a tier has no default configured.
const FallbackThreshold = 1_000_000_000_000

// DefaultThresholds returns the stock per-tier thresholds in KRW.
func DefaultThresholds() map[models.MarketCapTier]float64 {
	return map[models.MarketCapTier]float64{
		models.TierMega:   10_000_000_000_000,
		models.TierLarge:  1_000_000_000_000,
		models.TierMedium: 999_999_999_999,
	}
}

// thresholdSet is immutable once published; writers swap in a copy.
type thresholdSet struct {
	defaults map[models.MarketCapTier]float64
	custom   map[models.PairKey]float64
	disabled map[string]bool
}

func (s *thresholdSet) clone() *thresholdSet {
	cp := &thresholdSet{
		defaults: make(map[models.MarketCapTier]float64, len(s.defaults)),
		custom:   make(map[models.PairKey]float64, len(s.custom)),
		disabled: make(map[string]bool, len(s.disabled)),
	}
	for k, v := range s.defaults {
		cp.defaults[k] = v
	}
	for k, v := range s.custom {
		cp.custom[k] = v
	}
	for k, v := range s.disabled {
		cp.disabled[k] = v
	}
	return cp
}

func (s *thresholdSet) resolve(key models.PairKey, tier models.MarketCapTier) float64 {
	if v, ok := s.custom[key]; ok {
		return v
	}
	if v, ok := s.defaults[tier]; ok {
		return v
	}
	return FallbackThreshold
}

func (s *thresholdSet) enabled(exchangeID string) bool {
	return !s.disabled[strings.ToUpper(exchangeID)]
}

func validThreshold(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %v", domrepo.ErrInvalidThreshold, v)
	}
	return nil
}

type CustomThreshold struct {
	ExchangeID string  `json:"exchangeId"`
	MarketCode string  `json:"marketCode"`
	Threshold  float64 `json:"threshold"`
}

// View is a read-only copy of the current configuration.
type View struct {
	Defaults          map[models.MarketCapTier]float64 `json:"defaults"`
	Custom            []CustomThreshold                `json:"custom"`
	DisabledExchanges []string                         `json:"disabledExchanges"`
	CooldownMillis    int64                            `json:"cooldownMillis"`
}

func (s *thresholdSet) view() View {
	v := View{
		Defaults:          make(map[models.MarketCapTier]float64, len(s.defaults)),
		Custom:            make([]CustomThreshold, 0, len(s.custom)),
		DisabledExchanges: make([]string, 0, len(s.disabled)),
	}
	for k, t := range s.defaults {
		v.Defaults[k] = t
	}
	for k, t := range s.custom {
		v.Custom = append(v.Custom, CustomThreshold{ExchangeID: k.ExchangeID, MarketCode: k.MarketCode, Threshold: t})
	}
	sort.Slice(v.Custom, func(i, j int) bool {
		if v.Custom[i].ExchangeID != v.Custom[j].ExchangeID {
			return v.Custom[i].ExchangeID < v.Custom[j].ExchangeID
		}
		return v.Custom[i].MarketCode < v.Custom[j].MarketCode
	})
	for ex, off := range s.disabled {
		if off {
			v.DisabledExchanges = append(v.DisabledExchanges, ex)
		}
	}
	sort.Strings(v.DisabledExchanges)
	return v
}
