package models

import (
	"fmt"
	"strings"
)

// MarketCapTier buckets a pair by market capitalisation.
type MarketCapTier string

const (
	TierMega   MarketCapTier = "MEGA"
	TierLarge  MarketCapTier = "LARGE"
	TierMedium MarketCapTier = "MEDIUM"
)

const (
	megaCapFloor  = 20_000_000_000_000
	largeCapFloor = 1_000_000_000_000
)

// Tiers lists every tier from largest to smallest.
func Tiers() []MarketCapTier { return []MarketCapTier{TierMega, TierLarge, TierMedium} }

// TierFromMarketCap classifies a market cap in KRW.
func TierFromMarketCap(marketCap float64) MarketCapTier {
	switch {
	case marketCap >= megaCapFloor:
		return TierMega
	case marketCap >= largeCapFloor:
		return TierLarge
	default:
		return TierMedium
	}
}

// ParseMarketCapTier accepts any case and surrounding spaces.
func ParseMarketCapTier(s string) (MarketCapTier, error) {
	t := MarketCapTier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown market cap tier %q", s)
	}
	return t, nil
}

func (t MarketCapTier) Valid() bool {
	switch t {
	case TierMega, TierLarge, TierMedium:
		return true
	}
	return false
}

func (t MarketCapTier) Description() string {
	switch t {
	case TierMega:
		return "20조 이상"
	case TierLarge:
		return "1조 이상"
	default:
		return "1조 미만"
	}
}

// MarketCapInfo is the resolved capitalisation and tier of one market.
type MarketCapInfo struct {
	MarketCode string        `json:"marketCode"`
	MarketCap  float64       `json:"marketCap"`
	Tier       MarketCapTier `json:"tier"`
}
