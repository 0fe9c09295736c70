package models

import "strings"

// Requests for the admin HTTP endpoints.

type FavoriteRequest struct {
	Exchange   string `query:"exchange" json:"exchange" default:"UPBIT" validate:"required"`
	MarketCode string `query:"marketCode" json:"marketCode" validate:"required"`
}

type DefaultThresholdRequest struct {
	Tier      string  `json:"tier" validate:"required"`
	Threshold float64 `json:"threshold" validate:"gte=0"`
}

type CustomThresholdRequest struct {
	Exchange   string  `json:"exchange" default:"UPBIT" validate:"required"`
	MarketCode string  `json:"marketCode" validate:"required"`
	Threshold  float64 `json:"threshold" validate:"gte=0"`
}

type ExchangeEnabledRequest struct {
	Exchange string `param:"exchange" validate:"required"`
	Enabled  *bool  `json:"enabled" validate:"required"`
}

type PairRequest struct {
	Exchange string `param:"exchange" validate:"required"`
	Market   string `param:"market" validate:"required"`
}

type AlarmsRequest struct {
	Exchange   string `query:"exchange"`
	MarketCode string `query:"marketCode"`
	Since      string `query:"since"`
	Limit      int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// MarketsRequest filters the market list by tier. Empty or "ALL" keeps
// every pair.
type MarketsRequest struct {
	Tiers string `query:"tiers"`
}

// TierSet parses the comma separated tier list; nil means no filter.
func (r *MarketsRequest) TierSet() (map[MarketCapTier]bool, error) {
	var set map[MarketCapTier]bool
	for _, part := range strings.Split(r.Tiers, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.EqualFold(part, "all") {
			return nil, nil
		}
		t, err := ParseMarketCapTier(part)
		if err != nil {
			return nil, err
		}
		if set == nil {
			set = make(map[MarketCapTier]bool, 3)
		}
		set[t] = true
	}
	return set, nil
}
