// Package marketcap classifies markets from a configured market-cap table.
package marketcap

import (
	"strings"

	"CoinAlarm/internal/domain/models"
)

// Catalog maps a market code (e.g. "KRW-BTC") to its market cap in KRW.
type Catalog map[string]float64

func NewCatalog(caps map[string]float64) Catalog {
	c := make(Catalog, len(caps))
	for market, amount := range caps {
		c[strings.ToUpper(strings.TrimSpace(market))] = amount
	}
	return c
}

// Lookup never fails; markets missing from the table classify as MEDIUM.
func (c Catalog) Lookup(marketCode string) models.MarketCapInfo {
	market := strings.ToUpper(marketCode)
	amount := c[market]
	return models.MarketCapInfo{MarketCode: market, MarketCap: amount, Tier: models.TierFromMarketCap(amount)}
}
