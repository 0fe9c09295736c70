package marketcap

import (
	"testing"

	"CoinAlarm/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func TestCatalog_Lookup(t *testing.T) {
	c := NewCatalog(map[string]float64{" krw-btc ": 2.5e15, "KRW-SOL": 5e12})

	assert.Equal(t, models.MarketCapInfo{MarketCode: "KRW-BTC", MarketCap: 2.5e15, Tier: models.TierMega}, c.Lookup("krw-btc"))
	assert.Equal(t, models.TierLarge, c.Lookup("KRW-SOL").Tier)
	assert.Equal(t, models.MarketCapInfo{MarketCode: "KRW-NEW", Tier: models.TierMedium}, c.Lookup("KRW-NEW"))
}
