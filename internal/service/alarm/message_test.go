package alarm

import (
	"testing"

	"CoinAlarm/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func TestFormatKRW(t *testing.T) {
	cases := map[float64]string{
		0:                  "0원",
		-10:                "0원",
		500:                "500원",
		50_000_000:         "5000만원",
		1_234_500_000_000:  "1조 2345억원",
		999_999_999_999:    "9999억 9999만원",
		10_000_000_000_000: "10조원",
		123_456_789:        "1억 2345만원",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatKRW(in), "amount %v", in)
	}
}

func TestNewEvent(t *testing.T) {
	snap := models.Snapshot{ExchangeID: "UPBIT", MarketCode: "KRW-BTC", Timestamp: t0, CurrentPrice: 95_000_000}
	e := NewEvent(snap, models.TierMega, 12_000_000_000_000, 10_000_000_000_000, t0)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "KRW-BTC", e.MarketCode)
	assert.Equal(t, 95_000_000.0, e.Price)
	assert.Contains(t, e.Message, "12조원")
	assert.Contains(t, e.Message, "기준 10조원")
}
