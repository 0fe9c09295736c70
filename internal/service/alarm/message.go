package alarm

import (
	"fmt"
	"strings"
	"time"

	"CoinAlarm/internal/domain/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var krwUnits = []struct {
	size decimal.Decimal
	name string
}{
	{decimal.New(1, 12), "조"},
	{decimal.New(1, 8), "억"},
	{decimal.New(1, 4), "만"},
}

// FormatKRW renders an amount with Korean money units, e.g. "1조 2345억원".
// Remainders below 10,000 are dropped once a larger unit is present.
func FormatKRW(amount float64) string {
	d := decimal.NewFromFloat(amount).Truncate(0)
	if d.Sign() <= 0 {
		return "0원"
	}
	parts := make([]string, 0, len(krwUnits))
	for _, u := range krwUnits {
		q := d.Div(u.size).Truncate(0)
		if q.Sign() > 0 {
			parts = append(parts, q.String()+u.name)
			d = d.Sub(q.Mul(u.size))
		}
	}
	if len(parts) == 0 {
		return d.String() + "원"
	}
	return strings.Join(parts, " ") + "원"
}

// NewEvent builds the alarm published for an emitted decision.
func NewEvent(snap models.Snapshot, tier models.MarketCapTier, volume, threshold float64, at time.Time) *models.AlarmEvent {
	return &models.AlarmEvent{
		ID:         uuid.NewString(),
		ExchangeID: snap.ExchangeID,
		MarketCode: snap.MarketCode,
		Tier:       tier,
		Volume:     volume,
		Threshold:  threshold,
		Price:      snap.CurrentPrice,
		Timestamp:  at,
		Message: fmt.Sprintf("[%s] %s 1분 거래대금 %s (기준 %s, %s)",
			snap.ExchangeID, snap.MarketCode, FormatKRW(volume), FormatKRW(threshold), tier.Description()),
	}
}
