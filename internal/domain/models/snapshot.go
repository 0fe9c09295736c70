package models

import (
	"fmt"
	"strings"
	"time"
)

// PairKey identifies one trading pair on one exchange.
type PairKey struct {
	ExchangeID string `json:"exchangeId"`
	MarketCode string `json:"marketCode"`
}

func NewPairKey(exchangeID, marketCode string) PairKey {
	return PairKey{ExchangeID: strings.ToUpper(exchangeID), MarketCode: strings.ToUpper(marketCode)}
}

func (k PairKey) String() string { return k.ExchangeID + "/" + k.MarketCode }

// Snapshot is one observation of a pair. Rolling24hVolume is the exchange's
// trailing 24h cumulative traded value and may reset at day boundaries.
type Snapshot struct {
	ExchangeID       string    `json:"exchangeId"`
	MarketCode       string    `json:"marketCode"`
	Timestamp        time.Time `json:"timestamp"`
	CurrentPrice     float64   `json:"currentPrice"`
	Rolling24hVolume float64   `json:"rolling24hVolume"`
}

func (s Snapshot) Key() PairKey { return PairKey{ExchangeID: s.ExchangeID, MarketCode: s.MarketCode} }

func (s Snapshot) String() string {
	return fmt.Sprintf("%s/%s@%s price=%g vol24h=%g", s.ExchangeID, s.MarketCode, s.Timestamp.Format(time.RFC3339Nano), s.CurrentPrice, s.Rolling24hVolume)
}

// CandleData is a historical bar. AccTradeVolume is the traded value within the bar.
type CandleData struct {
	MarketCode     string    `json:"marketCode"`
	Timestamp      time.Time `json:"timestamp"`
	Open           float64   `json:"open"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Close          float64   `json:"close"`
	AccTradeVolume float64   `json:"accTradeVolume"`
}
