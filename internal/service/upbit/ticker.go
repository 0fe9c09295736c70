package upbit

import (
	"encoding/json"
	"fmt"
	"time"

	"CoinAlarm/internal/domain/models"
	"CoinAlarm/pkg/util"
)

// tickerMessage accepts both the DEFAULT field names and the abbreviated
// SIMPLE ones.
type tickerMessage struct {
	Type string `json:"type"`
	Ty   string `json:"ty"`

	Code   string `json:"code"`
	Market string `json:"market"`
	Cd     string `json:"cd"`

	TradePrice float64 `json:"trade_price"`
	Tp         float64 `json:"tp"`

	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
	Atp24h           float64 `json:"atp24h"`

	Timestamp      int64 `json:"timestamp"`
	Tms            int64 `json:"tms"`
	TradeTimestamp int64 `json:"trade_timestamp"`
	Ttms           int64 `json:"ttms"`

	Error *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstInt(vals ...int64) int64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func (t tickerMessage) snapshot() (models.Snapshot, bool) {
	code := firstString(t.Code, t.Cd, t.Market)
	if code == "" {
		return models.Snapshot{}, false
	}
	var ts time.Time
	if ms := firstInt(t.Timestamp, t.Tms, t.TradeTimestamp, t.Ttms); ms > 0 {
		ts = util.FromUnixAuto(ms)
	}
	return models.Snapshot{
		ExchangeID:       ExchangeID,
		MarketCode:       code,
		Timestamp:        ts,
		CurrentPrice:     firstFloat(t.TradePrice, t.Tp),
		Rolling24hVolume: firstFloat(t.AccTradePrice24h, t.Atp24h),
	}, true
}

// parseTicker decodes one websocket frame. Frames that are not tickers, such
// as status replies, return ok=false with a nil error.
func parseTicker(b []byte) (models.Snapshot, bool, error) {
	var m tickerMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("decode ticker: %w", err)
	}
	if m.Error != nil {
		return models.Snapshot{}, false, fmt.Errorf("upbit error %s: %s", m.Error.Name, m.Error.Message)
	}
	if kind := firstString(m.Type, m.Ty); kind != "" && kind != "ticker" {
		return models.Snapshot{}, false, nil
	}
	snap, ok := m.snapshot()
	return snap, ok, nil
}
