package models

import (
	"sort"
	"time"
)

// Windows are the rolling windows reported for a pair, in minutes.
var Windows = []int{1, 5, 15, 60, 1440}

// WindowValues holds one value per reported window.
type WindowValues struct {
	M1  float64 `json:"1m"`
	M5  float64 `json:"5m"`
	M15 float64 `json:"15m"`
	H1  float64 `json:"1h"`
	H24 float64 `json:"24h"`
}

// Set stores v under the given window length; unknown lengths are ignored.
func (w *WindowValues) Set(minutes int, v float64) {
	switch minutes {
	case 1:
		w.M1 = v
	case 5:
		w.M5 = v
	case 15:
		w.M15 = v
	case 60:
		w.H1 = v
	case 1440:
		w.H24 = v
	}
}

// WindowSnapshot is the per-pair view published to clients.
type WindowSnapshot struct {
	ExchangeID  string        `json:"exchangeId"`
	MarketCode  string        `json:"marketCode"`
	Price       float64       `json:"price"`
	Timestamp   time.Time     `json:"timestamp"`
	Tier        MarketCapTier `json:"tier,omitempty"`
	Favorite    bool          `json:"isFavorite"`
	Volume      WindowValues  `json:"volume"`
	PriceChange WindowValues  `json:"priceChange"`
}

// SortByMinuteVolume orders windows by one-minute traded value, largest
// first, breaking ties by market code.
func SortByMinuteVolume(ws []WindowSnapshot) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Volume.M1 != ws[j].Volume.M1 {
			return ws[i].Volume.M1 > ws[j].Volume.M1
		}
		return ws[i].MarketCode < ws[j].MarketCode
	})
}
