package models

import "time"

// AlarmEvent is one emitted alarm as published and stored.
type AlarmEvent struct {
	ID         string        `json:"id"`
	ExchangeID string        `json:"exchangeId"`
	MarketCode string        `json:"marketCode"`
	Tier       MarketCapTier `json:"tier"`
	Volume     float64       `json:"volume"`
	Threshold  float64       `json:"threshold"`
	Price      float64       `json:"price"`
	Timestamp  time.Time     `json:"timestamp"`
	Message    string        `json:"message"`
}

func (e *AlarmEvent) Key() PairKey { return PairKey{ExchangeID: e.ExchangeID, MarketCode: e.MarketCode} }
