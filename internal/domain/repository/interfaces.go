package repository

import (
	"context"
	"time"

	"CoinAlarm/internal/domain/models"
)

// ExchangeConnector is the capability set the engine needs from one exchange.
// StreamTicks runs until ctx is done; the tick channel is closed when the
// stream ends. Reconnection is the connector's job.
type ExchangeConnector interface {
	ID() string
	StreamTicks(ctx context.Context) (<-chan models.Snapshot, <-chan error)
	FetchHistoricalCandles(ctx context.Context, marketCode string, intervalMinutes, count int) ([]models.CandleData, error)
	FetchMarketCap(ctx context.Context, marketCode string) (models.MarketCapInfo, error)
	ListMarkets(ctx context.Context) ([]string, error)
}

// ResultPublisher pushes payloads to subscribers. Fire-and-forget.
type ResultPublisher interface {
	Publish(topic string, payload interface{})
}

// AlarmRecorder accepts emitted alarms for durable storage.
type AlarmRecorder interface {
	Record(ctx context.Context, e *models.AlarmEvent) error
}

// AlarmStorage persists alarm history.
type AlarmStorage interface {
	Store(ctx context.Context, e *models.AlarmEvent) error
	StoreBatch(ctx context.Context, events []*models.AlarmEvent) error
	Recent(ctx context.Context, filter AlarmFilter) ([]*models.AlarmEvent, error)
	Health(ctx context.Context) error
}

type AlarmFilter struct {
	ExchangeID string
	MarketCode string
	Since      time.Time
	Limit      int
}

// FavoriteStorage persists favorites across restarts.
type FavoriteStorage interface {
	Add(ctx context.Context, key models.PairKey) error
	Remove(ctx context.Context, key models.PairKey) error
	List(ctx context.Context) ([]models.PairKey, error)
}

// MarketCapCache is the shared second-level cache behind market-cap lookups.
type MarketCapCache interface {
	Get(ctx context.Context, key models.PairKey) (models.MarketCapInfo, bool, error)
	Set(ctx context.Context, key models.PairKey, info models.MarketCapInfo) error
}

// Metrics is the engine's view of the metrics recorder.
type Metrics interface {
	RecordTick(exchange string)
	RecordDroppedTick(exchange, reason string)
	RecordAlarm(exchange, decision string)
	RecordEvicted(n int)
	SetPairs(n int)
	RecordError(kind string)
	RecordLastPrice(exchange, market string, price float64)
	RecordLatency(op string, seconds float64)
}
