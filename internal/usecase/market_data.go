package usecase

import (
	"context"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/pkg/logger"
)

// MarketDataBroadcaster periodically publishes every pair's windows and
// the top pairs by one-minute traded value.
type MarketDataBroadcaster struct {
	orch     *Orchestrator
	pub      domrepo.ResultPublisher
	log      *logger.Logger
	interval time.Duration
	topN     int
}

// NewMarketDataBroadcaster publishes every interval; topN limits the
// ranked topic.
func NewMarketDataBroadcaster(orch *Orchestrator, pub domrepo.ResultPublisher, log *logger.Logger, interval time.Duration, topN int) *MarketDataBroadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	if topN <= 0 {
		topN = 5
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MarketDataBroadcaster{orch: orch, pub: pub, log: log.Named("broadcaster"), interval: interval, topN: topN}
}

// Run blocks until ctx is done.
func (b *MarketDataBroadcaster) Run(ctx context.Context) {
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Broadcast()
		}
	}
}

// Broadcast publishes one round and returns the number of pairs sent.
func (b *MarketDataBroadcaster) Broadcast() int {
	windows := b.orch.Windows()
	if len(windows) == 0 {
		return 0
	}
	models.SortByMinuteVolume(windows)
	b.pub.Publish(TopicMarketData, windows)
	top := make([]models.WindowSnapshot, min(b.topN, len(windows)))
	copy(top, windows)
	b.pub.Publish(TopicTopMarketData, top)
	return len(windows)
}
