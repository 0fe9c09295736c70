// Package relay adapts ticks that external collectors publish to Kafka into
// an exchange connector.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/internal/service/marketcap"
	pkgkafka "CoinAlarm/pkg/kafka"
	"CoinAlarm/pkg/logger"
	"CoinAlarm/pkg/util"
)

// Consumer is the part of pkg/kafka.Consumer the relay drives.
type Consumer interface {
	RegisterHandler(h pkgkafka.MessageHandler) error
	Start() error
	Stop(ctx context.Context) error
}

var _ Consumer = (*pkgkafka.Consumer)(nil)

// Config names the relayed exchange and the Kafka topic it arrives on.
type Config struct {
	ExchangeID string
	Topic      string
	MarketCaps map[string]float64
	BufferSize int
}

// Connector exposes one Kafka topic of ticks as an exchange. Candles are not
// available through the relay.
type Connector struct {
	id       string
	topic    string
	consumer Consumer
	caps     marketcap.Catalog
	log      *logger.Logger
	metrics  domrepo.Metrics

	ticks    chan models.Snapshot
	start    sync.Once
	startErr error

	mu      sync.Mutex
	markets map[string]struct{}
}

var _ domrepo.ExchangeConnector = (*Connector)(nil)

// New validates cfg and registers the tick handler on consumer. The
// consumer is started by the caller.
func New(cfg Config, consumer Consumer, log *logger.Logger, metrics domrepo.Metrics) (*Connector, error) {
	if cfg.ExchangeID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("relay: exchange id and topic are required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if log == nil {
		log = logger.NewNop()
	}
	c := &Connector{
		id:       strings.ToUpper(cfg.ExchangeID),
		topic:    cfg.Topic,
		consumer: consumer,
		caps:     marketcap.NewCatalog(cfg.MarketCaps),
		log:      log.Named("relay").With(logger.String("exchange", strings.ToUpper(cfg.ExchangeID))),
		metrics:  metrics,
		ticks:    make(chan models.Snapshot, cfg.BufferSize),
		markets:  make(map[string]struct{}),
	}
	if err := consumer.RegisterHandler(tickHandler{c}); err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	return c, nil
}

func (c *Connector) ID() string { return c.id }

// StreamTicks starts the consumer on first use and forwards relayed ticks
// until ctx is done.
func (c *Connector) StreamTicks(ctx context.Context) (<-chan models.Snapshot, <-chan error) {
	out := make(chan models.Snapshot)
	errs := make(chan error, 1)

	c.start.Do(func() { c.startErr = c.consumer.Start() })
	if c.startErr != nil {
		errs <- fmt.Errorf("relay consumer: %w", c.startErr)
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-c.ticks:
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, errs
}

// FetchHistoricalCandles is unsupported for relayed feeds; favorites on a
// relayed exchange start unprimed.
func (c *Connector) FetchHistoricalCandles(context.Context, string, int, int) ([]models.CandleData, error) {
	return nil, domrepo.ErrUnsupported
}

func (c *Connector) FetchMarketCap(_ context.Context, marketCode string) (models.MarketCapInfo, error) {
	return c.caps.Lookup(marketCode), nil
}

// ListMarkets returns the markets seen on the topic so far.
func (c *Connector) ListMarkets(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.markets))
	for m := range c.markets {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Close stops the underlying consumer.
func (c *Connector) Close(ctx context.Context) error {
	return c.consumer.Stop(ctx)
}

// relayedTick is the message published by collectors.
type relayedTick struct {
	Exchange  string  `json:"exchange"`
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume24h"`
	Timestamp int64   `json:"timestamp"`
}

type tickHandler struct{ c *Connector }

func (h tickHandler) Topic() string { return h.c.topic }

// Handle never blocks on the engine: a full buffer drops the tick.
func (h tickHandler) Handle(_ context.Context, b []byte) error {
	var m relayedTick
	if err := json.Unmarshal(b, &m); err != nil {
		h.c.recordDrop("decode")
		return fmt.Errorf("decode relayed tick: %w", err)
	}
	if m.Exchange != "" && !strings.EqualFold(m.Exchange, h.c.id) {
		h.c.recordDrop("foreign_exchange")
		return nil
	}
	if m.Market == "" || m.Timestamp <= 0 {
		h.c.recordDrop("malformed")
		return nil
	}
	snap := models.Snapshot{
		ExchangeID:       h.c.id,
		MarketCode:       strings.ToUpper(m.Market),
		Timestamp:        util.FromUnixAuto(m.Timestamp),
		CurrentPrice:     m.Price,
		Rolling24hVolume: m.Volume24h,
	}

	h.c.mu.Lock()
	h.c.markets[snap.MarketCode] = struct{}{}
	h.c.mu.Unlock()

	select {
	case h.c.ticks <- snap:
	default:
		h.c.recordDrop("relay_buffer_full")
	}
	return nil
}

func (c *Connector) recordDrop(reason string) {
	if c.metrics != nil {
		c.metrics.RecordDroppedTick(c.id, reason)
	}
}
