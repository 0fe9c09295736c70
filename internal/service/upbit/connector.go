// Package upbit implements the exchange connector for Upbit: REST for
// markets, candles and tickers, and the websocket ticker stream.
package upbit

import (
	"context"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/internal/service/marketcap"
	xhttp "CoinAlarm/pkg/http"
	"CoinAlarm/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const ExchangeID = "UPBIT"

// Config points the connector at Upbit. Zero fields take production defaults.
type Config struct {
	RESTURL           string
	WebSocketURL      string
	Markets           []string
	RequestsPerSecond float64
	RequestTimeout    time.Duration
	PingInterval      time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	MarketCaps        map[string]float64
}

func (c *Config) setDefaults() {
	if c.RESTURL == "" {
		c.RESTURL = "https://api.upbit.com/v1"
	}
	if c.WebSocketURL == "" {
		c.WebSocketURL = "wss://api.upbit.com/websocket/v1"
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 8
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 60 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(30*time.Second, c.ReconnectMin)
	}
}

// Connector implements ExchangeConnector for Upbit KRW markets.
type Connector struct {
	cfg     Config
	http    *xhttp.Client
	limiter *rate.Limiter
	dialer  *websocket.Dialer
	caps    marketcap.Catalog
	log     *logger.Logger
}

var _ domrepo.ExchangeConnector = (*Connector)(nil)

// New builds a connector; it opens no connection until StreamTicks.
func New(cfg Config, log *logger.Logger) *Connector {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	burst := max(1, int(cfg.RequestsPerSecond))
	return &Connector{
		cfg:     cfg,
		http:    xhttp.NewClient(xhttp.WithBaseURL(cfg.RESTURL), xhttp.WithTimeout(cfg.RequestTimeout)),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout, EnableCompression: true},
		caps:    marketcap.NewCatalog(cfg.MarketCaps),
		log:     log.Named("upbit"),
	}
}

func (c *Connector) ID() string { return ExchangeID }

// FetchMarketCap classifies from the configured catalog.
func (c *Connector) FetchMarketCap(_ context.Context, marketCode string) (models.MarketCapInfo, error) {
	return c.caps.Lookup(marketCode), nil
}
