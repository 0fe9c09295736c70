package upbit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoinAlarm/internal/domain/models"
	"CoinAlarm/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type ticketFrame struct {
	Ticket string `json:"ticket"`
}

type typeFrame struct {
	Type           string   `json:"type"`
	Codes          []string `json:"codes"`
	IsOnlyRealtime bool     `json:"isOnlyRealtime"`
}

type formatFrame struct {
	Format string `json:"format"`
}

func subscribeFrames(ticket string, markets []string) []interface{} {
	return []interface{}{
		ticketFrame{Ticket: ticket},
		typeFrame{Type: "ticker", Codes: markets, IsOnlyRealtime: true},
		formatFrame{Format: "DEFAULT"},
	}
}

// StreamTicks subscribes to ticker updates and reconnects with exponential
// backoff until ctx is done. Both channels close when the stream ends.
func (c *Connector) StreamTicks(ctx context.Context) (<-chan models.Snapshot, <-chan error) {
	ticks := make(chan models.Snapshot, 1024)
	errs := make(chan error, 16)
	go c.stream(ctx, ticks, errs)
	return ticks, errs
}

func (c *Connector) stream(ctx context.Context, ticks chan<- models.Snapshot, errs chan<- error) {
	defer close(ticks)
	defer close(errs)

	backoff := c.cfg.ReconnectMin
	for {
		received, err := c.session(ctx, ticks)
		if ctx.Err() != nil {
			return
		}
		if received > 0 {
			backoff = c.cfg.ReconnectMin
		}
		if err != nil {
			c.log.Warn("ticker stream interrupted", logger.Error(err), logger.Duration("retry_in", backoff))
			select {
			case errs <- err:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.cfg.ReconnectMax)
	}
}

func (c *Connector) markets(ctx context.Context) ([]string, error) {
	if len(c.cfg.Markets) > 0 {
		return c.cfg.Markets, nil
	}
	return c.ListMarkets(ctx)
}

// session runs one websocket connection and returns the number of ticks
// forwarded before it ended.
func (c *Connector) session(ctx context.Context, ticks chan<- models.Snapshot) (int, error) {
	markets, err := c.markets(ctx)
	if err != nil {
		return 0, err
	}
	if len(markets) == 0 {
		return 0, errors.New("no markets to subscribe")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WebSocketURL, nil)
	if err != nil {
		return 0, fmt.Errorf("upbit connect: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeFrames(uuid.NewString(), markets)); err != nil {
		return 0, fmt.Errorf("upbit subscribe: %w", err)
	}
	c.log.Info("subscribed", logger.Int("markets", len(markets)))

	done := make(chan struct{})
	defer close(done)
	go c.keepAlive(ctx, conn, done)

	sent := 0
	forward := func(s models.Snapshot) bool {
		select {
		case ticks <- s:
			sent++
			return true
		case <-ctx.Done():
			return false
		}
	}

	if seed, err := c.FetchTickers(ctx, markets); err != nil {
		c.log.Warn("ticker seed failed", logger.Error(err))
	} else {
		for _, s := range seed {
			if !forward(s) {
				return sent, nil
			}
		}
	}

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return sent, nil
			}
			return sent, fmt.Errorf("upbit read: %w", err)
		}
		snap, ok, err := parseTicker(b)
		if err != nil {
			c.log.Warn("bad frame", logger.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if !forward(snap) {
			return sent, nil
		}
	}
}

// keepAlive pings on an interval and closes conn once ctx is done so the
// blocked read returns.
func (c *Connector) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.log.Debug("ping failed", logger.Error(err))
			}
		}
	}
}
