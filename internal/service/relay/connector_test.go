package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	pkgkafka "CoinAlarm/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	handler  pkgkafka.MessageHandler
	starts   int
	stops    int
	startErr error
}

func (f *fakeConsumer) RegisterHandler(h pkgkafka.MessageHandler) error {
	if f.handler != nil {
		return errors.New("duplicate")
	}
	f.handler = h
	return nil
}

func (f *fakeConsumer) Start() error {
	f.starts++
	return f.startErr
}

func (f *fakeConsumer) Stop(context.Context) error {
	f.stops++
	return nil
}

func newRelay(t *testing.T, buf int) (*Connector, *fakeConsumer) {
	t.Helper()
	fc := &fakeConsumer{}
	c, err := New(Config{ExchangeID: "bithumb", Topic: "coinalarm.relay.ticks", BufferSize: buf, MarketCaps: map[string]float64{"KRW-BTC": 2.5e15}}, fc, nil, nil)
	require.NoError(t, err)
	return c, fc
}

func TestRelay_ForwardsTicks(t *testing.T) {
	c, fc := newRelay(t, 8)
	assert.Equal(t, "BITHUMB", c.ID())
	assert.Equal(t, "coinalarm.relay.ticks", fc.handler.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks, _ := c.StreamTicks(ctx)
	assert.Equal(t, 1, fc.starts)

	require.NoError(t, fc.handler.Handle(ctx, []byte(`{"exchange":"BITHUMB","market":"krw-btc","price":95000000,"volume24h":1.5e11,"timestamp":1741942800000}`)))

	select {
	case s := <-ticks:
		assert.Equal(t, models.Snapshot{
			ExchangeID:       "BITHUMB",
			MarketCode:       "KRW-BTC",
			Timestamp:        time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
			CurrentPrice:     95000000,
			Rolling24hVolume: 1.5e11,
		}, s)
	case <-time.After(time.Second):
		t.Fatal("tick not forwarded")
	}

	markets, err := c.ListMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"KRW-BTC"}, markets)
}

func TestRelay_StartsConsumerOnce(t *testing.T) {
	c, fc := newRelay(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	c.StreamTicks(ctx)
	cancel()
	c.StreamTicks(context.Background())
	assert.Equal(t, 1, fc.starts)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, fc.stops)
}

func TestRelay_StartFailure(t *testing.T) {
	fc := &fakeConsumer{startErr: errors.New("no brokers")}
	c, err := New(Config{ExchangeID: "BITHUMB", Topic: "t"}, fc, nil, nil)
	require.NoError(t, err)

	ticks, errs := c.StreamTicks(context.Background())
	assert.ErrorContains(t, <-errs, "no brokers")
	_, ok := <-ticks
	assert.False(t, ok)
}

func TestRelay_DropsWithoutBlocking(t *testing.T) {
	c, fc := newRelay(t, 1)
	ctx := context.Background()
	msg := []byte(`{"market":"KRW-BTC","price":1,"volume24h":1,"timestamp":1741942800}`)

	require.NoError(t, fc.handler.Handle(ctx, msg))
	done := make(chan struct{})
	go func() {
		_ = fc.handler.Handle(ctx, msg)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a full buffer")
	}
	assert.Len(t, c.ticks, 1)
}

func TestRelay_FiltersMessages(t *testing.T) {
	c, fc := newRelay(t, 8)
	ctx := context.Background()

	assert.Error(t, fc.handler.Handle(ctx, []byte(`{`)))
	require.NoError(t, fc.handler.Handle(ctx, []byte(`{"exchange":"UPBIT","market":"KRW-BTC","timestamp":1}`)))
	require.NoError(t, fc.handler.Handle(ctx, []byte(`{"market":"","timestamp":1}`)))
	assert.Empty(t, c.ticks)
}

func TestRelay_CapabilitiesAndConfig(t *testing.T) {
	c, _ := newRelay(t, 8)
	_, err := c.FetchHistoricalCandles(context.Background(), "KRW-BTC", 1, 10)
	assert.ErrorIs(t, err, domrepo.ErrUnsupported)

	info, err := c.FetchMarketCap(context.Background(), "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, models.TierMega, info.Tier)

	_, err = New(Config{}, &fakeConsumer{}, nil, nil)
	assert.Error(t, err)
}
