package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/internal/service/alarm"
	"CoinAlarm/internal/service/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload interface{}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
}

func (p *recordingPublisher) on(topic string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []interface{}
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type fakeConnector struct {
	id      string
	ticks   chan models.Snapshot
	candles []models.CandleData
	candErr error
	// fetching, when set, makes candle fetches signal and block until ctx ends.
	fetching chan string
	caps     map[string]float64
	capErr  error

	mu       sync.Mutex
	streams  int
	capCalls int
}

func (f *fakeConnector) ID() string { return f.id }

func (f *fakeConnector) StreamTicks(ctx context.Context) (<-chan models.Snapshot, <-chan error) {
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()
	out := make(chan models.Snapshot)
	errs := make(chan error)
	go func() {
		defer close(errs)
		defer close(out)
		if f.ticks == nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-f.ticks:
				if !ok {
					return
				}
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

func (f *fakeConnector) FetchHistoricalCandles(ctx context.Context, market string, interval, count int) ([]models.CandleData, error) {
	if f.fetching != nil {
		f.fetching <- market
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.candErr != nil {
		return nil, f.candErr
	}
	return f.candles, nil
}

func (f *fakeConnector) FetchMarketCap(ctx context.Context, market string) (models.MarketCapInfo, error) {
	f.mu.Lock()
	f.capCalls++
	f.mu.Unlock()
	if f.capErr != nil {
		return models.MarketCapInfo{}, f.capErr
	}
	return models.MarketCapInfo{MarketCode: market, MarketCap: f.caps[market]}, nil
}

func (f *fakeConnector) ListMarkets(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeConnector) counts() (streams, capCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams, f.capCalls
}

type memFavorites struct {
	mu   sync.Mutex
	keys map[models.PairKey]bool
}

func newMemFavorites(keys ...models.PairKey) *memFavorites {
	m := &memFavorites{keys: make(map[models.PairKey]bool)}
	for _, k := range keys {
		m.keys[k] = true
	}
	return m
}

func (m *memFavorites) Add(_ context.Context, k models.PairKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k] = true
	return nil
}

func (m *memFavorites) Remove(_ context.Context, k models.PairKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, k)
	return nil
}

func (m *memFavorites) List(context.Context) ([]models.PairKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PairKey, 0, len(m.keys))
	for k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *memFavorites) has(k models.PairKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[k]
}

type memRecorder struct {
	mu     sync.Mutex
	events []*models.AlarmEvent
}

func (r *memRecorder) Record(_ context.Context, e *models.AlarmEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type harness struct {
	orch  *Orchestrator
	store *snapshot.Store
	pub   *recordingPublisher
	clock *fakeClock
	conn  *fakeConnector
}

func newHarness(t *testing.T, conn *fakeConnector, opts ...OrchestratorOption) *harness {
	t.Helper()
	return newHarnessWithConfig(t, OrchestratorConfig{}, conn, opts...)
}

func newHarnessWithConfig(t *testing.T, cfg OrchestratorConfig, conn *fakeConnector, opts ...OrchestratorOption) *harness {
	t.Helper()
	cfg.RestartMin, cfg.RestartMax = 5*time.Millisecond, 20*time.Millisecond
	clock := &fakeClock{now: t0}
	store, err := snapshot.NewStore(snapshot.DefaultTiers())
	require.NoError(t, err)
	eval, err := alarm.NewEvaluator(alarm.Config{})
	require.NoError(t, err)
	pub := &recordingPublisher{}
	opts = append([]OrchestratorOption{WithClock(clock.Now)}, opts...)
	o := NewOrchestrator(cfg, nil, store, NewRollingWindowCalculator(store, clock.Now), eval, pub, []domrepo.ExchangeConnector{conn}, opts...)
	t.Cleanup(o.Stop)
	return &harness{orch: o, store: store, pub: pub, clock: clock, conn: conn}
}

func TestHandleTickEmitsAlarm(t *testing.T) {
	rec := &memRecorder{}
	h := newHarness(t, &fakeConnector{id: "UPBIT"}, WithAlarmRecorder(rec))
	h.clock.Set(t0.Add(time.Minute))
	ctx := context.Background()

	require.NoError(t, h.orch.HandleTick(ctx, tick(btcKey, t0, 95_000_000, 1_000_000_000_000)))
	assert.Empty(t, h.pub.on(TopicAlarm))

	require.NoError(t, h.orch.HandleTick(ctx, tick(btcKey, t0.Add(time.Minute), 96_000_000, 3_000_000_000_000)))
	alarms := h.pub.on(TopicAlarm)
	require.Len(t, alarms, 1)
	ev := alarms[0].(*models.AlarmEvent)
	assert.Equal(t, "KRW-BTC", ev.MarketCode)
	assert.Equal(t, 2_000_000_000_000.0, ev.Volume)
	assert.Equal(t, models.TierMedium, ev.Tier)
	assert.Equal(t, 96_000_000.0, ev.Price)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 1)
	assert.Equal(t, ev.ID, rec.events[0].ID)
}

func TestHandleTickRejectsMalformed(t *testing.T) {
	h := newHarness(t, &fakeConnector{id: "UPBIT"})
	ctx := context.Background()

	bad := []models.Snapshot{
		{ExchangeID: "UPBIT", Timestamp: t0, CurrentPrice: 1},
		{ExchangeID: "UPBIT", MarketCode: "KRW-BTC", CurrentPrice: 1},
		tick(btcKey, t0, 0, 1),
		tick(btcKey, t0, -5, 1),
		tick(btcKey, t0, 1, -1),
	}
	for _, s := range bad {
		assert.ErrorIs(t, h.orch.HandleTick(ctx, s), domrepo.ErrMalformedTick, s.String())
	}
	assert.Zero(t, h.store.Len())
}

func TestTierResolvedInBackground(t *testing.T) {
	conn := &fakeConnector{id: "UPBIT", caps: map[string]float64{"KRW-BTC": 100_000_000_000_000}}
	h := newHarness(t, conn)
	h.clock.Set(t0.Add(time.Minute))
	ctx := context.Background()

	require.NoError(t, h.orch.HandleTick(ctx, tick(btcKey, t0, 1, 0)))
	assert.Eventually(t, func() bool {
		_, ok := h.orch.caps.Load(btcKey)
		return ok
	}, time.Second, 5*time.Millisecond)

	// 2조 in a minute stays under the MEGA threshold.
	require.NoError(t, h.orch.HandleTick(ctx, tick(btcKey, t0.Add(time.Minute), 1, 2_000_000_000_000)))
	assert.Empty(t, h.pub.on(TopicAlarm))

	info, err := h.orch.GetMarketCapInfo(ctx, "upbit", "krw-btc")
	require.NoError(t, err)
	assert.Equal(t, models.TierMega, info.Tier)
	_, calls := conn.counts()
	assert.Equal(t, 1, calls)
}

func TestGetMarketCapInfoFallsBackWithoutCaching(t *testing.T) {
	conn := &fakeConnector{id: "UPBIT", capErr: errors.New("boom")}
	h := newHarness(t, conn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		info, err := h.orch.GetMarketCapInfo(ctx, "UPBIT", "KRW-DOGE")
		assert.Error(t, err)
		assert.Equal(t, models.TierMedium, info.Tier)
	}
	_, calls := conn.counts()
	assert.Equal(t, 2, calls)

	_, err := h.orch.GetMarketCapInfo(ctx, "BITHUMB", "KRW-DOGE")
	assert.ErrorIs(t, err, domrepo.ErrUnknownExchange)
}

func primeCandles(end time.Time, n int, value float64) []models.CandleData {
	out := make([]models.CandleData, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, models.CandleData{MarketCode: "KRW-BTC", Timestamp: end.Add(-time.Duration(i) * time.Minute), Close: 100, AccTradeVolume: value})
	}
	return out
}

func TestAddFavoritePrimesAndPublishes(t *testing.T) {
	end := t0.Add(4 * time.Hour)
	conn := &fakeConnector{id: "UPBIT", candles: primeCandles(end, 240, 1_000_000)}
	favs := newMemFavorites()
	h := newHarness(t, conn, WithFavoriteStorage(favs))
	h.clock.Set(end)
	ctx := context.Background()

	require.NoError(t, h.orch.AddFavorite(ctx, "upbit", "krw-btc"))
	require.NoError(t, h.orch.AddFavorite(ctx, "UPBIT", "KRW-BTC"))

	require.Eventually(t, func() bool { return len(h.pub.on(TopicFavoriteUpdate)) == 1 }, time.Second, 5*time.Millisecond)
	w := h.pub.on(TopicFavoriteUpdate)[0].(models.WindowSnapshot)
	assert.True(t, w.Favorite)
	assert.InDelta(t, 60_000_000, w.Volume.H1, 1e-6)
	assert.Equal(t, []models.PairKey{btcKey}, h.orch.Favorites())
	assert.True(t, favs.has(btcKey))

	assert.ErrorIs(t, h.orch.AddFavorite(ctx, "BITHUMB", "KRW-BTC"), domrepo.ErrUnknownExchange)

	assert.True(t, h.orch.RemoveFavorite(ctx, "UPBIT", "KRW-BTC"))
	assert.False(t, h.orch.RemoveFavorite(ctx, "UPBIT", "KRW-BTC"))
	assert.Empty(t, h.orch.Favorites())
	assert.False(t, favs.has(btcKey))
	// History stays after deregistration.
	_, ok := h.store.Latest(btcKey)
	assert.True(t, ok)
}

func TestAddFavoriteDegradesWhenPrimingFails(t *testing.T) {
	conn := &fakeConnector{id: "UPBIT", candErr: errors.New("rate limited")}
	h := newHarness(t, conn)

	require.NoError(t, h.orch.AddFavorite(context.Background(), "UPBIT", "KRW-DOGE"))
	require.Eventually(t, func() bool { return len(h.pub.on(TopicFavoriteUpdate)) == 1 }, time.Second, 5*time.Millisecond)
	w := h.pub.on(TopicFavoriteUpdate)[0].(models.WindowSnapshot)
	assert.Equal(t, "KRW-DOGE", w.MarketCode)
	assert.True(t, w.Favorite)
	assert.Zero(t, w.Volume.H1)
}

func TestAddFavoritePrimingTimeoutKeepsFavorite(t *testing.T) {
	conn := &fakeConnector{id: "UPBIT", fetching: make(chan string, 1)}
	h := newHarnessWithConfig(t, OrchestratorConfig{PrimeTimeout: 50 * time.Millisecond}, conn)
	h.clock.Set(t0.Add(time.Minute))
	ctx := context.Background()

	require.NoError(t, h.orch.AddFavorite(ctx, "UPBIT", "KRW-DOGE"))
	select {
	case m := <-conn.fetching:
		assert.Equal(t, "KRW-DOGE", m)
	case <-time.After(time.Second):
		t.Fatal("candle fetch never started")
	}

	// Ticks for other pairs are not held up by the pending fetch.
	done := make(chan error, 1)
	go func() { done <- h.orch.HandleTick(ctx, tick(btcKey, t0, 95_000_000, 1)) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(25 * time.Millisecond):
		t.Fatal("HandleTick blocked behind priming")
	}
	assert.Empty(t, h.pub.on(TopicFavoriteUpdate))

	require.Eventually(t, func() bool { return len(h.pub.on(TopicFavoriteUpdate)) == 1 }, time.Second, 5*time.Millisecond)
	w := h.pub.on(TopicFavoriteUpdate)[0].(models.WindowSnapshot)
	assert.Equal(t, "KRW-DOGE", w.MarketCode)
	assert.True(t, w.Favorite)
	assert.Zero(t, w.Volume.M1)
	assert.Zero(t, w.Volume.H24)
	assert.Equal(t, models.TierMedium, w.Tier)
	assert.True(t, h.orch.IsFavorite(dogeKey))
}

func TestAddFavoriteAfterStopSkipsPriming(t *testing.T) {
	conn := &fakeConnector{id: "UPBIT", candles: primeCandles(t0, 10, 1)}
	h := newHarness(t, conn)
	eth := models.NewPairKey("UPBIT", "KRW-ETH")
	require.NoError(t, h.orch.Start(context.Background()))
	h.orch.Stop()

	require.NotPanics(t, func() {
		require.NoError(t, h.orch.AddFavorite(context.Background(), "UPBIT", "KRW-BTC"))
		require.NoError(t, h.orch.HandleTick(context.Background(), tick(eth, t0, 1, 1)))
	})
	assert.True(t, h.orch.IsFavorite(btcKey))
	h.orch.bg.Wait()
	assert.Empty(t, h.pub.on(TopicFavoriteUpdate))
	_, resolving := h.orch.resolving.Load(eth)
	assert.False(t, resolving)
	_, calls := conn.counts()
	assert.Zero(t, calls)
	assert.Error(t, h.orch.Start(context.Background()))
}

func TestStartConsumesStream(t *testing.T) {
	conn := &fakeConnector{id: "UPBIT", ticks: make(chan models.Snapshot, 4)}
	h := newHarness(t, conn)
	conn.ticks <- tick(btcKey, t0, 10, 100)
	conn.ticks <- tick(btcKey, t0.Add(2*time.Second), 11, 200)
	conn.ticks <- models.Snapshot{ExchangeID: "UPBIT"}

	require.NoError(t, h.orch.Start(context.Background()))
	assert.Error(t, h.orch.Start(context.Background()))

	require.Eventually(t, func() bool {
		s, ok := h.store.Latest(btcKey)
		return ok && s.CurrentPrice == 11
	}, time.Second, 5*time.Millisecond)
	h.orch.Stop()
}

func TestStreamIsResubscribedAfterClose(t *testing.T) {
	conn := &fakeConnector{id: "UPBIT"}
	h := newHarness(t, conn)

	require.NoError(t, h.orch.Start(context.Background()))
	assert.Eventually(t, func() bool {
		streams, _ := conn.counts()
		return streams >= 3
	}, time.Second, 5*time.Millisecond)
	h.orch.Stop()
}

func TestStartRestoresFavorites(t *testing.T) {
	eth := models.NewPairKey("UPBIT", "KRW-ETH")
	favs := newMemFavorites(eth, models.NewPairKey("BITHUMB", "KRW-XRP"))
	h := newHarness(t, &fakeConnector{id: "UPBIT"}, WithFavoriteStorage(favs))

	require.NoError(t, h.orch.Start(context.Background()))
	assert.Equal(t, []models.PairKey{eth}, h.orch.Favorites())
	assert.Eventually(t, func() bool { return len(h.pub.on(TopicFavoriteUpdate)) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEnqueueDropsOldest(t *testing.T) {
	h := newHarness(t, &fakeConnector{id: "UPBIT"})
	q := make(chan models.Snapshot, 2)
	for i := 1; i <= 3; i++ {
		h.orch.enqueue(q, "UPBIT", tick(btcKey, t0.Add(time.Duration(i)*time.Second), float64(i), 0))
	}
	require.Len(t, q, 2)
	assert.Equal(t, 2.0, (<-q).CurrentPrice)
	assert.Equal(t, 3.0, (<-q).CurrentPrice)
}

func TestSweepEvictsExpired(t *testing.T) {
	h := newHarness(t, &fakeConnector{id: "UPBIT"})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, h.orch.HandleTick(ctx, tick(btcKey, t0.Add(time.Duration(i)*time.Second), 1, float64(i))))
	}
	h.clock.Set(t0.Add(5 * time.Hour))
	assert.Positive(t, h.orch.Sweep())
	_, ok := h.store.Latest(btcKey)
	assert.False(t, ok)
}

func TestBroadcastTopByMinuteVolume(t *testing.T) {
	h := newHarness(t, &fakeConnector{id: "UPBIT"})
	h.clock.Set(t0.Add(time.Minute))
	eth := models.NewPairKey("UPBIT", "KRW-ETH")
	for _, p := range []struct {
		key models.PairKey
		vol float64
	}{{btcKey, 5_000_000}, {eth, 9_000_000}, {dogeKey, 0}} {
		h.store.Insert(tick(p.key, t0, 1, 0))
		h.store.Insert(tick(p.key, t0.Add(time.Minute), 1, p.vol))
	}

	b := NewMarketDataBroadcaster(h.orch, h.pub, nil, time.Second, 2)
	assert.Equal(t, 3, b.Broadcast())

	all := h.pub.on(TopicMarketData)
	require.Len(t, all, 1)
	assert.Len(t, all[0].([]models.WindowSnapshot), 3)

	top := h.pub.on(TopicTopMarketData)
	require.Len(t, top, 1)
	ws := top[0].([]models.WindowSnapshot)
	require.Len(t, ws, 2)
	assert.Equal(t, "KRW-ETH", ws[0].MarketCode)
	assert.Equal(t, "KRW-BTC", ws[1].MarketCode)
}
