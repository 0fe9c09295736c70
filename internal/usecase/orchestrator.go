package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/internal/service/alarm"
	"CoinAlarm/internal/service/snapshot"
	"CoinAlarm/pkg/logger"
)

// OrchestratorConfig tunes ingestion and priming. Zero fields take defaults.
type OrchestratorConfig struct {
	QueueSize            int
	EvictionInterval     time.Duration
	PrimeCandles         int
	PrimeIntervalMinutes int
	PrimeTimeout         time.Duration
	RestartMin           time.Duration
	RestartMax           time.Duration
	MarketCapTimeout     time.Duration
}

func (c *OrchestratorConfig) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = time.Minute
	}
	if c.PrimeCandles <= 0 {
		c.PrimeCandles = 240
	}
	if c.PrimeIntervalMinutes <= 0 {
		c.PrimeIntervalMinutes = 1
	}
	if c.PrimeTimeout <= 0 {
		c.PrimeTimeout = 30 * time.Second
	}
	if c.RestartMin <= 0 {
		c.RestartMin = time.Second
	}
	if c.RestartMax < c.RestartMin {
		c.RestartMax = 30 * time.Second
	}
	if c.MarketCapTimeout <= 0 {
		c.MarketCapTimeout = 10 * time.Second
	}
}

// OrchestratorOption customises an Orchestrator at construction.
type OrchestratorOption func(*Orchestrator)

// WithAlarmRecorder persists every emitted alarm.
func WithAlarmRecorder(r domrepo.AlarmRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithFavoriteStorage persists favorites and restores them on Start.
func WithFavoriteStorage(s domrepo.FavoriteStorage) OrchestratorOption {
	return func(o *Orchestrator) { o.favStore = s }
}

// WithMarketCapCache adds a shared cache behind the in-process tier map.
func WithMarketCapCache(c domrepo.MarketCapCache) OrchestratorOption {
	return func(o *Orchestrator) { o.capCache = c }
}

func WithMetrics(m domrepo.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock replaces time.Now for cooldowns, eviction and window ages.
func WithClock(clock func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Orchestrator runs one ingestion worker per connector and owns the
// favorites registry and market-cap tier resolution.
type Orchestrator struct {
	cfg        OrchestratorConfig
	log        *logger.Logger
	store      *snapshot.Store
	calc       *RollingWindowCalculator
	eval       *alarm.Evaluator
	pub        domrepo.ResultPublisher
	connectors map[string]domrepo.ExchangeConnector
	order      []string

	recorder domrepo.AlarmRecorder
	favStore domrepo.FavoriteStorage
	capCache domrepo.MarketCapCache
	metrics  domrepo.Metrics
	clock    func() time.Time

	caps      sync.Map // models.PairKey -> models.MarketCapInfo
	resolving sync.Map // models.PairKey -> struct{}
	favorites sync.Map // models.PairKey -> time.Time

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	stopped bool
	workers sync.WaitGroup
	bg      sync.WaitGroup
}

// NewOrchestrator wires the engine. Connectors with a duplicate ID are
// ignored after the first; nothing runs until Start.
func NewOrchestrator(
	cfg OrchestratorConfig,
	log *logger.Logger,
	store *snapshot.Store,
	calc *RollingWindowCalculator,
	eval *alarm.Evaluator,
	pub domrepo.ResultPublisher,
	connectors []domrepo.ExchangeConnector,
	opts ...OrchestratorOption,
) *Orchestrator {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		log:        log.Named("orchestrator"),
		store:      store,
		calc:       calc,
		eval:       eval,
		pub:        pub,
		connectors: make(map[string]domrepo.ExchangeConnector, len(connectors)),
		metrics:    nopMetrics{},
		clock:      time.Now,
		baseCtx:    context.Background(),
	}
	for _, c := range connectors {
		id := strings.ToUpper(c.ID())
		if _, dup := o.connectors[id]; dup {
			continue
		}
		o.connectors[id] = c
		o.order = append(o.order, id)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start restores favorites and launches the connector workers and the
// eviction sweep. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil || o.stopped {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	o.baseCtx, o.cancel = ctx, cancel
	o.mu.Unlock()

	o.restoreFavorites(ctx)

	for _, id := range o.order {
		c := o.connectors[id]
		o.workers.Add(1)
		go func() {
			defer o.workers.Done()
			o.runConnector(ctx, c)
		}()
	}
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		o.evictionLoop(ctx)
	}()
	o.log.Info("orchestrator started", logger.Strings("connectors", o.order))
	return nil
}

// Stop cancels every worker and waits for them to exit. Background work
// requested after Stop is not started.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.workers.Wait()
	o.bg.Wait()
}

// background reports false once Stop has been called. The Add happens
// under mu so it cannot race the Wait in Stop.
func (o *Orchestrator) background(fn func(ctx context.Context)) bool {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return false
	}
	ctx := o.baseCtx
	o.bg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.bg.Done()
		fn(ctx)
	}()
	return true
}

// Connector looks up a connector by case-insensitive exchange ID.
func (o *Orchestrator) Connector(exchangeID string) (domrepo.ExchangeConnector, bool) {
	c, ok := o.connectors[strings.ToUpper(exchangeID)]
	return c, ok
}

// Exchanges returns connector IDs in registration order.
func (o *Orchestrator) Exchanges() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

func (o *Orchestrator) runConnector(ctx context.Context, c domrepo.ExchangeConnector) {
	id := strings.ToUpper(c.ID())
	log := o.log.With(logger.String("exchange", id))
	backoff := o.cfg.RestartMin
	for {
		ticks, errs := c.StreamTicks(ctx)
		n := o.consume(ctx, id, ticks, errs)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			backoff = o.cfg.RestartMin
		}
		o.metrics.RecordError("stream_closed")
		log.Warn("tick stream closed, resubscribing", logger.Int("processed", n), logger.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, o.cfg.RestartMax)
	}
}

// consume pumps one stream into a bounded queue drained by a single
// worker. When the queue is full the oldest tick is dropped.
func (o *Orchestrator) consume(ctx context.Context, exchangeID string, ticks <-chan models.Snapshot, errs <-chan error) int {
	queue := make(chan models.Snapshot, o.cfg.QueueSize)
	done := make(chan struct{})
	processed := 0
	go func() {
		defer close(done)
		for snap := range queue {
			if o.HandleTick(ctx, snap) == nil {
				processed++
			}
		}
	}()

	for ticks != nil && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case snap, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			o.enqueue(queue, exchangeID, snap)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			o.metrics.RecordError("stream")
			o.log.Warn("tick stream error", logger.String("exchange", exchangeID), logger.Error(err))
		}
	}
	close(queue)
	<-done
	return processed
}

func (o *Orchestrator) enqueue(queue chan models.Snapshot, exchangeID string, snap models.Snapshot) {
	select {
	case queue <- snap:
		return
	default:
	}
	select {
	case <-queue:
		o.metrics.RecordDroppedTick(exchangeID, "queue_full")
	default:
	}
	select {
	case queue <- snap:
	default:
		o.metrics.RecordDroppedTick(exchangeID, "queue_full")
	}
}

func validateTick(s models.Snapshot) error {
	switch {
	case s.ExchangeID == "" || s.MarketCode == "":
		return fmt.Errorf("%w: missing pair", domrepo.ErrMalformedTick)
	case s.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", domrepo.ErrMalformedTick)
	case math.IsNaN(s.CurrentPrice) || math.IsInf(s.CurrentPrice, 0) || s.CurrentPrice <= 0:
		return fmt.Errorf("%w: price %v", domrepo.ErrMalformedTick, s.CurrentPrice)
	case math.IsNaN(s.Rolling24hVolume) || math.IsInf(s.Rolling24hVolume, 0) || s.Rolling24hVolume < 0:
		return fmt.Errorf("%w: volume %v", domrepo.ErrMalformedTick, s.Rolling24hVolume)
	}
	return nil
}

// HandleTick runs one snapshot through validate, insert, rolling volume,
// tier lookup, evaluation and publication.
func (o *Orchestrator) HandleTick(ctx context.Context, snap models.Snapshot) error {
	if err := validateTick(snap); err != nil {
		o.metrics.RecordDroppedTick(snap.ExchangeID, "malformed")
		o.log.Debug("dropping tick", logger.String("tick", snap.String()), logger.Error(err))
		return err
	}
	start := time.Now()
	key := models.NewPairKey(snap.ExchangeID, snap.MarketCode)
	snap.ExchangeID, snap.MarketCode = key.ExchangeID, key.MarketCode

	o.store.Insert(snap)
	o.metrics.RecordTick(key.ExchangeID)
	o.metrics.RecordLastPrice(key.ExchangeID, key.MarketCode, snap.CurrentPrice)

	volume := o.calc.RollingVolume(key, 1)
	tier := o.tierFor(key)
	now := o.clock()
	res := o.eval.Evaluate(key.ExchangeID, key.MarketCode, tier, volume, now)
	o.metrics.RecordAlarm(key.ExchangeID, res.Decision.String())

	if res.Emit() {
		ev := alarm.NewEvent(snap, tier, volume, res.Threshold, now)
		o.pub.Publish(TopicAlarm, ev)
		o.log.Info("alarm emitted",
			logger.String("pair", key.String()),
			logger.String("tier", string(tier)),
			logger.Float64("volume", volume),
			logger.Float64("threshold", res.Threshold))
		if o.recorder != nil {
			if err := o.recorder.Record(ctx, ev); err != nil {
				o.metrics.RecordError("alarm_record")
				o.log.Warn("alarm not recorded", logger.String("id", ev.ID), logger.Error(err))
			}
		}
	}
	o.metrics.RecordLatency("handle_tick", time.Since(start).Seconds())
	return nil
}

// tierFor never blocks: unknown pairs are resolved in the background and
// classified MEDIUM until the resolution lands.
func (o *Orchestrator) tierFor(key models.PairKey) models.MarketCapTier {
	if v, ok := o.caps.Load(key); ok {
		return v.(models.MarketCapInfo).Tier
	}
	if _, busy := o.resolving.LoadOrStore(key, struct{}{}); !busy {
		started := o.background(func(ctx context.Context) {
			defer o.resolving.Delete(key)
			ctx, cancel := context.WithTimeout(ctx, o.cfg.MarketCapTimeout)
			defer cancel()
			_, _ = o.GetMarketCapInfo(ctx, key.ExchangeID, key.MarketCode)
		})
		if !started {
			o.resolving.Delete(key)
		}
	}
	return models.TierMedium
}

// GetMarketCapInfo is a read-through lookup: in-process map, then the
// shared cache, then the connector. A failed fetch yields MEDIUM and is
// not cached.
func (o *Orchestrator) GetMarketCapInfo(ctx context.Context, exchangeID, marketCode string) (models.MarketCapInfo, error) {
	key := models.NewPairKey(exchangeID, marketCode)
	if v, ok := o.caps.Load(key); ok {
		return v.(models.MarketCapInfo), nil
	}
	if o.capCache != nil {
		info, ok, err := o.capCache.Get(ctx, key)
		if err != nil {
			o.log.Warn("market cap cache read failed", logger.String("pair", key.String()), logger.Error(err))
		} else if ok && info.Tier.Valid() {
			o.caps.Store(key, info)
			return info, nil
		}
	}

	fallback := models.MarketCapInfo{MarketCode: key.MarketCode, Tier: models.TierMedium}
	c, ok := o.connectors[key.ExchangeID]
	if !ok {
		return fallback, fmt.Errorf("market cap %s: %w", key, domrepo.ErrUnknownExchange)
	}
	start := time.Now()
	info, err := c.FetchMarketCap(ctx, key.MarketCode)
	o.metrics.RecordLatency("fetch_market_cap", time.Since(start).Seconds())
	if err != nil {
		o.metrics.RecordError("market_cap")
		o.log.Warn("market cap fetch failed, using MEDIUM", logger.String("pair", key.String()), logger.Error(err))
		return fallback, fmt.Errorf("market cap %s: %w", key, err)
	}
	if info.MarketCode == "" {
		info.MarketCode = key.MarketCode
	}
	if !info.Tier.Valid() {
		info.Tier = models.TierFromMarketCap(info.MarketCap)
	}
	o.caps.Store(key, info)
	if o.capCache != nil {
		if err := o.capCache.Set(ctx, key, info); err != nil {
			o.log.Warn("market cap cache write failed", logger.String("pair", key.String()), logger.Error(err))
		}
	}
	return info, nil
}

// AddFavorite registers the pair and primes its history in the background.
// Adding an existing favorite is a no-op.
func (o *Orchestrator) AddFavorite(ctx context.Context, exchangeID, marketCode string) error {
	key := models.NewPairKey(exchangeID, marketCode)
	if key.MarketCode == "" {
		return fmt.Errorf("add favorite: %w: empty market code", domrepo.ErrMalformedTick)
	}
	c, ok := o.connectors[key.ExchangeID]
	if !ok {
		return fmt.Errorf("add favorite %s: %w", key, domrepo.ErrUnknownExchange)
	}
	if _, loaded := o.favorites.LoadOrStore(key, o.clock()); loaded {
		return nil
	}
	if o.favStore != nil {
		if err := o.favStore.Add(ctx, key); err != nil {
			o.log.Warn("favorite not persisted", logger.String("pair", key.String()), logger.Error(err))
		}
	}
	o.store.Pair(key)
	if !o.background(func(ctx context.Context) { o.prime(ctx, c, key) }) {
		o.log.Debug("orchestrator stopped, priming skipped", logger.String("pair", key.String()))
	}
	o.log.Info("favorite added", logger.String("pair", key.String()))
	return nil
}

func (o *Orchestrator) prime(ctx context.Context, c domrepo.ExchangeConnector, key models.PairKey) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PrimeTimeout)
	defer cancel()
	log := o.log.With(logger.String("pair", key.String()))

	start := time.Now()
	candles, err := c.FetchHistoricalCandles(ctx, key.MarketCode, o.cfg.PrimeIntervalMinutes, o.cfg.PrimeCandles)
	switch {
	case err != nil:
		o.metrics.RecordError("priming")
		log.Warn("priming failed, continuing unprimed", logger.Error(err))
	default:
		n := o.store.PrimeFrom(key, candles)
		o.metrics.RecordLatency("prime", time.Since(start).Seconds())
		log.Info("primed from candles", logger.Int("candles", len(candles)), logger.Int("inserted", n))
	}

	w, ok := o.Window(key)
	if !ok {
		w = models.WindowSnapshot{ExchangeID: key.ExchangeID, MarketCode: key.MarketCode, Tier: models.TierMedium, Favorite: true}
	}
	o.pub.Publish(TopicFavoriteUpdate, w)
}

// RemoveFavorite only deregisters; stored history is left to age out.
func (o *Orchestrator) RemoveFavorite(ctx context.Context, exchangeID, marketCode string) bool {
	key := models.NewPairKey(exchangeID, marketCode)
	_, existed := o.favorites.LoadAndDelete(key)
	if o.favStore != nil {
		if err := o.favStore.Remove(ctx, key); err != nil {
			o.log.Warn("favorite removal not persisted", logger.String("pair", key.String()), logger.Error(err))
		}
	}
	return existed
}

func (o *Orchestrator) IsFavorite(key models.PairKey) bool {
	_, ok := o.favorites.Load(key)
	return ok
}

// Favorites returns the registered pairs sorted by exchange then market.
func (o *Orchestrator) Favorites() []models.PairKey {
	var out []models.PairKey
	o.favorites.Range(func(k, _ any) bool {
		out = append(out, k.(models.PairKey))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExchangeID != out[j].ExchangeID {
			return out[i].ExchangeID < out[j].ExchangeID
		}
		return out[i].MarketCode < out[j].MarketCode
	})
	return out
}

func (o *Orchestrator) restoreFavorites(ctx context.Context) {
	if o.favStore == nil {
		return
	}
	keys, err := o.favStore.List(ctx)
	if err != nil {
		o.log.Warn("favorites not restored", logger.Error(err))
		return
	}
	restored := 0
	for _, key := range keys {
		c, ok := o.connectors[key.ExchangeID]
		if !ok {
			continue
		}
		if _, loaded := o.favorites.LoadOrStore(key, o.clock()); loaded {
			continue
		}
		o.store.Pair(key)
		o.background(func(ctx context.Context) { o.prime(ctx, c, key) })
		restored++
	}
	o.log.Info("favorites restored", logger.Int("count", restored))
}

// Window returns the rolling windows of a pair decorated with its tier and
// favorite flag.
func (o *Orchestrator) Window(key models.PairKey) (models.WindowSnapshot, bool) {
	w, ok := o.calc.Window(key)
	if !ok {
		return w, false
	}
	w.Tier = models.TierMedium
	if v, found := o.caps.Load(key); found {
		w.Tier = v.(models.MarketCapInfo).Tier
	}
	w.Favorite = o.IsFavorite(key)
	return w, true
}

// Windows returns the windows of every pair in the store.
func (o *Orchestrator) Windows() []models.WindowSnapshot {
	keys := o.store.Keys()
	out := make([]models.WindowSnapshot, 0, len(keys))
	for _, k := range keys {
		if w, ok := o.Window(k); ok {
			out = append(out, w)
		}
	}
	return out
}

// Sweep runs one eviction pass and returns the number of removed entries.
func (o *Orchestrator) Sweep() int {
	n := o.store.EvictExpired(o.clock())
	o.metrics.RecordEvicted(n)
	o.metrics.SetPairs(o.store.Len())
	return n
}

func (o *Orchestrator) evictionLoop(ctx context.Context) {
	t := time.NewTicker(o.cfg.EvictionInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := o.Sweep(); n > 0 {
				o.log.Debug("evicted expired snapshots", logger.Int("removed", n))
			}
		}
	}
}
