package di

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/internal/handler/api"
	mid "CoinAlarm/internal/middleware"
	"CoinAlarm/internal/repository"
	"CoinAlarm/internal/service/alarm"
	"CoinAlarm/internal/service/push"
	"CoinAlarm/internal/service/ratelimit"
	"CoinAlarm/internal/service/relay"
	"CoinAlarm/internal/service/snapshot"
	"CoinAlarm/internal/service/upbit"
	"CoinAlarm/internal/usecase"
	"CoinAlarm/pkg/cache"
	pkgch "CoinAlarm/pkg/clickhouse"
	"CoinAlarm/pkg/config"
	xhttp "CoinAlarm/pkg/http"
	pkgkafka "CoinAlarm/pkg/kafka"
	"CoinAlarm/pkg/logger"
	"CoinAlarm/pkg/metrics"
	"CoinAlarm/pkg/server"
)

// LogSink forwards collected error logs to the result publisher, which is
// built after the logger.
type LogSink struct {
	pub atomic.Pointer[domrepo.ResultPublisher]
}

func (s *LogSink) Publish(topic string, payload interface{}) {
	if p := s.pub.Load(); p != nil {
		(*p).Publish(topic, payload)
	}
}

func (s *LogSink) bind(p domrepo.ResultPublisher) { s.pub.Store(&p) }

func ProvideLogSink() *LogSink { return &LogSink{} }

// ProvideLogger builds the root logger and, when a collect topic is set,
// aggregates error entries onto it.
func ProvideLogger(cfg *config.Config, sink *LogSink) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.CollectTopic != "" {
		l.AttachCollector(&logger.CollectionConfig{
			FlushInterval:  30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Log.CollectTopic,
			Publisher:      sink,
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

func ProvideMetrics() domrepo.Metrics {
	return metrics.New(nil)
}

// ProvideSnapshotStore builds the tier cascade from engine.tiers.
func ProvideSnapshotStore(cfg *config.Config) (*snapshot.Store, error) {
	tiers := make([]snapshot.Tier, 0, len(cfg.Engine.Tiers))
	for _, t := range cfg.Engine.Tiers {
		tiers = append(tiers, snapshot.Tier{Name: t.Name, Interval: t.Interval, Retention: t.Retention})
	}
	return snapshot.NewStore(tiers)
}

func ProvideRollingWindowCalculator(store *snapshot.Store) *usecase.RollingWindowCalculator {
	return usecase.NewRollingWindowCalculator(store, time.Now)
}

func ProvideEvaluator(cfg *config.Config) (*alarm.Evaluator, error) {
	defaults := make(map[models.MarketCapTier]float64, len(cfg.Alarm.DefaultThresholds))
	for name, v := range cfg.Alarm.DefaultThresholds {
		tier, err := models.ParseMarketCapTier(name)
		if err != nil {
			return nil, fmt.Errorf("alarm.default_thresholds: %w", err)
		}
		defaults[tier] = v
	}
	custom := make([]alarm.CustomThreshold, 0, len(cfg.Alarm.CustomThresholds))
	for _, ct := range cfg.Alarm.CustomThresholds {
		custom = append(custom, alarm.CustomThreshold{ExchangeID: ct.Exchange, MarketCode: ct.Market, Threshold: ct.Amount})
	}
	return alarm.NewEvaluator(alarm.Config{
		Cooldown:          cfg.Alarm.Cooldown,
		Defaults:          defaults,
		Custom:            custom,
		DisabledExchanges: cfg.Alarm.DisabledExchanges,
	})
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	p, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return p, nil
}

// ProvideKafkaConsumer returns nil unless the relay is enabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Relay.Enabled {
		return nil, nil
	}
	c, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(1),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return c, nil
}

func ProvidePushHub(log *logger.Logger, m domrepo.Metrics) *push.Hub {
	return push.NewHub(log, m)
}

// ProvideResultPublisher fans results out to websocket clients and, when
// Kafka is enabled, to Kafka. It also binds the log sink.
func ProvideResultPublisher(cfg *config.Config, hub *push.Hub, producer *pkgkafka.Producer, sink *LogSink, log *logger.Logger, m domrepo.Metrics) domrepo.ResultPublisher {
	pubs := []domrepo.ResultPublisher{hub}
	if producer != nil {
		pubs = append(pubs, repository.NewKafkaPublisher(producer, cfg.Kafka.TopicPrefix, log, m))
	}
	pub := repository.NewFanoutPublisher(pubs...)
	sink.bind(pub)
	return pub
}

// ProvideRedis returns nil when Redis is disabled.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

func ProvideFavoriteStorage(cfg *config.Config, rc *cache.RedisCache) domrepo.FavoriteStorage {
	if rc == nil {
		return nil
	}
	return repository.NewRedisFavoriteStorage(rc.Client(), cfg.Redis.Prefix)
}

// ProvideMarketCapCache layers an in-process cache over Redis, or uses the
// in-process cache alone.
func ProvideMarketCapCache(cfg *config.Config, rc *cache.RedisCache) domrepo.MarketCapCache {
	var svc cache.Service
	if rc != nil {
		svc = cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(4096),
			cache.WithLayeredMemoryTTL(5*time.Minute),
		)
	} else {
		svc = cache.NewMemoryCache(cache.WithMemoryMaxSize(4096))
	}
	return repository.NewMarketCapCache(svc, cfg.Alarm.MarketCapTTL)
}

// ProvideClickHouseClient returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideAlarmStorage creates the alarm table and returns nil without
// ClickHouse.
func ProvideAlarmStorage(cfg *config.Config, client *pkgch.Client) (domrepo.AlarmStorage, error) {
	if client == nil {
		return nil, nil
	}
	store, err := repository.NewClickHouseAlarmStorage(client.DB(), cfg.ClickHouse.AlarmTable)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, store.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

func ProvideAlarmPipeline(cfg *config.Config, store domrepo.AlarmStorage, m domrepo.Metrics, log *logger.Logger) *mid.AlarmPipeline {
	if store == nil {
		return nil
	}
	return mid.NewAlarmPipeline(store, m, log, mid.WithBufferSize(cfg.ClickHouse.BufferSize))
}

func ProvideUpbitConnector(cfg *config.Config, log *logger.Logger) *upbit.Connector {
	if !cfg.Upbit.Enabled {
		return nil
	}
	return upbit.New(upbit.Config{
		RESTURL:           cfg.Upbit.RESTURL,
		WebSocketURL:      cfg.Upbit.WebSocketURL,
		Markets:           cfg.Upbit.Markets,
		RequestsPerSecond: cfg.Upbit.RequestsPerSecond,
		RequestTimeout:    cfg.Upbit.RequestTimeout,
		PingInterval:      cfg.Upbit.PingInterval,
		ReconnectMin:      cfg.Upbit.ReconnectMin,
		ReconnectMax:      cfg.Upbit.ReconnectMax,
		MarketCaps:        cfg.Upbit.MarketCaps,
	}, log)
}

func ProvideRelayConnector(cfg *config.Config, consumer *pkgkafka.Consumer, log *logger.Logger, m domrepo.Metrics) (*relay.Connector, error) {
	if consumer == nil {
		return nil, nil
	}
	return relay.New(relay.Config{
		ExchangeID: cfg.Relay.ExchangeID,
		Topic:      cfg.Relay.Topic,
		MarketCaps: cfg.Relay.MarketCaps,
		BufferSize: cfg.Kafka.Consumer.BufferSize,
	}, consumer, log, m)
}

func ProvideConnectors(up *upbit.Connector, rl *relay.Connector) []domrepo.ExchangeConnector {
	var out []domrepo.ExchangeConnector
	if up != nil {
		out = append(out, up)
	}
	if rl != nil {
		out = append(out, rl)
	}
	return out
}

// ProvideOrchestrator attaches only the optional stores that are enabled.
func ProvideOrchestrator(
	cfg *config.Config,
	log *logger.Logger,
	store *snapshot.Store,
	calc *usecase.RollingWindowCalculator,
	eval *alarm.Evaluator,
	pub domrepo.ResultPublisher,
	connectors []domrepo.ExchangeConnector,
	pipeline *mid.AlarmPipeline,
	favorites domrepo.FavoriteStorage,
	caps domrepo.MarketCapCache,
	m domrepo.Metrics,
) *usecase.Orchestrator {
	opts := []usecase.OrchestratorOption{
		usecase.WithMetrics(m),
		usecase.WithMarketCapCache(caps),
	}
	if pipeline != nil {
		opts = append(opts, usecase.WithAlarmRecorder(pipeline))
	}
	if favorites != nil {
		opts = append(opts, usecase.WithFavoriteStorage(favorites))
	}
	return usecase.NewOrchestrator(usecase.OrchestratorConfig{
		QueueSize:            cfg.Engine.QueueSize,
		EvictionInterval:     cfg.Engine.EvictionInterval,
		PrimeCandles:         cfg.Engine.Priming.Candles,
		PrimeIntervalMinutes: cfg.Engine.Priming.IntervalMinutes,
		PrimeTimeout:         cfg.Engine.Priming.Timeout,
		RestartMin:           cfg.Upbit.ReconnectMin,
		RestartMax:           cfg.Upbit.ReconnectMax,
	}, log, store, calc, eval, pub, connectors, opts...)
}

func ProvideBroadcaster(cfg *config.Config, orch *usecase.Orchestrator, pub domrepo.ResultPublisher, log *logger.Logger) *usecase.MarketDataBroadcaster {
	return usecase.NewMarketDataBroadcaster(orch, pub, log, cfg.Engine.BroadcastInterval, cfg.Engine.TopN)
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.AdminRPS, int(cfg.Server.AdminBurst))
}

// ProvideHTTPServer mounts the rate-limited admin API, alarm history and
// the push hub.
func ProvideHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	orch *usecase.Orchestrator,
	eval *alarm.Evaluator,
	storage domrepo.AlarmStorage,
	hub *push.Hub,
	limiter *ratelimit.Limiter,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *xhttp.Server {
	history := api.NewHistoryHandler(log, storage, orch)
	if ch != nil {
		history.AddCheck("clickhouse", ch.Health)
	}
	if rc != nil {
		history.AddCheck("redis", rc.Ping)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(log,
		[]xhttp.Handler{
			api.NewAlarmHandler(log, orch, eval, limiter.Middleware()),
			history,
			hub,
		},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

func ProvideApp(cfg *config.Config, log *logger.Logger, c server.Components) *server.App {
	return server.New(cfg, log, c)
}
