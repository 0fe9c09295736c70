package di

import (
	"testing"

	"CoinAlarm/internal/domain/models"
	"CoinAlarm/internal/service/push"
	"CoinAlarm/internal/service/upbit"
	"CoinAlarm/pkg/config"
	"CoinAlarm/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct{ topics []string }

func (r *recordingPublisher) Publish(topic string, _ interface{}) { r.topics = append(r.topics, topic) }

func testConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func TestLogSinkForwardsOnceBound(t *testing.T) {
	sink := ProvideLogSink()
	sink.Publish("/topic/error-logs", "dropped")

	rec := &recordingPublisher{}
	sink.bind(rec)
	sink.Publish("/topic/error-logs", "kept")

	assert.Equal(t, []string{"/topic/error-logs"}, rec.topics)
}

func TestProvideEvaluatorMapsThresholds(t *testing.T) {
	cfg := testConfig(t, `
environment: test
upbit:
  enabled: true
alarm:
  default_thresholds:
    mega: 5
  custom_thresholds:
    - { exchange: UPBIT, market: KRW-BTC, amount: 7 }
`)
	eval, err := ProvideEvaluator(cfg)
	require.NoError(t, err)

	assert.Equal(t, 7.0, eval.ResolveThreshold("UPBIT", "KRW-BTC", models.TierMega))
	assert.Equal(t, 5.0, eval.ResolveThreshold("UPBIT", "KRW-ETH", models.TierMega))
}

func TestProvideEvaluatorRejectsUnknownTier(t *testing.T) {
	cfg := testConfig(t, `
environment: test
upbit:
  enabled: true
alarm:
  default_thresholds:
    GIANT: 5
`)
	_, err := ProvideEvaluator(cfg)
	require.Error(t, err)
}

func TestDisabledInfrastructureIsNil(t *testing.T) {
	cfg := testConfig(t, "environment: test\nupbit:\n  enabled: true\n")

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)

	consumer, err := ProvideKafkaConsumer(cfg, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, consumer)

	rc, err := ProvideRedis(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)
	assert.Nil(t, ProvideFavoriteStorage(cfg, rc))
	assert.NotNil(t, ProvideMarketCapCache(cfg, rc))

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)
	storage, err := ProvideAlarmStorage(cfg, ch)
	require.NoError(t, err)
	assert.Nil(t, storage)
	assert.Nil(t, ProvideAlarmPipeline(cfg, storage, nil, logger.NewNop()))
}

func TestProvideConnectorsSkipsDisabled(t *testing.T) {
	cfg := testConfig(t, "environment: test\nupbit:\n  enabled: true\n")

	up := ProvideUpbitConnector(cfg, logger.NewNop())
	require.NotNil(t, up)
	conns := ProvideConnectors(up, nil)
	require.Len(t, conns, 1)
	assert.Equal(t, upbit.ExchangeID, conns[0].ID())

	assert.Empty(t, ProvideConnectors(nil, nil))
}

func TestProvideResultPublisherBindsSink(t *testing.T) {
	cfg := testConfig(t, "environment: test\nupbit:\n  enabled: true\n")
	sink := ProvideLogSink()
	hub := push.NewHub(logger.NewNop(), nil)
	defer hub.Close()

	pub := ProvideResultPublisher(cfg, hub, nil, sink, logger.NewNop(), nil)
	require.NotNil(t, pub)
	require.NotNil(t, sink.pub.Load())
	assert.Equal(t, pub, *sink.pub.Load())
	assert.Equal(t, 0, hub.ClientCount())
}

func TestProvideSnapshotStoreUsesConfiguredTiers(t *testing.T) {
	cfg := testConfig(t, "environment: test\nupbit:\n  enabled: true\n")
	store, err := ProvideSnapshotStore(cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
}
