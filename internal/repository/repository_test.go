package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/pkg/cache"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	topic string
	key   string
	value interface{}
}

type fakeProducer struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{topic: topic, key: string(key), value: value})
	return p.err
}

func TestKafkaTopic(t *testing.T) {
	assert.Equal(t, "coinalarm.alarm", KafkaTopic("coinalarm", "/topic/alarm"))
	assert.Equal(t, "coinalarm.top-5-market-data", KafkaTopic("coinalarm", "/topic/top-5-market-data"))
	assert.Equal(t, "favoriteUpdate", KafkaTopic("", "/topic/favoriteUpdate"))
}

func TestKafkaPublisher_KeysByPair(t *testing.T) {
	prod := &fakeProducer{}
	pub := NewKafkaPublisher(prod, "coinalarm", nil, nil)

	e := &models.AlarmEvent{ID: "1", ExchangeID: "UPBIT", MarketCode: "KRW-BTC"}
	pub.Publish("/topic/alarm", e)
	pub.Publish("/topic/market-data", []models.WindowSnapshot{})

	require.Len(t, prod.sent, 2)
	assert.Equal(t, "coinalarm.alarm", prod.sent[0].topic)
	assert.Equal(t, "UPBIT/KRW-BTC", prod.sent[0].key)
	assert.Same(t, e, prod.sent[0].value)
	assert.Empty(t, prod.sent[1].key)
}

func TestKafkaPublisher_SwallowsErrors(t *testing.T) {
	prod := &fakeProducer{err: errors.New("broker down")}
	pub := NewKafkaPublisher(prod, "coinalarm", nil, nil)
	assert.NotPanics(t, func() { pub.Publish("/topic/alarm", "x") })
}

type countingPublisher struct{ topics []string }

func (c *countingPublisher) Publish(topic string, _ interface{}) { c.topics = append(c.topics, topic) }

func TestFanoutPublisher(t *testing.T) {
	a, b := &countingPublisher{}, &countingPublisher{}
	f := NewFanoutPublisher(a, nil, b)
	require.Len(t, f, 2)

	f.Publish("/topic/alarm", 1)
	assert.Equal(t, []string{"/topic/alarm"}, a.topics)
	assert.Equal(t, []string{"/topic/alarm"}, b.topics)
}

func TestParsePairKey(t *testing.T) {
	k, ok := ParsePairKey("upbit/krw-btc")
	require.True(t, ok)
	assert.Equal(t, models.NewPairKey("UPBIT", "KRW-BTC"), k)

	for _, bad := range []string{"", "UPBIT", "/KRW-BTC", "UPBIT/"} {
		_, ok := ParsePairKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestMarketCapCache(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	c := NewMarketCapCache(mem, time.Minute)
	ctx := context.Background()
	key := models.NewPairKey("UPBIT", "KRW-BTC")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	info := models.MarketCapInfo{MarketCode: "KRW-BTC", MarketCap: 2.5e15, Tier: models.TierMega}
	require.NoError(t, c.Set(ctx, key, info))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, info, got)
}

func TestClickHouseAlarmStorage_TableName(t *testing.T) {
	_, err := NewClickHouseAlarmStorage(nil, "alarms; DROP TABLE x")
	assert.Error(t, err)

	s, err := NewClickHouseAlarmStorage(nil, "coinalarm.alarm_events")
	require.NoError(t, err)
	require.Len(t, s.Schema(), 1)
	assert.Contains(t, s.Schema()[0], "CREATE TABLE IF NOT EXISTS coinalarm.alarm_events")
}

func TestClickHouseAlarmStorage_RecentQuery(t *testing.T) {
	s, err := NewClickHouseAlarmStorage(nil, "alarm_events")
	require.NoError(t, err)
	since := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	q, args := s.recentQuery(domrepo.AlarmFilter{ExchangeID: "upbit", MarketCode: "krw-btc", Since: since, Limit: 20})
	assert.Equal(t, "SELECT "+alarmColumns+" FROM alarm_events WHERE exchange = ? AND market = ? AND ts >= ? ORDER BY ts DESC LIMIT ?", q)
	assert.Equal(t, []interface{}{"UPBIT", "KRW-BTC", since, 20}, args)

	q, args = s.recentQuery(domrepo.AlarmFilter{})
	assert.Equal(t, "SELECT "+alarmColumns+" FROM alarm_events ORDER BY ts DESC LIMIT ?", q)
	assert.Equal(t, []interface{}{100}, args)
}

func TestRedisFavoriteStorage_Integration(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	client := redis.NewClient(&redis.Options{Addr: host + ":6379"})
	defer client.Close()
	ctx := context.Background()
	s := NewRedisFavoriteStorage(client, "coinalarm-test-"+time.Now().Format("150405.000"))
	defer client.Del(ctx, s.key)

	btc, eth := models.NewPairKey("UPBIT", "KRW-BTC"), models.NewPairKey("UPBIT", "KRW-ETH")
	require.NoError(t, s.Add(ctx, eth))
	require.NoError(t, s.Add(ctx, btc))
	require.NoError(t, s.Add(ctx, btc))

	got, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PairKey{btc, eth}, got)

	require.NoError(t, s.Remove(ctx, btc))
	got, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PairKey{eth}, got)
}
