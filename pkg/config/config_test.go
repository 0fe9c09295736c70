package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
environment: test
upbit:
  enabled: true
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	require.Len(t, c.Engine.Tiers, 3)
	assert.Equal(t, time.Second, c.Engine.Tiers[0].Interval)
	assert.Equal(t, 5*time.Minute, c.Engine.Tiers[0].Retention)
	assert.Equal(t, 4*time.Hour, c.Engine.Tiers[2].Retention)
	assert.Equal(t, time.Minute, c.Engine.EvictionInterval)
	assert.Equal(t, 240, c.Engine.Priming.Candles)
	assert.Equal(t, 3*time.Second, c.Alarm.Cooldown)
	assert.Equal(t, "https://api.upbit.com/v1", c.Upbit.RESTURL)
}

func TestParseRejectsNonNestedTiers(t *testing.T) {
	doc := `
environment: test
upbit:
  enabled: true
engine:
  tiers:
    - { name: t1, interval: 10s, retention: 5m }
    - { name: t2, interval: 1s, retention: 1h }
    - { name: t3, interval: 60s, retention: 4h }
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increase")
}

func TestParseRejectsNegativeThreshold(t *testing.T) {
	doc := `
environment: test
upbit:
  enabled: true
alarm:
  default_thresholds:
    MEGA: -1
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestRelayNeedsKafka(t *testing.T) {
	doc := `
environment: test
relay:
  enabled: true
  exchange_id: BITHUMB
  topic: ticks
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	env := map[string]string{
		"UPBIT_MARKETS": "KRW-BTC, KRW-ETH",
		"KAFKA_BROKERS": "a:9092,b:9092",
		"HTTP_PORT":     "9090",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"KRW-BTC", "KRW-ETH"}, c.Upbit.Markets)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 9090, c.Server.Port)
}
