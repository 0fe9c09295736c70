package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TierConfig struct {
	Name      string        `yaml:"name"`
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

type CustomThreshold struct {
	Exchange string  `yaml:"exchange"`
	Market   string  `yaml:"market"`
	Amount   float64 `yaml:"amount"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		// Aggregated error logs are published on this topic when set.
		CollectTopic string `yaml:"collect_topic"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AdminRPS        float64       `yaml:"admin_rps"`
		AdminBurst      float64       `yaml:"admin_burst"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Engine struct {
		Tiers             []TierConfig  `yaml:"tiers"`
		EvictionInterval  time.Duration `yaml:"eviction_interval"`
		QueueSize         int           `yaml:"queue_size"`
		BroadcastInterval time.Duration `yaml:"broadcast_interval"`
		TopN              int           `yaml:"top_n"`
		Priming           struct {
			Candles         int           `yaml:"candles"`
			IntervalMinutes int           `yaml:"interval_minutes"`
			Timeout         time.Duration `yaml:"timeout"`
		} `yaml:"priming"`
	} `yaml:"engine"`
	Alarm struct {
		Cooldown          time.Duration      `yaml:"cooldown"`
		DefaultThresholds map[string]float64 `yaml:"default_thresholds"`
		CustomThresholds  []CustomThreshold  `yaml:"custom_thresholds"`
		DisabledExchanges []string           `yaml:"disabled_exchanges"`
		MarketCapTTL      time.Duration      `yaml:"market_cap_ttl"`
	} `yaml:"alarm"`
	Upbit struct {
		Enabled           bool               `yaml:"enabled"`
		RESTURL           string             `yaml:"rest_url"`
		WebSocketURL      string             `yaml:"websocket_url"`
		Markets           []string           `yaml:"markets"`
		RequestsPerSecond float64            `yaml:"requests_per_second"`
		RequestTimeout    time.Duration      `yaml:"request_timeout"`
		PingInterval      time.Duration      `yaml:"ping_interval"`
		ReconnectMin      time.Duration      `yaml:"reconnect_min"`
		ReconnectMax      time.Duration      `yaml:"reconnect_max"`
		MarketCaps        map[string]float64 `yaml:"market_caps"`
	} `yaml:"upbit"`
	Relay struct {
		Enabled    bool               `yaml:"enabled"`
		ExchangeID string             `yaml:"exchange_id"`
		Topic      string             `yaml:"topic"`
		MarketCaps map[string]float64 `yaml:"market_caps"`
	} `yaml:"relay"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		TopicPrefix  string   `yaml:"topic_prefix"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		AlarmTable       string        `yaml:"alarm_table"`
		BufferSize       int           `yaml:"buffer_size"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("UPBIT_MARKETS"); v != "" {
		c.Upbit.Markets = splitList(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.AdminRPS == 0 {
		c.Server.AdminRPS = 5
	}
	if c.Server.AdminBurst == 0 {
		c.Server.AdminBurst = 10
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if len(c.Engine.Tiers) == 0 {
		c.Engine.Tiers = []TierConfig{
			{Name: "t1", Interval: time.Second, Retention: 5 * time.Minute},
			{Name: "t2", Interval: 10 * time.Second, Retention: time.Hour},
			{Name: "t3", Interval: time.Minute, Retention: 4 * time.Hour},
		}
	}
	if c.Engine.EvictionInterval == 0 {
		c.Engine.EvictionInterval = time.Minute
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 4096
	}
	if c.Engine.BroadcastInterval == 0 {
		c.Engine.BroadcastInterval = time.Second
	}
	if c.Engine.TopN == 0 {
		c.Engine.TopN = 5
	}
	if c.Engine.Priming.Candles == 0 {
		c.Engine.Priming.Candles = 240
	}
	if c.Engine.Priming.IntervalMinutes == 0 {
		c.Engine.Priming.IntervalMinutes = 1
	}
	if c.Engine.Priming.Timeout == 0 {
		c.Engine.Priming.Timeout = 15 * time.Second
	}
	if c.Alarm.Cooldown == 0 {
		c.Alarm.Cooldown = 3 * time.Second
	}
	if c.Alarm.MarketCapTTL == 0 {
		c.Alarm.MarketCapTTL = 24 * time.Hour
	}
	if c.Upbit.RESTURL == "" {
		c.Upbit.RESTURL = "https://api.upbit.com/v1"
	}
	if c.Upbit.WebSocketURL == "" {
		c.Upbit.WebSocketURL = "wss://api.upbit.com/websocket/v1"
	}
	if c.Upbit.RequestsPerSecond == 0 {
		c.Upbit.RequestsPerSecond = 8
	}
	if c.Upbit.RequestTimeout == 0 {
		c.Upbit.RequestTimeout = 10 * time.Second
	}
	if c.Upbit.PingInterval == 0 {
		c.Upbit.PingInterval = 60 * time.Second
	}
	if c.Upbit.ReconnectMin == 0 {
		c.Upbit.ReconnectMin = time.Second
	}
	if c.Upbit.ReconnectMax == 0 {
		c.Upbit.ReconnectMax = 30 * time.Second
	}
	if c.Kafka.TopicPrefix == "" {
		c.Kafka.TopicPrefix = "coinalarm"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "coinalarm-relay"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "coinalarm"
	}
	if c.ClickHouse.AlarmTable == "" {
		c.ClickHouse.AlarmTable = "alarm_events"
	}
	if c.ClickHouse.BufferSize == 0 {
		c.ClickHouse.BufferSize = 1000
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Engine.Tiers) != 3 {
		return fmt.Errorf("engine.tiers must define exactly 3 tiers, got %d", len(c.Engine.Tiers))
	}
	for i, t := range c.Engine.Tiers {
		if t.Interval <= 0 || t.Retention < t.Interval {
			return fmt.Errorf("engine.tiers[%d]: interval must be positive and not exceed retention", i)
		}
		if i == 0 {
			continue
		}
		prev := c.Engine.Tiers[i-1]
		if t.Interval <= prev.Interval || t.Retention <= prev.Retention {
			return fmt.Errorf("engine.tiers[%d]: interval and retention must strictly increase", i)
		}
	}
	for tier, amount := range c.Alarm.DefaultThresholds {
		if amount < 0 {
			return fmt.Errorf("alarm.default_thresholds.%s must not be negative", tier)
		}
	}
	for i, ct := range c.Alarm.CustomThresholds {
		if ct.Exchange == "" || ct.Market == "" || ct.Amount < 0 {
			return fmt.Errorf("alarm.custom_thresholds[%d] is invalid", i)
		}
	}
	if !c.Upbit.Enabled && !c.Relay.Enabled {
		return fmt.Errorf("at least one of upbit or relay must be enabled")
	}
	if c.Relay.Enabled {
		if !c.Kafka.Enabled {
			return fmt.Errorf("relay requires kafka.enabled")
		}
		if c.Relay.ExchangeID == "" || c.Relay.Topic == "" {
			return fmt.Errorf("relay.exchange_id and relay.topic are required")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
