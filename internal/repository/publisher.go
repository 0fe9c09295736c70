package repository

import (
	"context"
	"strings"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	pkgkafka "CoinAlarm/pkg/kafka"
	"CoinAlarm/pkg/logger"
)

// Producer is the part of pkg/kafka.Producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

var _ Producer = (*pkgkafka.Producer)(nil)

// KafkaPublisher implements ResultPublisher by mapping "/topic/x" onto the
// Kafka topic "<prefix>.x".
type KafkaPublisher struct {
	producer Producer
	prefix   string
	timeout  time.Duration
	log      *logger.Logger
	metrics  domrepo.Metrics
}

// NewKafkaPublisher maps "/topic/x" onto "<prefix>.x".
func NewKafkaPublisher(producer Producer, prefix string, log *logger.Logger, metrics domrepo.Metrics) *KafkaPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &KafkaPublisher{producer: producer, prefix: prefix, timeout: 5 * time.Second, log: log.Named("kafka-publisher"), metrics: metrics}
}

// KafkaTopic converts a destination such as "/topic/alarm" to a Kafka topic.
func KafkaTopic(prefix, topic string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(topic, "/topic/"), "/")
	name = strings.ReplaceAll(name, "/", ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

type keyed interface {
	Key() models.PairKey
}

func (p *KafkaPublisher) Publish(topic string, payload interface{}) {
	var key []byte
	if k, ok := payload.(keyed); ok {
		key = []byte(k.Key().String())
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	kt := KafkaTopic(p.prefix, topic)
	if err := p.producer.Publish(ctx, kt, key, payload); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("kafka_publish")
		}
		p.log.Warn("publish failed", logger.String("topic", kt), logger.Error(err))
	}
}

// FanoutPublisher forwards every payload to each publisher in order.
type FanoutPublisher []domrepo.ResultPublisher

// NewFanoutPublisher skips nil publishers.
func NewFanoutPublisher(pubs ...domrepo.ResultPublisher) FanoutPublisher {
	out := make(FanoutPublisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f FanoutPublisher) Publish(topic string, payload interface{}) {
	for _, p := range f {
		p.Publish(topic, payload)
	}
}
