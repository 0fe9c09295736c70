package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal   *prometheus.CounterVec
	ticksDropped *prometheus.CounterVec
	alarmsTotal  *prometheus.CounterVec
	evicted      prometheus.Counter
	pairs        prometheus.Gauge
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinalarm_ticks_total",
				Help: "Total number of ticks ingested",
			},
			[]string{"exchange"},
		),
		ticksDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinalarm_ticks_dropped_total",
				Help: "Ticks dropped before reaching the store",
			},
			[]string{"exchange", "reason"},
		),
		alarmsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinalarm_alarm_decisions_total",
				Help: "Alarm evaluator decisions by outcome",
			},
			[]string{"exchange", "decision"},
		),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Name: "coinalarm_snapshots_evicted_total",
			Help: "Snapshots removed by the eviction sweep",
		}),
		pairs: f.NewGauge(prometheus.GaugeOpts{
			Name: "coinalarm_pairs",
			Help: "Number of pairs held in the snapshot store",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinalarm_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coinalarm_last_price",
				Help: "Last recorded price for a market",
			},
			[]string{"exchange", "market"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinalarm_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTick(exchange string) {
	r.ticksTotal.WithLabelValues(exchange).Inc()
}

// RecordDroppedTick counts a rejected tick, labelled by reason.
func (r *Recorder) RecordDroppedTick(exchange, reason string) {
	r.ticksDropped.WithLabelValues(exchange, reason).Inc()
}

// RecordAlarm counts evaluations by decision, not only emitted alarms.
func (r *Recorder) RecordAlarm(exchange, decision string) {
	r.alarmsTotal.WithLabelValues(exchange, decision).Inc()
}

func (r *Recorder) RecordEvicted(n int) {
	if n > 0 {
		r.evicted.Add(float64(n))
	}
}

func (r *Recorder) SetPairs(n int) { r.pairs.Set(float64(n)) }

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a market.
func (r *Recorder) RecordLastPrice(exchange, market string, price float64) {
	r.lastPrice.WithLabelValues(exchange, market).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
