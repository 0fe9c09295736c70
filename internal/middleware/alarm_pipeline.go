package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/pkg/logger"
)

var ErrBufferFull = errors.New("alarm pipeline buffer full")

// AlarmPipeline sits between the evaluator and alarm storage. Alarms are
// buffered and written in batches; a failed batch is retried with backoff
// and dropped after the last attempt.
type AlarmPipeline struct {
	store   domrepo.AlarmStorage
	metrics domrepo.Metrics
	log     *logger.Logger

	bufSize       int
	batchSize     int
	flushInterval time.Duration
	maxAttempts   int
	backoffMin    time.Duration
	backoffMax    time.Duration

	bufCh   chan *models.AlarmEvent
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	stopped bool
	mu      sync.Mutex
}

type PipelineOption func(*AlarmPipeline)

// WithBufferSize sets how many alarms may wait for storage.
func WithBufferSize(n int) PipelineOption {
	return func(p *AlarmPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBatchSize flushes as soon as n alarms are pending.
func WithBatchSize(n int) PipelineOption {
	return func(p *AlarmPipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) PipelineOption {
	return func(p *AlarmPipeline) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// WithRetry sets the attempts per batch and the backoff bounds between them.
func WithRetry(attempts int, lo, hi time.Duration) PipelineOption {
	return func(p *AlarmPipeline) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if lo > 0 {
			p.backoffMin = lo
		}
		if hi >= p.backoffMin {
			p.backoffMax = hi
		}
	}
}

// NewAlarmPipeline buffers alarms for store in batches. Stop flushes
// whatever is still pending.
func NewAlarmPipeline(store domrepo.AlarmStorage, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *AlarmPipeline {
	if log == nil {
		log = logger.NewNop()
	}
	p := &AlarmPipeline{
		store:         store,
		metrics:       metrics,
		log:           log.Named("alarm-pipeline"),
		bufSize:       1000,
		batchSize:     100,
		flushInterval: time.Second,
		maxAttempts:   5,
		backoffMin:    50 * time.Millisecond,
		backoffMax:    2 * time.Second,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.AlarmEvent, p.bufSize)
	return p
}

// Record enqueues an alarm without blocking.
func (p *AlarmPipeline) Record(_ context.Context, e *models.AlarmEvent) error {
	if err := validateAlarm(e); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	select {
	case p.bufCh <- e:
		return nil
	default:
		p.recordError("pipeline_buffer_full")
		return ErrBufferFull
	}
}

// Pending reports buffered alarms not yet handed to storage.
func (p *AlarmPipeline) Pending() int { return len(p.bufCh) }

// Start launches the background flusher.
func (p *AlarmPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop flushes what is buffered and waits for the flusher until ctx expires.
func (p *AlarmPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.stopCh)

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alarm pipeline stop: %w", ctx.Err())
	}
}

func (p *AlarmPipeline) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.AlarmEvent, 0, p.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		p.write(ctx, batch)
		batch = make([]*models.AlarmEvent, 0, p.batchSize)
	}

	for {
		select {
		case e := <-p.bufCh:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			p.drain(&batch)
			flush(context.Background())
			return
		case <-p.stopCh:
			p.drain(&batch)
			flush(context.Background())
			return
		}
	}
}

func (p *AlarmPipeline) drain(batch *[]*models.AlarmEvent) {
	for {
		select {
		case e := <-p.bufCh:
			*batch = append(*batch, e)
		default:
			return
		}
	}
}

func (p *AlarmPipeline) write(ctx context.Context, batch []*models.AlarmEvent) {
	start := time.Now()
	backoff := p.backoffMin
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err = p.store.StoreBatch(ctx, batch); err == nil {
			if p.metrics != nil {
				p.metrics.RecordLatency("alarm_store", time.Since(start).Seconds())
			}
			return
		}
		p.recordError("pipeline_flush")
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-p.stopCh:
		}
		backoff = min(backoff*2, p.backoffMax)
	}
	p.recordError("pipeline_batch_drop")
	p.log.Error("dropping alarm batch", logger.Int("size", len(batch)), logger.Error(err))
}

func (p *AlarmPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func validateAlarm(e *models.AlarmEvent) error {
	if e == nil {
		return errors.New("alarm nil")
	}
	if e.ID == "" {
		return errors.New("alarm id empty")
	}
	if e.ExchangeID == "" || e.MarketCode == "" {
		return errors.New("alarm pair empty")
	}
	if e.Timestamp.IsZero() {
		return errors.New("alarm timestamp invalid")
	}
	return nil
}
