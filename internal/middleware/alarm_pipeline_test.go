package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	mu      sync.Mutex
	failFor int
	calls   int
	stored  []*models.AlarmEvent
}

func (f *fakeStorage) Store(ctx context.Context, e *models.AlarmEvent) error {
	return f.StoreBatch(ctx, []*models.AlarmEvent{e})
}

func (f *fakeStorage) StoreBatch(_ context.Context, events []*models.AlarmEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFor {
		return errors.New("clickhouse unavailable")
	}
	f.stored = append(f.stored, events...)
	return nil
}

func (f *fakeStorage) Recent(context.Context, domrepo.AlarmFilter) ([]*models.AlarmEvent, error) {
	return nil, nil
}

func (f *fakeStorage) Health(context.Context) error { return nil }

func (f *fakeStorage) snapshot() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored), f.calls
}

func alarm(id string) *models.AlarmEvent {
	return &models.AlarmEvent{ID: id, ExchangeID: "UPBIT", MarketCode: "KRW-BTC", Tier: models.TierMega, Timestamp: time.Now()}
}

func TestAlarmPipeline_BatchesBySize(t *testing.T) {
	store := &fakeStorage{}
	p := NewAlarmPipeline(store, nil, nil, WithBatchSize(3), WithFlushInterval(time.Hour))
	p.Start(context.Background())
	defer p.Stop(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Record(context.Background(), alarm(id)))
	}
	assert.Eventually(t, func() bool {
		n, calls := store.snapshot()
		return n == 3 && calls == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAlarmPipeline_FlushesOnInterval(t *testing.T) {
	store := &fakeStorage{}
	p := NewAlarmPipeline(store, nil, nil, WithBatchSize(100), WithFlushInterval(10*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop(context.Background())

	require.NoError(t, p.Record(context.Background(), alarm("a")))
	assert.Eventually(t, func() bool {
		n, _ := store.snapshot()
		return n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAlarmPipeline_RetriesFailedBatch(t *testing.T) {
	store := &fakeStorage{failFor: 2}
	p := NewAlarmPipeline(store, nil, nil, WithBatchSize(1), WithRetry(5, time.Millisecond, 4*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop(context.Background())

	require.NoError(t, p.Record(context.Background(), alarm("a")))
	assert.Eventually(t, func() bool {
		n, calls := store.snapshot()
		return n == 1 && calls == 3
	}, time.Second, 5*time.Millisecond)
}

func TestAlarmPipeline_DropsAfterLastAttempt(t *testing.T) {
	store := &fakeStorage{failFor: 2}
	p := NewAlarmPipeline(store, nil, nil, WithBatchSize(1), WithRetry(2, time.Millisecond, time.Millisecond))
	p.Start(context.Background())

	require.NoError(t, p.Record(context.Background(), alarm("a")))
	assert.Eventually(t, func() bool {
		_, calls := store.snapshot()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
	n, _ := store.snapshot()
	assert.Zero(t, n)
}

func TestAlarmPipeline_StopFlushesBuffered(t *testing.T) {
	store := &fakeStorage{}
	p := NewAlarmPipeline(store, nil, nil, WithBatchSize(100), WithFlushInterval(time.Hour))
	p.Start(context.Background())

	for _, id := range []string{"a", "b"} {
		require.NoError(t, p.Record(context.Background(), alarm(id)))
	}
	require.NoError(t, p.Stop(context.Background()))
	n, _ := store.snapshot()
	assert.Equal(t, 2, n)
}

func TestAlarmPipeline_RejectsInvalidAndFull(t *testing.T) {
	p := NewAlarmPipeline(&fakeStorage{}, nil, nil, WithBufferSize(1))

	assert.Error(t, p.Record(context.Background(), nil))
	assert.Error(t, p.Record(context.Background(), &models.AlarmEvent{ID: "x"}))

	require.NoError(t, p.Record(context.Background(), alarm("a")))
	assert.ErrorIs(t, p.Record(context.Background(), alarm("b")), ErrBufferFull)
	assert.Equal(t, 1, p.Pending())
}
