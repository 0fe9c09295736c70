package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	mid "CoinAlarm/internal/middleware"
	"CoinAlarm/internal/service/alarm"
	"CoinAlarm/internal/service/push"
	"CoinAlarm/internal/service/snapshot"
	"CoinAlarm/internal/usecase"
	"CoinAlarm/pkg/config"
	xhttp "CoinAlarm/pkg/http"
	"CoinAlarm/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu     sync.Mutex
	events []*models.AlarmEvent
}

func (m *memStorage) Store(ctx context.Context, e *models.AlarmEvent) error {
	return m.StoreBatch(ctx, []*models.AlarmEvent{e})
}

func (m *memStorage) StoreBatch(_ context.Context, events []*models.AlarmEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memStorage) Recent(context.Context, domrepo.AlarmFilter) ([]*models.AlarmEvent, error) {
	return nil, nil
}

func (m *memStorage) Health(context.Context) error { return nil }

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestApp(t *testing.T, storage domrepo.AlarmStorage) *App {
	t.Helper()
	log := logger.NewNop()

	store, err := snapshot.NewStore(snapshot.DefaultTiers())
	require.NoError(t, err)
	eval, err := alarm.NewEvaluator(alarm.Config{})
	require.NoError(t, err)
	hub := push.NewHub(log, nil)
	pipeline := mid.NewAlarmPipeline(storage, nil, log, mid.WithFlushInterval(time.Hour))

	calc := usecase.NewRollingWindowCalculator(store, time.Now)
	orch := usecase.NewOrchestrator(usecase.OrchestratorConfig{}, log, store, calc, eval, hub, nil,
		usecase.WithAlarmRecorder(pipeline))

	cfg := &config.Config{Environment: "test"}
	cfg.Server.ShutdownTimeout = 2 * time.Second

	return New(cfg, log, Components{
		Orchestrator: orch,
		Broadcaster:  usecase.NewMarketDataBroadcaster(orch, hub, log, 10*time.Millisecond, 5),
		HTTPServer:   xhttp.NewServer(log, []xhttp.Handler{hub}, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0), xhttp.WithMetricsPath("")),
		Hub:          hub,
		Pipeline:     pipeline,
	})
}

func TestAppShutdownFlushesPendingAlarms(t *testing.T) {
	storage := &memStorage{}
	app := newTestApp(t, storage)

	require.NoError(t, app.Start(context.Background()))
	require.NoError(t, app.Pipeline.Record(context.Background(), &models.AlarmEvent{
		ID:         "a1",
		ExchangeID: "UPBIT",
		MarketCode: "KRW-BTC",
		Tier:       models.TierMega,
		Timestamp:  time.Now(),
	}))

	require.NoError(t, app.Shutdown())
	assert.Equal(t, 1, storage.count())
}

func TestAppStartTwiceFails(t *testing.T) {
	app := newTestApp(t, &memStorage{})
	require.NoError(t, app.Start(context.Background()))
	defer func() { _ = app.Shutdown() }()

	assert.Error(t, app.Orchestrator.Start(context.Background()))
}
