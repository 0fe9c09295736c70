package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlarmStorage struct {
	events    []*models.AlarmEvent
	lastQuery domrepo.AlarmFilter
	healthErr error
	queryErr  error
}

func (f *fakeAlarmStorage) Store(context.Context, *models.AlarmEvent) error        { return nil }
func (f *fakeAlarmStorage) StoreBatch(context.Context, []*models.AlarmEvent) error { return nil }
func (f *fakeAlarmStorage) Health(context.Context) error                           { return f.healthErr }

func (f *fakeAlarmStorage) Recent(_ context.Context, filter domrepo.AlarmFilter) ([]*models.AlarmEvent, error) {
	f.lastQuery = filter
	return f.events, f.queryErr
}

func historySetup(storage domrepo.AlarmStorage) *echo.Echo {
	e := echo.New()
	NewHistoryHandler(nil, storage, newFakeEngine()).RegisterRoutes(e)
	return e
}

func TestAlarms_Query(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &fakeAlarmStorage{events: []*models.AlarmEvent{{ID: "a", ExchangeID: "UPBIT", MarketCode: "KRW-BTC", Timestamp: at}}}
	e := historySetup(store)

	code, resp := do(t, e, http.MethodGet, "/api/alarms?exchange=upbit&marketCode=krw-btc&since=2025-03-14T08:00:00Z&limit=20", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domrepo.AlarmFilter{ExchangeID: "UPBIT", MarketCode: "KRW-BTC", Since: at.Add(-time.Hour), Limit: 20}, store.lastQuery)

	var list struct {
		Rows []models.AlarmEvent `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Rows, 1)
	assert.Equal(t, "a", list.Rows[0].ID)
}

func TestAlarms_DefaultsAndErrors(t *testing.T) {
	store := &fakeAlarmStorage{}
	e := historySetup(store)

	code, _ := do(t, e, http.MethodGet, "/api/alarms", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 100, store.lastQuery.Limit)

	code, _ = do(t, e, http.MethodGet, "/api/alarms?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, e, http.MethodGet, "/api/alarms?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)

	store.queryErr = errors.New("clickhouse down")
	code, _ = do(t, e, http.MethodGet, "/api/alarms", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestAlarms_WithoutStorage(t *testing.T) {
	code, resp := do(t, historySetup(nil), http.MethodGet, "/api/alarms", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"rows":[],"total":0}`, string(resp.Data))
}

func TestHealth(t *testing.T) {
	store := &fakeAlarmStorage{}
	e := historySetup(store)

	code, resp := do(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"status":"ok"`)

	store.healthErr = errors.New("connection refused")
	code, resp = do(t, e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(resp.Data), "connection refused")
}
