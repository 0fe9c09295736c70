package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	xhttp "CoinAlarm/pkg/http"
	xlogger "CoinAlarm/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HistoryHandler serves stored alarms and the health probe. storage may be
// nil when alarm persistence is disabled.
type HistoryHandler struct {
	logger  *xlogger.Logger
	storage domrepo.AlarmStorage
	engine  Engine
	checks  map[string]func(context.Context) error
}

func NewHistoryHandler(logger *xlogger.Logger, storage domrepo.AlarmStorage, engine Engine) *HistoryHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &HistoryHandler{logger: logger, storage: storage, engine: engine, checks: make(map[string]func(context.Context) error)}
	if storage != nil {
		h.checks["clickhouse"] = storage.Health
	}
	return h
}

// AddCheck registers a dependency probed by /health.
func (h *HistoryHandler) AddCheck(name string, fn func(context.Context) error) {
	h.checks[name] = fn
}

func (h *HistoryHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/api/alarms", h.Alarms)
}

// Alarms serves persisted alarm history, newest first.
func (h *HistoryHandler) Alarms(c echo.Context) error {
	req := &models.AlarmsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.storage == nil {
		return xhttp.ListResponse(c, []*models.AlarmEvent{}, 0)
	}
	filter := domrepo.AlarmFilter{
		ExchangeID: strings.ToUpper(req.Exchange),
		MarketCode: strings.ToUpper(req.MarketCode),
		Limit:      req.Limit,
	}
	if req.Since != "" {
		since, ok := xhttp.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid since %q", req.Since))
		}
		filter.Since = since
	}
	rows, err := h.storage.Recent(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("alarm history query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("alarm history unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

type healthReport struct {
	Status    string            `json:"status"`
	Exchanges []string          `json:"exchanges"`
	Pairs     int               `json:"pairs"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health reports "ok", or "degraded" with a 503 when a dependency fails.
func (h *HistoryHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	report := healthReport{Status: "ok", Exchanges: h.engine.Exchanges(), Pairs: len(h.engine.Windows())}
	if len(h.checks) > 0 {
		report.Checks = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			report.Checks[name] = err.Error()
			report.Status = "degraded"
			continue
		}
		report.Checks[name] = "ok"
	}
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, report)
}
