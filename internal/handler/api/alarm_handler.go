package api

import (
	"context"
	"errors"
	"strings"

	"CoinAlarm/internal/domain/models"
	domrepo "CoinAlarm/internal/domain/repository"
	"CoinAlarm/internal/service/alarm"
	xhttp "CoinAlarm/pkg/http"
	xlogger "CoinAlarm/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Engine is the part of the orchestrator the admin API drives.
type Engine interface {
	AddFavorite(ctx context.Context, exchangeID, marketCode string) error
	RemoveFavorite(ctx context.Context, exchangeID, marketCode string) bool
	Favorites() []models.PairKey
	Window(key models.PairKey) (models.WindowSnapshot, bool)
	Windows() []models.WindowSnapshot
	GetMarketCapInfo(ctx context.Context, exchangeID, marketCode string) (models.MarketCapInfo, error)
	Exchanges() []string
}

// Thresholds is the evaluator's configuration surface.
type Thresholds interface {
	Thresholds() alarm.View
	SetDefaultThreshold(tier models.MarketCapTier, threshold float64) error
	SetCustomThreshold(exchangeID, marketCode string, threshold float64) error
	RemoveCustomThreshold(exchangeID, marketCode string) bool
	SetExchangeEnabled(exchangeID string, enabled bool)
	ExchangeEnabled(exchangeID string) bool
}

type ExchangeStatus struct {
	Exchange string `json:"exchange"`
	Enabled  bool   `json:"enabled"`
}

// AlarmHandler serves favorites, thresholds and market windows.
type AlarmHandler struct {
	logger  *xlogger.Logger
	engine  Engine
	thr     Thresholds
	mutator echo.MiddlewareFunc
}

// NewAlarmHandler wraps mutating routes with mutator when it is non-nil.
func NewAlarmHandler(logger *xlogger.Logger, engine Engine, thr Thresholds, mutator echo.MiddlewareFunc) *AlarmHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &AlarmHandler{logger: logger, engine: engine, thr: thr, mutator: mutator}
}

// RegisterRoutes mounts the admin API under /api.
func (h *AlarmHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	if h.mutator != nil {
		g.Use(h.mutator)
	}
	g.GET("/favorites", h.Favorites)
	g.POST("/favorites/add", h.AddFavorite)
	g.DELETE("/favorites/remove", h.RemoveFavorite)

	g.GET("/thresholds", h.GetThresholds)
	g.PUT("/thresholds/default", h.SetDefaultThreshold)
	g.PUT("/thresholds/custom", h.SetCustomThreshold)
	g.DELETE("/thresholds/custom", h.RemoveCustomThreshold)

	g.GET("/exchanges", h.ListExchanges)
	g.PUT("/exchanges/:exchange/enabled", h.SetExchangeEnabled)

	g.GET("/markets", h.Markets)
	g.GET("/markets/:exchange/:market/window", h.Window)
	g.GET("/markets/:exchange/:market/marketcap", h.MarketCap)
}

// Favorites lists favorites with their current windows; pairs without data
// yet are returned with only their key fields.
func (h *AlarmHandler) Favorites(c echo.Context) error {
	keys := h.engine.Favorites()
	out := make([]models.WindowSnapshot, 0, len(keys))
	for _, k := range keys {
		w, ok := h.engine.Window(k)
		if !ok {
			w = models.WindowSnapshot{ExchangeID: k.ExchangeID, MarketCode: k.MarketCode, Favorite: true}
		}
		out = append(out, w)
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *AlarmHandler) AddFavorite(c echo.Context) error {
	req := &models.FavoriteRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.AddFavorite(c.Request().Context(), req.Exchange, req.MarketCode); err != nil {
		h.logger.Warn("add favorite rejected", xlogger.String("exchange", req.Exchange), xlogger.String("market", req.MarketCode), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.CreatedResponse(c, models.NewPairKey(req.Exchange, req.MarketCode))
}

func (h *AlarmHandler) RemoveFavorite(c echo.Context) error {
	req := &models.FavoriteRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := models.NewPairKey(req.Exchange, req.MarketCode)
	if !h.engine.RemoveFavorite(c.Request().Context(), key.ExchangeID, key.MarketCode) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%s is not a favorite", key))
	}
	return xhttp.SuccessResponse(c, key)
}

func (h *AlarmHandler) GetThresholds(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.thr.Thresholds())
}

// SetDefaultThreshold changes the threshold of a whole tier.
func (h *AlarmHandler) SetDefaultThreshold(c echo.Context) error {
	req := &models.DefaultThresholdRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tier, err := models.ParseMarketCapTier(req.Tier)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithField("tier"))
	}
	if err := h.thr.SetDefaultThreshold(tier, req.Threshold); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	h.logger.Info("default threshold updated", xlogger.String("tier", string(tier)), xlogger.Float64("threshold", req.Threshold))
	return xhttp.SuccessResponse(c, h.thr.Thresholds())
}

func (h *AlarmHandler) SetCustomThreshold(c echo.Context) error {
	req := &models.CustomThresholdRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.thr.SetCustomThreshold(req.Exchange, req.MarketCode, req.Threshold); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	key := models.NewPairKey(req.Exchange, req.MarketCode)
	h.logger.Info("custom threshold set", xlogger.String("pair", key.String()), xlogger.Float64("threshold", req.Threshold))
	return xhttp.SuccessResponse(c, alarm.CustomThreshold{ExchangeID: key.ExchangeID, MarketCode: key.MarketCode, Threshold: req.Threshold})
}

func (h *AlarmHandler) RemoveCustomThreshold(c echo.Context) error {
	req := &models.FavoriteRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := models.NewPairKey(req.Exchange, req.MarketCode)
	if !h.thr.RemoveCustomThreshold(key.ExchangeID, key.MarketCode) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no custom threshold for %s", key))
	}
	return xhttp.NoContentResponse(c)
}

func (h *AlarmHandler) ListExchanges(c echo.Context) error {
	ids := h.engine.Exchanges()
	out := make([]ExchangeStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, ExchangeStatus{Exchange: id, Enabled: h.thr.ExchangeEnabled(id)})
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *AlarmHandler) SetExchangeEnabled(c echo.Context) error {
	req := &models.ExchangeEnabledRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := strings.ToUpper(req.Exchange)
	if !h.knownExchange(id) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown exchange %s", id))
	}
	h.thr.SetExchangeEnabled(id, *req.Enabled)
	h.logger.Info("exchange alarms toggled", xlogger.String("exchange", id), xlogger.Bool("enabled", *req.Enabled))
	return xhttp.SuccessResponse(c, ExchangeStatus{Exchange: id, Enabled: *req.Enabled})
}

func (h *AlarmHandler) knownExchange(id string) bool {
	for _, ex := range h.engine.Exchanges() {
		if ex == id {
			return true
		}
	}
	return false
}

// Markets lists observed pairs, largest one-minute volume first, optionally
// restricted to ?tiers=MEGA,LARGE.
func (h *AlarmHandler) Markets(c echo.Context) error {
	req := &models.MarketsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tiers, err := req.TierSet()
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithField("tiers").WithError(err))
	}
	all := h.engine.Windows()
	out := all[:0]
	for _, w := range all {
		if tiers == nil || tiers[w.Tier] {
			out = append(out, w)
		}
	}
	models.SortByMinuteVolume(out)
	return xhttp.ListResponse(c, out, int64(len(out)))
}

// Window returns the rolling windows of one pair.
func (h *AlarmHandler) Window(c echo.Context) error {
	req := &models.PairRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := models.NewPairKey(req.Exchange, req.Market)
	w, ok := h.engine.Window(key)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no data for %s", key))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, w)
}

func (h *AlarmHandler) MarketCap(c echo.Context) error {
	req := &models.PairRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	info, err := h.engine.GetMarketCapInfo(c.Request().Context(), req.Exchange, req.Market)
	if errors.Is(err, domrepo.ErrUnknownExchange) {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if err != nil {
		h.logger.Warn("market cap lookup degraded", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, info)
}

// toAppError maps domain sentinels onto HTTP errors.
func toAppError(err error) error {
	switch {
	case errors.Is(err, domrepo.ErrUnknownExchange):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrInvalidThreshold),
		errors.Is(err, domrepo.ErrUnknownTier),
		errors.Is(err, domrepo.ErrMalformedTick):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
