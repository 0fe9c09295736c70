package upbit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"CoinAlarm/internal/domain/models"
	xhttp "CoinAlarm/pkg/http"
	"CoinAlarm/pkg/logger"
	"CoinAlarm/pkg/util"
)

const (
	quotePrefix = "KRW-"
	// Upbit caps one candle request at 200 bars.
	candlePage = 200
)

var minuteUnits = map[int]bool{1: true, 3: true, 5: true, 10: true, 15: true, 30: true, 60: true, 240: true}

type marketResponse struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

type candleResponse struct {
	Market               string  `json:"market"`
	CandleDateTimeUTC    string  `json:"candle_date_time_utc"`
	CandleDateTimeKST    string  `json:"candle_date_time_kst"`
	OpeningPrice         float64 `json:"opening_price"`
	HighPrice            float64 `json:"high_price"`
	LowPrice             float64 `json:"low_price"`
	TradePrice           float64 `json:"trade_price"`
	Timestamp            int64   `json:"timestamp"`
	CandleAccTradePrice  float64 `json:"candle_acc_trade_price"`
	CandleAccTradeVolume float64 `json:"candle_acc_trade_volume"`
	Unit                 int     `json:"unit"`
}

func (r candleResponse) toModel() (models.CandleData, bool) {
	ts, ok := util.ParseTime(r.CandleDateTimeUTC)
	if !ok {
		return models.CandleData{}, false
	}
	return models.CandleData{
		MarketCode:     r.Market,
		Timestamp:      ts.UTC(),
		Open:           r.OpeningPrice,
		High:           r.HighPrice,
		Low:            r.LowPrice,
		Close:          r.TradePrice,
		AccTradeVolume: r.CandleAccTradePrice,
	}, true
}

func (c *Connector) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	err := c.http.GetJSON(ctx, path, query, dest)
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.TooManyRequests() {
		c.log.Warn("rest quota exceeded", logger.String("path", path), logger.String("body", se.Body))
	}
	return err
}

// ListMarkets returns the KRW-quoted markets.
func (c *Connector) ListMarkets(ctx context.Context) ([]string, error) {
	var resp []marketResponse
	if err := c.get(ctx, "/market/all", url.Values{"isDetails": {"false"}}, &resp); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	out := make([]string, 0, len(resp))
	for _, m := range resp {
		if strings.HasPrefix(m.Market, quotePrefix) {
			out = append(out, m.Market)
		}
	}
	return out, nil
}

// FetchHistoricalCandles pages backwards through minute candles and returns
// at most count bars in ascending time order.
func (c *Connector) FetchHistoricalCandles(ctx context.Context, marketCode string, intervalMinutes, count int) ([]models.CandleData, error) {
	if !minuteUnits[intervalMinutes] {
		return nil, fmt.Errorf("unsupported candle unit %d", intervalMinutes)
	}
	if count <= 0 {
		return nil, nil
	}
	market := strings.ToUpper(marketCode)
	path := fmt.Sprintf("/candles/minutes/%d", intervalMinutes)

	out := make([]models.CandleData, 0, count)
	to := ""
	for len(out) < count {
		n := min(candlePage, count-len(out))
		q := url.Values{"market": {market}, "count": {strconv.Itoa(n)}}
		if to != "" {
			q.Set("to", to)
		}
		var page []candleResponse
		if err := c.get(ctx, path, q, &page); err != nil {
			return nil, fmt.Errorf("fetch candles %s: %w", market, err)
		}
		var oldest models.CandleData
		for _, r := range page {
			cd, ok := r.toModel()
			if !ok {
				continue
			}
			out = append(out, cd)
			if oldest.Timestamp.IsZero() || cd.Timestamp.Before(oldest.Timestamp) {
				oldest = cd
			}
		}
		if len(page) < n || oldest.Timestamp.IsZero() {
			break
		}
		next := util.FormatUTC(oldest.Timestamp)
		if next == to {
			break
		}
		to = next
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	deduped := out[:0]
	for i, cd := range out {
		if i > 0 && cd.Timestamp.Equal(deduped[len(deduped)-1].Timestamp) {
			continue
		}
		deduped = append(deduped, cd)
	}
	if len(deduped) > count {
		deduped = deduped[len(deduped)-count:]
	}
	return deduped, nil
}

// FetchTickers returns the current ticker of each market as snapshots.
func (c *Connector) FetchTickers(ctx context.Context, markets []string) ([]models.Snapshot, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	var resp []tickerMessage
	if err := c.get(ctx, "/ticker", url.Values{"markets": {strings.Join(markets, ",")}}, &resp); err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	out := make([]models.Snapshot, 0, len(resp))
	for _, t := range resp {
		if snap, ok := t.snapshot(); ok {
			out = append(out, snap)
		}
	}
	return out, nil
}
