package repository

import (
	"context"
	"errors"
	"time"

	"CoinAlarm/internal/domain/models"
	"CoinAlarm/pkg/cache"
)

// MarketCapCache stores market-cap classifications in a cache.Service.
type MarketCapCache struct {
	svc cache.Service
	ttl time.Duration
}

// NewMarketCapCache stores resolved tiers in svc for ttl.
func NewMarketCapCache(svc cache.Service, ttl time.Duration) *MarketCapCache {
	return &MarketCapCache{svc: svc, ttl: ttl}
}

func marketCapKey(k models.PairKey) string {
	return cache.GenerateKeyWithParams("marketcap", k.ExchangeID, k.MarketCode)
}

// Get reports ok=false on a miss; only transport failures are errors.
func (c *MarketCapCache) Get(ctx context.Context, k models.PairKey) (models.MarketCapInfo, bool, error) {
	var info models.MarketCapInfo
	err := c.svc.Get(ctx, marketCapKey(k), &info)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return info, false, nil
	case err != nil:
		return info, false, err
	}
	return info, true, nil
}

func (c *MarketCapCache) Set(ctx context.Context, k models.PairKey, info models.MarketCapInfo) error {
	return c.svc.Set(ctx, marketCapKey(k), info, c.ttl)
}
