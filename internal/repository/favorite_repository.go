package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"CoinAlarm/internal/domain/models"

	"github.com/redis/go-redis/v9"
)

// RedisFavoriteStorage keeps favorites in one Redis set of
// "EXCHANGE/MARKET" members.
type RedisFavoriteStorage struct {
	client redis.UniversalClient
	key    string
}

// NewRedisFavoriteStorage keeps favorites in one Redis set under prefix.
func NewRedisFavoriteStorage(client redis.UniversalClient, prefix string) *RedisFavoriteStorage {
	key := "favorites"
	if prefix != "" {
		key = prefix + ":" + key
	}
	return &RedisFavoriteStorage{client: client, key: key}
}

func (s *RedisFavoriteStorage) Add(ctx context.Context, k models.PairKey) error {
	if err := s.client.SAdd(ctx, s.key, k.String()).Err(); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *RedisFavoriteStorage) Remove(ctx context.Context, k models.PairKey) error {
	if err := s.client.SRem(ctx, s.key, k.String()).Err(); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *RedisFavoriteStorage) List(ctx context.Context) ([]models.PairKey, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	sort.Strings(members)
	out := make([]models.PairKey, 0, len(members))
	for _, m := range members {
		if k, ok := ParsePairKey(m); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// ParsePairKey parses the "EXCHANGE/MARKET" form produced by PairKey.String.
func ParsePairKey(s string) (models.PairKey, bool) {
	ex, market, ok := strings.Cut(s, "/")
	if !ok || ex == "" || market == "" {
		return models.PairKey{}, false
	}
	return models.NewPairKey(ex, market), true
}
