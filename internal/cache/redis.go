package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Domenick1991/venuebooking/config"
	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache holds best-effort availability counters for display. It is
// never consulted on the write path.
type RedisCache struct {
	client          *redis.Client
	availabilityTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, availabilityTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		availabilityTTL,
	)
}

func NewRedisCacheWithClient(client *redis.Client, availabilityTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, availabilityTTL: availabilityTTL}
}

// GetRemaining returns the cached count and whether it was present.
func (c *RedisCache) GetRemaining(ctx context.Context, occurrenceID, packageID string) (int, bool, error) {
	val, err := c.client.Get(ctx, availabilityKey(occurrenceID, packageID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt availability entry: %w", err)
	}
	return n, true, nil
}

// SetOccurrence publishes the remaining counts of every package.
func (c *RedisCache) SetOccurrence(ctx context.Context, occ *domain.Occurrence) error {
	pipe := c.client.TxPipeline()
	for _, p := range occ.Packages {
		pipe.Set(ctx, availabilityKey(occ.ID, p.ID), p.RemainingTickets, c.availabilityTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) DeleteOccurrence(ctx context.Context, occ *domain.Occurrence) error {
	if len(occ.Packages) == 0 {
		return nil
	}
	keys := make([]string, 0, len(occ.Packages))
	for _, p := range occ.Packages {
		keys = append(keys, availabilityKey(occ.ID, p.ID))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func availabilityKey(occurrenceID, packageID string) string {
	return fmt.Sprintf("availability:occurrence:%s:package:%s", occurrenceID, packageID)
}
