package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/infra"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type redisCache struct {
	client infra.RedisClient
}

func NewRedis(client infra.RedisClient) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl)
}

func (c *redisCache) get(ctx context.Context, key string, v any) error {
	raw, err := c.client.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) SetCurrentRound(ctx context.Context, round *model.Round, ttl time.Duration) error {
	return c.set(ctx, constant.CurrentRoundKey, round, ttl)
}

func (c *redisCache) CurrentRound(ctx context.Context) (*model.Round, error) {
	var r model.Round
	if err := c.get(ctx, constant.CurrentRoundKey, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *redisCache) SetDistribution(ctx context.Context, dist game.Distribution, ttl time.Duration) error {
	return c.set(ctx, distributionKey(dist.RoundID), dist, ttl)
}

func (c *redisCache) Distribution(ctx context.Context, roundID string) (game.Distribution, error) {
	var d game.Distribution
	err := c.get(ctx, distributionKey(roundID), &d)
	return d, err
}

func (c *redisCache) DeleteDistribution(ctx context.Context, roundID string) error {
	return c.client.Del(ctx, distributionKey(roundID))
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
