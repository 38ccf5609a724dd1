// Package cache keeps the current round and the live bet distribution close
// to the API. The store stays authoritative; a miss is never an error the
// caller must surface.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/config"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/infra"
	"github.com/rahul3988/game-sub000/pkg/model"
)

var ErrMiss = errors.New("cache miss")

type Cache interface {
	SetCurrentRound(ctx context.Context, round *model.Round, ttl time.Duration) error
	CurrentRound(ctx context.Context) (*model.Round, error)
	SetDistribution(ctx context.Context, dist game.Distribution, ttl time.Duration) error
	Distribution(ctx context.Context, roundID string) (game.Distribution, error)
	DeleteDistribution(ctx context.Context, roundID string) error
	Close() error
}

func distributionKey(roundID string) string {
	return constant.DistributionKeyPrefix + roundID
}

// TTL keeps an entry alive for the round's whole cycle plus a margin.
func TTL(round *model.Round, closeDelay time.Duration) time.Duration {
	return round.CycleDuration(closeDelay) + constant.CacheTTLMargin
}

func NewFromConfig(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case enum.CacheTypeRedis:
		client, err := infra.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(client), nil
	case enum.CacheTypeMemory, "":
		return NewMemory(time.Now), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
