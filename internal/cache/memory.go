package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type entry struct {
	value   any
	expires time.Time
}

// memoryCache is a process-local Cache for single-node runs and tests.
type memoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
}

func NewMemory(now func() time.Time) Cache {
	return &memoryCache{now: now, entries: make(map[string]entry)}
}

func (c *memoryCache) put(key string, v any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: v}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
}

func (c *memoryCache) load(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *memoryCache) SetCurrentRound(_ context.Context, round *model.Round, ttl time.Duration) error {
	r := *round
	c.put(constant.CurrentRoundKey, &r, ttl)
	return nil
}

func (c *memoryCache) CurrentRound(_ context.Context) (*model.Round, error) {
	v, ok := c.load(constant.CurrentRoundKey)
	if !ok {
		return nil, ErrMiss
	}
	r := *v.(*model.Round)
	return &r, nil
}

func (c *memoryCache) SetDistribution(_ context.Context, dist game.Distribution, ttl time.Duration) error {
	c.put(distributionKey(dist.RoundID), dist, ttl)
	return nil
}

func (c *memoryCache) Distribution(_ context.Context, roundID string) (game.Distribution, error) {
	v, ok := c.load(distributionKey(roundID))
	if !ok {
		return game.Distribution{}, ErrMiss
	}
	return v.(game.Distribution), nil
}

func (c *memoryCache) DeleteDistribution(_ context.Context, roundID string) error {
	c.mu.Lock()
	delete(c.entries, distributionKey(roundID))
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Close() error { return nil }
