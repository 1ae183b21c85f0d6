package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"quiz-duel-service/internal/app"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

// PoolCache caches catalog pools in Redis and falls back to the catalog on a miss.
// Pools are stored as: SET duel:pool:{filterKey} {JSON questions}
// Single-question reads skip the cache so answer keys are always current.
type PoolCache struct {
	client  *redis.Client
	catalog app.QuestionCatalog
	ttl     time.Duration
	sf      singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPoolCache(client *redis.Client, catalog app.QuestionCatalog, ttl time.Duration) *PoolCache {
	return &PoolCache{
		client:  client,
		catalog: catalog,
		ttl:     ttl,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *PoolCache) FetchPool(ctx context.Context, filter domain.PoolFilter) ([]domain.Question, error) {
	key := c.poolKey(filter)
	if pool, ok := c.cached(ctx, key); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := c.cached(ctx, key); ok {
			return pool, nil
		}
		pool, err := c.catalog.FetchPool(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(pool) > 0 && c.ttl > 0 {
			raw, err := json.Marshal(pool)
			if err == nil {
				err = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
			}
			if err != nil {
				obslog.L().Warn("pool_cache_write_error", zap.String("key", key), zap.Error(err))
			}
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

func (c *PoolCache) Question(ctx context.Context, id string) (domain.Question, error) {
	return c.catalog.Question(ctx, id)
}

func (c *PoolCache) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			obslog.L().Warn("pool_cache_read_error", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil || len(pool) == 0 {
		return nil, false
	}
	return pool, true
}

func (c *PoolCache) poolKey(filter domain.PoolFilter) string {
	return "duel:pool:" + filter.Key()
}

func (c *PoolCache) ttlWithJitter() time.Duration {
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
