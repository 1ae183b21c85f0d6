package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"quiz-duel-service/internal/app"
	"quiz-duel-service/internal/domain"
)

// PoolCache caches catalog pools per filter with TTL to avoid repeated DB hits.
// Single-question reads always go to the backing catalog.
type PoolCache struct {
	catalog app.QuestionCatalog
	ttl     time.Duration
	clock   func() time.Time
	sf      singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedPool
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewPoolCache(catalog app.QuestionCatalog, ttl time.Duration) *PoolCache {
	return &PoolCache{
		catalog: catalog,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:   make(map[string]cachedPool),
	}
}

func (c *PoolCache) FetchPool(ctx context.Context, filter domain.PoolFilter) ([]domain.Question, error) {
	key := filter.Key()
	if pool, ok := c.lookup(key); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if pool, ok := c.lookup(key); ok {
			return pool, nil
		}
		pool, err := c.catalog.FetchPool(ctx, filter)
		if err != nil {
			return nil, err
		}
		// empty pools are not cached so newly seeded questions show up at once
		if len(pool) > 0 && c.ttl > 0 {
			expiresAt := c.clock().Add(c.ttlWithJitter())
			c.mu.Lock()
			c.cache[key] = cachedPool{questions: pool, expiresAt: expiresAt}
			c.mu.Unlock()
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePool(result.([]domain.Question)), nil
}

// Question bypasses the cache so answer keys are always current.
func (c *PoolCache) Question(ctx context.Context, id string) (domain.Question, error) {
	return c.catalog.Question(ctx, id)
}

func (c *PoolCache) lookup(key string) ([]domain.Question, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return clonePool(entry.questions), true
}

func (c *PoolCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func clonePool(pool []domain.Question) []domain.Question {
	return append([]domain.Question(nil), pool...)
}

// StaticCatalog is a simple catalog backed by an in-memory slice (useful for tests/demos).
// Pools keep insertion order.
type StaticCatalog struct {
	mu        sync.RWMutex
	questions []domain.Question
}

func NewStaticCatalog(questions ...domain.Question) *StaticCatalog {
	return &StaticCatalog{questions: append([]domain.Question(nil), questions...)}
}

// Put adds q or replaces the question with the same id.
func (c *StaticCatalog) Put(q domain.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.questions {
		if c.questions[i].ID == q.ID {
			c.questions[i] = q
			return
		}
	}
	c.questions = append(c.questions, q)
}

func (c *StaticCatalog) FetchPool(_ context.Context, filter domain.PoolFilter) ([]domain.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var pool []domain.Question
	for _, q := range c.questions {
		if !filter.Matches(q) {
			continue
		}
		pool = append(pool, q)
		if filter.Limit > 0 && len(pool) >= filter.Limit {
			break
		}
	}
	return pool, nil
}

func (c *StaticCatalog) Question(_ context.Context, id string) (domain.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, q := range c.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
