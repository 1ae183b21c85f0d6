package cli

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
	"quiz-duel-service/internal/app"
	"quiz-duel-service/internal/config"
	"quiz-duel-service/internal/infra/memory"
	"quiz-duel-service/internal/infra/postgres"
	redisinfra "quiz-duel-service/internal/infra/redis"
	"quiz-duel-service/internal/obslog"
	transport "quiz-duel-service/internal/transport/http"
)

type presenceStore interface {
	app.UserState
	transport.PresenceWriter
}

// runtime is the wired duel subsystem plus the resources it holds open.
type runtime struct {
	hub      *transport.Hub
	service  *app.DuelService
	queue    *app.Matchmaker
	monitor  *app.AbandonmentMonitor
	presence presenceStore
	closers  []func()
}

// buildRuntime wires stores by config: Redis and Postgres when configured,
// in-memory fallbacks otherwise.
func buildRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	rt := &runtime{hub: transport.NewHub()}
	settings := cfg.DuelSettings()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var (
		catalog app.QuestionCatalog = memory.NewStaticCatalog(sampleQuestions()...)
		awarder app.XPAwarder       = memory.NewXPLedger()
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		catalog = postgres.NewCatalogLoader(pool)

		db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL))), pgdialect.New())
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		awarder = postgres.NewXPLedger(db)
	} else {
		obslog.L().Warn("catalog_fallback", zap.String("reason", "postgres url not configured, using built-in questions"))
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var duels app.DuelRepository
	if redisClient != nil {
		catalog = redisinfra.NewPoolCache(redisClient, catalog, catalogTTL)
		duels = redisinfra.NewDuelStore(redisClient, redisTTL)
		rt.presence = redisinfra.NewPresence(redisClient, redisTTL)
	} else {
		catalog = memory.NewPoolCache(catalog, catalogTTL)
		duels = memory.NewDuelStore()
		rt.presence = memory.NewPresence()
	}

	rt.service = app.NewDuelService(app.Deps{
		Duels:    duels,
		Catalog:  catalog,
		Users:    rt.presence,
		Notifier: rt.hub,
		Rewards:  app.NewRewardDispatcher(awarder, settings),
	}, settings)
	rt.queue = app.NewMatchmaker(rt.presence, rt.service, rt.hub)
	rt.monitor = app.NewAbandonmentMonitor(rt.service, settings)
	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
