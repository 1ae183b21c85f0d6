package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"quiz-duel-service/internal/app"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/infra/postgres"
	pgmigrations "quiz-duel-service/internal/infra/postgres/migrations"
	infraredis "quiz-duel-service/internal/infra/redis"
)

func TestDuelEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateAndSeed(t, ctx, pgURL, sampleQuestions())
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	settings := app.DefaultSettings()
	ledger := postgres.NewXPLedger(db)
	presence := infraredis.NewPresence(redisClient, time.Hour)
	service := app.NewDuelService(app.Deps{
		Duels:   infraredis.NewDuelStore(redisClient, time.Hour),
		Catalog: infraredis.NewPoolCache(redisClient, postgres.NewCatalogLoader(pool), 5*time.Minute),
		Users:   presence,
		Rewards: app.NewRewardDispatcher(ledger, settings),
	}, settings)

	created, err := service.CreateDuel(ctx, "u1", "u2", "Math")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state, err := service.AcceptDuel(ctx, created.Duel.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if round, ok := state.Round(1); !ok || round.Difficulty != domain.DifficultyEasy {
		t.Fatalf("expected an easy first round, got %+v", state.Rounds)
	}

	for i := 0; i < app.RegulationRounds; i++ {
		if _, err := service.SubmitAnswer(ctx, created.Duel.ID, "u1", 0); err != nil {
			t.Fatalf("round %d challenger: %v", i+1, err)
		}
		state, err = service.SubmitAnswer(ctx, created.Duel.ID, "u2", 1)
		if err != nil {
			t.Fatalf("round %d opponent: %v", i+1, err)
		}
	}

	duel := state.Duel
	if duel.Status != domain.StatusCompleted || duel.WinnerID != "u1" || duel.ChallengerScore != app.RegulationRounds {
		t.Fatalf("expected u1 to win on score, got %+v", duel)
	}

	winner, err := ledger.Totals(ctx, "u1")
	if err != nil {
		t.Fatalf("totals u1: %v", err)
	}
	if winner.TotalXP != int64(settings.WinXP) {
		t.Fatalf("expected %d xp for winner, got %+v", settings.WinXP, winner)
	}
	loser, err := ledger.Totals(ctx, "u2")
	if err != nil {
		t.Fatalf("totals u2: %v", err)
	}
	if loser.TotalXP != 0 {
		t.Fatalf("expected loser xp floored at 0, got %+v", loser)
	}

	active, err := service.ActiveDuel(ctx, "u1")
	if err != nil {
		t.Fatalf("active duel: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active duel after completion, got %+v", active)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "duel", "POSTGRES_PASSWORD": "duelpass", "POSTGRES_DB": "dueldb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://duel:duelpass@%s:%s/dueldb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

// migrateAndSeed applies migrations and inserts the questions. The caller closes the returned DB.
func migrateAndSeed(t *testing.T, ctx context.Context, dsn string, questions []domain.Question) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			t.Fatalf("marshal options: %v", err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO questions (id, subject, category, difficulty, prompt, options, correct_option) VALUES (?, ?, ?, ?, ?, ?::jsonb, ?)`,
			q.ID, q.Subject, string(q.Category), string(q.Difficulty), q.Prompt, string(options), q.CorrectOption,
		); err != nil {
			t.Fatalf("insert question %s: %v", q.ID, err)
		}
	}
	return db
}

// sampleQuestions returns a full math bank whose correct answer is always A.
func sampleQuestions() []domain.Question {
	var qs []domain.Question
	for _, category := range []domain.Category{domain.CategoryExam, domain.CategoryQuiz} {
		for _, difficulty := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard} {
			for i := 0; i < 5; i++ {
				qs = append(qs, domain.Question{
					ID:            fmt.Sprintf("math-%s-%s-%d", category, difficulty, i),
					Subject:       "math",
					Category:      category,
					Difficulty:    difficulty,
					Prompt:        fmt.Sprintf("%s %s question %d", difficulty, category, i),
					Options:       []string{"right", "wrong", "wrong", "wrong"},
					CorrectOption: "A",
				})
			}
		}
	}
	return qs
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
