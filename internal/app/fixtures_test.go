package app_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-duel-service/internal/app"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/infra/memory"
)

// Every fixture question has A as its correct option.
const (
	correctAnswer = 0
	wrongAnswer   = 1
)

type fixture struct {
	service  *app.DuelService
	monitor  *app.AbandonmentMonitor
	duels    *memory.DuelStore
	store    *fixtureStore
	users    *hookedUsers
	catalog  *memory.StaticCatalog
	presence *memory.Presence
	ledger   *memory.XPLedger
	notifier *recordingNotifier
	clock    *fakeClock
	settings app.Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCatalog(t, seedQuestions("math"))
}

func newFixtureWithCatalog(t *testing.T, questions []domain.Question) *fixture {
	t.Helper()
	f := &fixture{
		duels:    memory.NewDuelStore(),
		catalog:  memory.NewStaticCatalog(questions...),
		presence: memory.NewPresence(),
		ledger:   memory.NewXPLedger(),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		settings: app.DefaultSettings(),
	}
	f.store = &fixtureStore{DuelStore: f.duels}
	f.users = &hookedUsers{UserState: f.presence}
	var seq atomic.Int64
	f.service = app.NewDuelService(app.Deps{
		Duels:    f.store,
		Catalog:  f.catalog,
		Users:    f.users,
		Notifier: f.notifier,
		Rewards:  app.NewRewardDispatcher(f.ledger, f.settings),
		Clock:    f.clock.Now,
		NewID: func() string {
			return fmt.Sprintf("duel-%d", seq.Add(1))
		},
	}, f.settings)
	f.monitor = app.NewAbandonmentMonitor(f.service, f.settings)
	return f
}

// startDuel creates and accepts a duel between u1 and u2.
func (f *fixture) startDuel(t *testing.T) domain.DuelState {
	t.Helper()
	ctx := context.Background()
	created, err := f.service.CreateDuel(ctx, "u1", "u2", "math")
	if err != nil {
		t.Fatalf("create duel: %v", err)
	}
	state, err := f.service.AcceptDuel(ctx, created.Duel.ID)
	if err != nil {
		t.Fatalf("accept duel: %v", err)
	}
	return state
}

// playRound submits both answers for the current round, challenger first.
func (f *fixture) playRound(t *testing.T, duelID string, challengerCorrect, opponentCorrect bool) domain.DuelState {
	t.Helper()
	ctx := context.Background()
	if _, err := f.service.SubmitAnswer(ctx, duelID, "u1", answerFor(challengerCorrect)); err != nil {
		t.Fatalf("challenger answer: %v", err)
	}
	state, err := f.service.SubmitAnswer(ctx, duelID, "u2", answerFor(opponentCorrect))
	if err != nil {
		t.Fatalf("opponent answer: %v", err)
	}
	return state
}

func answerFor(correct bool) int {
	if correct {
		return correctAnswer
	}
	return wrongAnswer
}

// seedQuestions returns three easy, four medium and five hard questions per category.
func seedQuestions(subject string) []domain.Question {
	var qs []domain.Question
	tiers := []struct {
		difficulty domain.Difficulty
		count      int
	}{
		{domain.DifficultyEasy, 3},
		{domain.DifficultyMedium, 4},
		{domain.DifficultyHard, 5},
	}
	for _, category := range []domain.Category{domain.CategoryExam, domain.CategoryQuiz} {
		for _, tier := range tiers {
			for i := 0; i < tier.count; i++ {
				qs = append(qs, domain.Question{
					ID:            fmt.Sprintf("%s-%s-%s-%d", subject, category, tier.difficulty, i),
					Subject:       subject,
					Category:      category,
					Difficulty:    tier.difficulty,
					Prompt:        "Pick A",
					Options:       []string{"right", "wrong", "wrong", "wrong"},
					CorrectOption: "A",
				})
			}
		}
	}
	return qs
}

// fixtureStore can hide round records to simulate inconsistent storage.
type fixtureStore struct {
	*memory.DuelStore

	mu     sync.Mutex
	hidden map[string]int
}

func (s *fixtureStore) hideRound(duelID string, roundNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidden == nil {
		s.hidden = make(map[string]int)
	}
	s.hidden[duelID] = roundNumber
}

func (s *fixtureStore) Rounds(ctx context.Context, duelID string) ([]domain.DuelQuestion, error) {
	rounds, err := s.DuelStore.Rounds(ctx, duelID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	hidden, ok := s.hidden[duelID]
	s.mu.Unlock()
	if !ok {
		return rounds, nil
	}
	kept := rounds[:0]
	for _, r := range rounds {
		if r.RoundNumber != hidden {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// hookedUsers runs a one-shot hook on the next LastSeenAt lookup. The sweep
// reads presence between its scan and the duel lock, so the hook lands there.
type hookedUsers struct {
	app.UserState

	mu             sync.Mutex
	beforeLastSeen func()
}

func (u *hookedUsers) onNextLastSeen(fn func()) {
	u.mu.Lock()
	u.beforeLastSeen = fn
	u.mu.Unlock()
}

func (u *hookedUsers) LastSeenAt(ctx context.Context, userID string) (time.Time, error) {
	u.mu.Lock()
	hook := u.beforeLastSeen
	u.beforeLastSeen = nil
	u.mu.Unlock()
	if hook != nil {
		hook()
	}
	return u.UserState.LastSeenAt(ctx, userID)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pushed struct {
	UserID  string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []pushed
}

func (n *recordingNotifier) Push(_ context.Context, userID, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, pushed{UserID: userID, Event: event, Payload: payload})
	return nil
}

func (n *recordingNotifier) count(userID, event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, e := range n.events {
		if e.UserID == userID && e.Event == event {
			c++
		}
	}
	return c
}
