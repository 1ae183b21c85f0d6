package app_test

import (
	"context"
	"errors"
	"testing"

	"quiz-duel-service/internal/app"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/infra/memory"
)

func TestAcceptMaterializesTieredRounds(t *testing.T) {
	f := newFixture(t)
	state := f.startDuel(t)

	if state.Duel.Status != domain.StatusInProgress || state.Duel.CurrentRound != 1 {
		t.Fatalf("expected in-progress duel at round 1, got %+v", state.Duel)
	}
	if len(state.Rounds) != app.RegulationRounds {
		t.Fatalf("expected %d rounds, got %d", app.RegulationRounds, len(state.Rounds))
	}
	seen := make(map[string]bool)
	for _, r := range state.Rounds {
		if want := app.DifficultyForRound(r.RoundNumber); r.Difficulty != want {
			t.Fatalf("round %d: expected %s, got %s", r.RoundNumber, want, r.Difficulty)
		}
		if seen[r.QuestionID] {
			t.Fatalf("question %s used twice", r.QuestionID)
		}
		seen[r.QuestionID] = true
	}
	if f.notifier.count("u1", app.EventStarted) != 1 || f.notifier.count("u2", app.EventStarted) != 1 {
		t.Fatalf("expected both participants notified of start")
	}
}

func TestChallengerWinsOnScore(t *testing.T) {
	f := newFixture(t)
	duelID := f.startDuel(t).Duel.ID

	var state domain.DuelState
	for round := 1; round <= 10; round++ {
		state = f.playRound(t, duelID, round <= 7, round <= 5)
	}

	duel := state.Duel
	if duel.Status != domain.StatusCompleted {
		t.Fatalf("expected completed duel, got %s", duel.Status)
	}
	if duel.ChallengerScore != 7 || duel.OpponentScore != 5 {
		t.Fatalf("expected 7-5, got %d-%d", duel.ChallengerScore, duel.OpponentScore)
	}
	if duel.WinnerID != "u1" || duel.Resolution != domain.ResolutionScore {
		t.Fatalf("expected u1 to win on score, got %q (%s)", duel.WinnerID, duel.Resolution)
	}
	if duel.CompletedAt == nil {
		t.Fatalf("expected completedAt set")
	}

	entries := f.ledger.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 rewards, got %+v", entries)
	}
	if entries[0] != (memory.LedgerEntry{UserID: "u1", Delta: 100}) || entries[1] != (memory.LedgerEntry{UserID: "u2", Delta: -50}) {
		t.Fatalf("unexpected rewards %+v", entries)
	}
	if f.notifier.count("u1", app.EventCompleted) != 1 || f.notifier.count("u2", app.EventCompleted) != 1 {
		t.Fatalf("expected one completion event per participant")
	}
}

func TestLevelScoreGoesToSuddenDeath(t *testing.T) {
	f := newFixture(t)
	duelID := f.startDuel(t).Duel.ID

	var state domain.DuelState
	for round := 1; round <= 10; round++ {
		state = f.playRound(t, duelID, round <= 5, round <= 5)
	}

	duel := state.Duel
	if duel.Status != domain.StatusInProgress || !duel.SuddenDeath {
		t.Fatalf("expected sudden death, got %+v", duel)
	}
	if duel.CurrentRound != 11 {
		t.Fatalf("expected round 11, got %d", duel.CurrentRound)
	}
	extra, ok := state.Round(11)
	if !ok || extra.Difficulty != domain.DifficultyHard {
		t.Fatalf("expected hard round 11, got %+v", extra)
	}
	for _, r := range state.Rounds[:10] {
		if r.QuestionID == extra.QuestionID {
			t.Fatalf("sudden death reused question %s", extra.QuestionID)
		}
	}

	// Both correct: still level, another round.
	state = f.playRound(t, duelID, true, true)
	if state.Duel.CurrentRound != 12 || state.Duel.Status != domain.StatusInProgress {
		t.Fatalf("expected round 12 still in progress, got %+v", state.Duel)
	}

	state = f.playRound(t, duelID, false, true)
	if state.Duel.Status != domain.StatusCompleted || state.Duel.WinnerID != "u2" {
		t.Fatalf("expected u2 to win sudden death, got %+v", state.Duel)
	}
	if state.Duel.Resolution != domain.ResolutionSuddenDeath {
		t.Fatalf("expected sudden death resolution, got %s", state.Duel.Resolution)
	}
	if len(f.ledger.Entries()) != 2 {
		t.Fatalf("expected rewards dispatched once, got %+v", f.ledger.Entries())
	}
}

func TestSubmitAnswerRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pending, err := f.service.CreateDuel(ctx, "u1", "u2", "math")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, pending.Duel.ID, "u1", 0); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on pending duel, got %v", err)
	}

	state, err := f.service.AcceptDuel(ctx, pending.Duel.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	duelID := state.Duel.ID

	for _, idx := range []int{-1, 4} {
		if _, err := f.service.SubmitAnswer(ctx, duelID, "u1", idx); !errors.Is(err, domain.ErrInvalidAnswer) {
			t.Fatalf("index %d: expected invalid answer, got %v", idx, err)
		}
	}
	if _, err := f.service.SubmitAnswer(ctx, duelID, "u3", 0); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, "missing", "u1", 0); !errors.Is(err, domain.ErrDuelNotFound) {
		t.Fatalf("expected duel not found, got %v", err)
	}

	if _, err := f.service.SubmitAnswer(ctx, duelID, "u1", correctAnswer); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	_, err = f.service.SubmitAnswer(ctx, duelID, "u1", wrongAnswer)
	if !errors.Is(err, domain.ErrAlreadyAnswered) || !domain.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate answer, got %v", err)
	}

	got, _ := f.service.GetDuel(ctx, duelID)
	if got.Duel.ChallengerScore != 1 {
		t.Fatalf("duplicate answer must not change score, got %d", got.Duel.ChallengerScore)
	}
	if f.notifier.count("u2", app.EventAnswerRecorded) != 1 {
		t.Fatalf("expected opponent told about the recorded answer")
	}
}

func TestAnswerKeyIsReadLive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	state := f.startDuel(t)

	round, _ := state.Round(1)
	q, err := f.catalog.Question(ctx, round.QuestionID)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	q.CorrectOption = "B"
	f.catalog.Put(q)

	got, err := f.service.SubmitAnswer(ctx, state.Duel.ID, "u1", 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Duel.ChallengerScore != 1 {
		t.Fatalf("expected the corrected answer key to apply")
	}
}

func TestCreateDuelRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.service.CreateDuel(ctx, "u1", "u1", "math"); !errors.Is(err, domain.ErrSelfDuel) {
		t.Fatalf("expected self duel, got %v", err)
	}
	if _, err := f.service.CreateDuel(ctx, "", "u2", "math"); !errors.Is(err, domain.ErrInvalidArgs) {
		t.Fatalf("expected invalid args, got %v", err)
	}

	_ = f.presence.SetFocus(ctx, "u2", true)
	_, err := f.service.CreateDuel(ctx, "u1", "u2", "math")
	if !errors.Is(err, domain.ErrFocusMode) || !domain.IsRejection(err) {
		t.Fatalf("expected focus rejection, got %v", err)
	}
}

func TestCreateDuelDefaultsSubject(t *testing.T) {
	f := newFixture(t)
	state, err := f.service.CreateDuel(context.Background(), "u1", "u2", "  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if state.Duel.Subject != domain.AnySubject || state.Duel.Status != domain.StatusPending {
		t.Fatalf("unexpected duel %+v", state.Duel)
	}
	if f.notifier.count("u2", app.EventChallenge) != 1 {
		t.Fatalf("expected opponent challenged")
	}
}

func TestDeclinePendingDuel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created, _ := f.service.CreateDuel(ctx, "u1", "u2", "math")

	if _, err := f.service.DeclineOrAbandonDuel(ctx, created.Duel.ID, "u3"); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}
	state, err := f.service.DeclineOrAbandonDuel(ctx, created.Duel.ID, "u2")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if state.Duel.Status != domain.StatusCancelled || state.Duel.Resolution != domain.ResolutionDeclined {
		t.Fatalf("expected declined duel, got %+v", state.Duel)
	}
	if f.notifier.count("u1", app.EventCancelled) != 1 {
		t.Fatalf("expected challenger told about the cancellation")
	}
	if _, err := f.service.DeclineOrAbandonDuel(ctx, created.Duel.ID, "u2"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on second decline, got %v", err)
	}
	if _, err := f.service.AcceptDuel(ctx, created.Duel.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected cancelled duel to stay cancelled, got %v", err)
	}
	if len(f.ledger.Entries()) != 0 {
		t.Fatalf("declined duels earn nothing")
	}
}

func TestAbandonRunningDuel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	duelID := f.startDuel(t).Duel.ID
	f.playRound(t, duelID, false, true)

	state, err := f.service.DeclineOrAbandonDuel(ctx, duelID, "u2")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if state.Duel.WinnerID != "u1" || state.Duel.Resolution != domain.ResolutionAbandoned {
		t.Fatalf("expected u1 to win by abandonment, got %+v", state.Duel)
	}
	if _, err := f.service.DeclineOrAbandonDuel(ctx, duelID, "u1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected completed duel to reject abandon, got %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, duelID, "u1", correctAnswer); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected completed duel to reject answers, got %v", err)
	}
	entries := f.ledger.Entries()
	if len(entries) != 2 || entries[0].UserID != "u1" || entries[0].Delta != 100 {
		t.Fatalf("expected winner rewarded once, got %+v", entries)
	}
}

func TestAcceptWithSmallCatalogReusesQuestions(t *testing.T) {
	f := newFixtureWithCatalog(t, seedQuestions("math")[:2])
	state := f.startDuel(t)
	if len(state.Rounds) != app.RegulationRounds {
		t.Fatalf("expected %d rounds, got %d", app.RegulationRounds, len(state.Rounds))
	}
}

func TestAcceptWithEmptyCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithCatalog(t, nil)
	created, err := f.service.CreateDuel(ctx, "u1", "u2", "math")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.AcceptDuel(ctx, created.Duel.ID); !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected no questions, got %v", err)
	}
	got, _ := f.service.GetDuel(ctx, created.Duel.ID)
	if got.Duel.Status != domain.StatusPending {
		t.Fatalf("failed accept must leave the duel pending, got %s", got.Duel.Status)
	}
}

func TestSubjectFallsBackToOtherSubjects(t *testing.T) {
	f := newFixtureWithCatalog(t, seedQuestions("history"))
	state := f.startDuel(t)
	if len(state.Rounds) != app.RegulationRounds {
		t.Fatalf("expected %d rounds, got %d", app.RegulationRounds, len(state.Rounds))
	}
	for _, r := range state.Rounds {
		if r.Difficulty != app.DifficultyForRound(r.RoundNumber) {
			t.Fatalf("round %d drawn from wrong tier", r.RoundNumber)
		}
	}
}

func TestActiveDuel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if d, _ := f.service.ActiveDuel(ctx, "u1"); d != nil {
		t.Fatalf("expected no active duel")
	}
	state := f.startDuel(t)
	d, err := f.service.ActiveDuel(ctx, "u2")
	if err != nil || d == nil || d.ID != state.Duel.ID {
		t.Fatalf("expected active duel %s, got %+v (%v)", state.Duel.ID, d, err)
	}
}
