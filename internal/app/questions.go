package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

// RegulationRounds is the number of rounds materialized when a duel starts.
const RegulationRounds = 10

type tier struct {
	difficulty domain.Difficulty
	first      int
	last       int
}

var regulationTiers = []tier{
	{difficulty: domain.DifficultyEasy, first: 1, last: 3},
	{difficulty: domain.DifficultyMedium, first: 4, last: 7},
	{difficulty: domain.DifficultyHard, first: 8, last: 10},
}

// DifficultyForRound returns the tier of a round; sudden-death rounds are hard.
func DifficultyForRound(round int) domain.Difficulty {
	for _, t := range regulationTiers {
		if round >= t.first && round <= t.last {
			return t.difficulty
		}
	}
	return domain.DifficultyHard
}

type questionPicker struct {
	catalog  QuestionCatalog
	poolSize int
}

// cascade lists the pools tried in order for one difficulty tier.
func (p *questionPicker) cascade(subject string, difficulty domain.Difficulty) []domain.PoolFilter {
	var steps []domain.PoolFilter
	if subject != "" {
		steps = append(steps,
			domain.PoolFilter{Subject: subject, Difficulty: difficulty, Category: domain.CategoryExam},
			domain.PoolFilter{Subject: subject, Difficulty: difficulty, Category: domain.CategoryQuiz},
		)
	}
	steps = append(steps,
		domain.PoolFilter{Difficulty: difficulty, Category: domain.CategoryExam},
		domain.PoolFilter{Difficulty: difficulty, Category: domain.CategoryQuiz},
		domain.PoolFilter{},
	)
	for i := range steps {
		steps[i].Limit = p.poolSize
	}
	return steps
}

// pick walks the cascade until n questions not in exclude are collected.
// A failing pool is logged and skipped; the error is returned only if every pool failed.
func (p *questionPicker) pick(ctx context.Context, subject string, difficulty domain.Difficulty, n int, exclude map[string]struct{}) ([]domain.Question, error) {
	seen := make(map[string]struct{}, len(exclude)+n)
	for id := range exclude {
		seen[id] = struct{}{}
	}

	var (
		picked  []domain.Question
		lastErr error
		failed  int
	)
	steps := p.cascade(subject, difficulty)
	for _, filter := range steps {
		if len(picked) >= n {
			break
		}
		pool, err := p.catalog.FetchPool(ctx, filter)
		if err != nil {
			obslog.L().Warn("duel_pool_fetch_error", zap.String("pool", filter.Key()), zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		for _, q := range pool {
			if len(picked) >= n {
				break
			}
			if _, dup := seen[q.ID]; dup {
				continue
			}
			seen[q.ID] = struct{}{}
			picked = append(picked, q)
		}
	}
	if failed == len(steps) {
		return nil, fmt.Errorf("fetch question pools: %w", lastErr)
	}
	return picked, nil
}

// regulation builds the ten opening rounds of a duel.
// When the catalog is too small, earlier picks are reused to fill the gaps.
func (p *questionPicker) regulation(ctx context.Context, duelID, subject string) ([]domain.DuelQuestion, error) {
	subject = normalizeSubject(subject)
	used := make(map[string]struct{})
	perTier := make([][]domain.Question, len(regulationTiers))
	var all []domain.Question

	for i, t := range regulationTiers {
		need := t.last - t.first + 1
		qs, err := p.pick(ctx, subject, t.difficulty, need, used)
		if err != nil {
			return nil, err
		}
		for _, q := range qs {
			used[q.ID] = struct{}{}
		}
		perTier[i] = qs
		all = append(all, qs...)
	}
	if len(all) == 0 {
		return nil, domain.ErrNoQuestions
	}

	rounds := make([]domain.DuelQuestion, 0, RegulationRounds)
	reuse := 0
	for i, t := range regulationTiers {
		qs := perTier[i]
		for round := t.first; round <= t.last; round++ {
			var q domain.Question
			if k := round - t.first; k < len(qs) {
				q = qs[k]
			} else {
				q = all[reuse%len(all)]
				reuse++
			}
			rounds = append(rounds, domain.DuelQuestion{
				DuelID:      duelID,
				QuestionID:  q.ID,
				RoundNumber: round,
				Difficulty:  t.difficulty,
			})
		}
	}
	if reuse > 0 {
		obslog.L().Warn("duel_questions_reused", zap.String("duel_id", duelID), zap.Int("reused", reuse))
	}
	return rounds, nil
}

// suddenDeath prepares the hard round that follows the given state's current round.
func (p *questionPicker) suddenDeath(ctx context.Context, state domain.DuelState) (domain.DuelQuestion, error) {
	duel := state.Duel
	used := make(map[string]struct{}, len(state.Rounds))
	for _, r := range state.Rounds {
		used[r.QuestionID] = struct{}{}
	}
	next := domain.DuelQuestion{
		DuelID:      duel.ID,
		RoundNumber: duel.CurrentRound + 1,
		Difficulty:  domain.DifficultyHard,
	}

	qs, err := p.pick(ctx, normalizeSubject(duel.Subject), domain.DifficultyHard, 1, used)
	if err != nil {
		return domain.DuelQuestion{}, err
	}
	if len(qs) > 0 {
		next.QuestionID = qs[0].ID
		return next, nil
	}

	// Catalog exhausted: replay the oldest hard question of this duel.
	for _, r := range state.Rounds {
		if r.Difficulty == domain.DifficultyHard {
			next.QuestionID = r.QuestionID
			return next, nil
		}
	}
	if len(state.Rounds) > 0 {
		next.QuestionID = state.Rounds[0].QuestionID
		return next, nil
	}
	return domain.DuelQuestion{}, domain.ErrNoQuestions
}

func normalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	if strings.EqualFold(s, domain.AnySubject) {
		return ""
	}
	return s
}
