package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

// RoundOutcome is the result of evaluating the current round.
type RoundOutcome uint8

const (
	// OutcomePending means at least one participant has not answered yet.
	OutcomePending RoundOutcome = iota
	OutcomeAdvance
	OutcomeWin
	OutcomeTie
)

func (o RoundOutcome) String() string {
	switch o {
	case OutcomeAdvance:
		return "advance"
	case OutcomeWin:
		return "win"
	case OutcomeTie:
		return "tie"
	default:
		return "pending"
	}
}

// ResolveRound decides what happens after both participants answered round.
// Rounds before the tenth always advance. From the tenth on, the leader wins
// and level scores send the duel into (or keep it in) sudden death.
func ResolveRound(duel domain.Duel, round domain.DuelQuestion) RoundOutcome {
	if !round.BothAnswered() {
		return OutcomePending
	}
	if round.RoundNumber < RegulationRounds {
		return OutcomeAdvance
	}
	if duel.Leader() != "" {
		return OutcomeWin
	}
	return OutcomeTie
}

// maxSubmitAttempts bounds retries when the sudden-death round must be fetched first.
const maxSubmitAttempts = 3

// errNeedTiebreak asks SubmitAnswer to prefetch the next hard round and retry.
var errNeedTiebreak = errors.New("tie-break round not prepared")

type submitResult struct {
	state    domain.DuelState
	outcome  RoundOutcome
	round    domain.DuelQuestion
	answered string
}

// SubmitAnswer records userID's answer for the current round and resolves it
// once both participants have answered.
func (s *DuelService) SubmitAnswer(ctx context.Context, duelID, userID string, answerIndex int) (domain.DuelState, error) {
	if _, ok := domain.OptionLetter(answerIndex); !ok {
		return domain.DuelState{}, domain.ErrInvalidAnswer
	}

	var prepareTiebreak bool
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		res, err := s.submitOnce(ctx, duelID, userID, answerIndex, prepareTiebreak)
		if errors.Is(err, errNeedTiebreak) {
			prepareTiebreak = true
			continue
		}
		if err != nil {
			return domain.DuelState{}, err
		}
		s.afterSubmit(ctx, res)
		return res.state, nil
	}
	return domain.DuelState{}, domain.ErrStaleDuel
}

func (s *DuelService) submitOnce(ctx context.Context, duelID, userID string, answerIndex int, prepareTiebreak bool) (submitResult, error) {
	// Everything that may touch the network happens before the duel lock.
	snapshot, err := s.load(ctx, duelID)
	if err != nil {
		return submitResult{}, err
	}
	if snapshot.Duel.Status != domain.StatusInProgress {
		return submitResult{}, domain.ErrInvalidState
	}
	side := snapshot.Duel.SideOf(userID)
	if side == domain.SideNone {
		return submitResult{}, domain.ErrNotParticipant
	}
	current, ok := snapshot.Round(snapshot.Duel.CurrentRound)
	if !ok {
		return submitResult{}, domain.ErrRoundNotFound
	}
	if current.Slot(side).Answered() {
		return submitResult{}, domain.ErrAlreadyAnswered
	}

	// The correct option is read live, not frozen at round creation.
	question, err := s.catalog.Question(ctx, current.QuestionID)
	if err != nil {
		return submitResult{}, fmt.Errorf("load question %s: %w", current.QuestionID, err)
	}
	correct := question.IsCorrect(answerIndex)

	var tiebreak *domain.DuelQuestion
	otherAnswered := current.Slot(opposite(side)).Answered()
	if snapshot.Duel.CurrentRound >= RegulationRounds && (otherAnswered || prepareTiebreak) {
		next, err := s.picker.suddenDeath(ctx, snapshot)
		if err != nil {
			return submitResult{}, fmt.Errorf("prepare sudden death: %w", err)
		}
		tiebreak = &next
	}

	var res submitResult
	err = s.locked(duelID, func() error {
		duel, err := s.duels.Get(ctx, duelID)
		if err != nil {
			return err
		}
		if duel.Status != domain.StatusInProgress {
			return domain.ErrInvalidState
		}
		if duel.CurrentRound != snapshot.Duel.CurrentRound {
			return domain.ErrStaleDuel
		}
		rounds, err := s.duels.Rounds(ctx, duelID)
		if err != nil {
			return err
		}
		idx := roundIndex(rounds, duel.CurrentRound)
		if idx < 0 {
			return domain.ErrRoundNotFound
		}
		cur := &rounds[idx]

		now := s.now()
		if err := cur.Slot(side).Record(answerIndex, correct, now); err != nil {
			return err
		}
		if correct {
			addPoint(duel, side)
		}
		duel.UpdatedAt = now

		outcome := ResolveRound(*duel, *cur)
		changed := []domain.DuelQuestion{*cur}
		switch outcome {
		case OutcomeAdvance:
			duel.CurrentRound++
		case OutcomeWin:
			resolution := domain.ResolutionScore
			if duel.SuddenDeath {
				resolution = domain.ResolutionSuddenDeath
			}
			if err := duel.Complete(duel.Leader(), resolution, now); err != nil {
				return err
			}
		case OutcomeTie:
			if tiebreak == nil || tiebreak.RoundNumber != duel.CurrentRound+1 {
				return errNeedTiebreak
			}
			duel.SuddenDeath = true
			duel.CurrentRound++
			changed = append(changed, *tiebreak)
			rounds = append(rounds, *tiebreak)
		}

		if err := s.duels.Save(ctx, duel, changed...); err != nil {
			return err
		}
		res = submitResult{
			state:    domain.DuelState{Duel: *duel, Rounds: rounds},
			outcome:  outcome,
			round:    *cur,
			answered: userID,
		}
		return nil
	})
	return res, err
}

func (s *DuelService) afterSubmit(ctx context.Context, res submitResult) {
	duel := res.state.Duel
	obslog.L().Info("duel_answer",
		zap.String("duel_id", duel.ID),
		zap.String("user_id", res.answered),
		zap.Int("round", res.round.RoundNumber),
		zap.String("outcome", res.outcome.String()),
		zap.Int("challenger_score", duel.ChallengerScore),
		zap.Int("opponent_score", duel.OpponentScore),
	)

	if res.outcome == OutcomePending {
		s.push(ctx, duel.Other(res.answered), EventAnswerRecorded, answerRecordedPayload{
			DuelID: duel.ID,
			Round:  res.round.RoundNumber,
			UserID: res.answered,
		})
		return
	}

	resolved := roundResolvedPayload{
		DuelID:            duel.ID,
		Round:             res.round.RoundNumber,
		Outcome:           res.outcome.String(),
		ChallengerCorrect: res.round.Challenger.Correct,
		OpponentCorrect:   res.round.Opponent.Correct,
		ChallengerScore:   duel.ChallengerScore,
		OpponentScore:     duel.OpponentScore,
		NextRound:         duel.CurrentRound,
		SuddenDeath:       duel.SuddenDeath,
	}
	for _, userID := range duel.Participants() {
		s.push(ctx, userID, EventRoundResolved, resolved)
	}
	if res.outcome == OutcomeWin {
		s.afterCompletion(ctx, duel)
	}
}

func addPoint(duel *domain.Duel, side domain.Side) {
	switch side {
	case domain.SideChallenger:
		duel.ChallengerScore++
	case domain.SideOpponent:
		duel.OpponentScore++
	}
}

func opposite(side domain.Side) domain.Side {
	switch side {
	case domain.SideChallenger:
		return domain.SideOpponent
	case domain.SideOpponent:
		return domain.SideChallenger
	default:
		return domain.SideNone
	}
}

func roundIndex(rounds []domain.DuelQuestion, number int) int {
	for i := range rounds {
		if rounds[i].RoundNumber == number {
			return i
		}
	}
	return -1
}

type answerRecordedPayload struct {
	DuelID string `json:"duelId"`
	Round  int    `json:"round"`
	UserID string `json:"userId"`
}

type roundResolvedPayload struct {
	DuelID            string `json:"duelId"`
	Round             int    `json:"round"`
	Outcome           string `json:"outcome"`
	ChallengerCorrect bool   `json:"challengerCorrect"`
	OpponentCorrect   bool   `json:"opponentCorrect"`
	ChallengerScore   int    `json:"challengerScore"`
	OpponentScore     int    `json:"opponentScore"`
	NextRound         int    `json:"nextRound"`
	SuddenDeath       bool   `json:"suddenDeath"`
}
