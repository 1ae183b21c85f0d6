package app

import (
	"context"

	"go.uber.org/zap"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

// Award is one XP delta owed to a participant.
type Award struct {
	UserID string
	Delta  int
}

// RewardDispatcher hands XP to the participants of a completed duel.
type RewardDispatcher struct {
	awarder  XPAwarder
	settings Settings
}

func NewRewardDispatcher(awarder XPAwarder, settings Settings) *RewardDispatcher {
	return &RewardDispatcher{awarder: awarder, settings: settings}
}

// Awards computes the deltas for duel. Only COMPLETED duels earn anything.
func (r *RewardDispatcher) Awards(duel domain.Duel) []Award {
	if duel.Status != domain.StatusCompleted {
		return nil
	}
	if duel.WinnerID == "" {
		return []Award{
			{UserID: duel.ChallengerID, Delta: r.settings.DrawXP},
			{UserID: duel.OpponentID, Delta: r.settings.DrawXP},
		}
	}
	return []Award{
		{UserID: duel.WinnerID, Delta: r.settings.WinXP},
		{UserID: duel.Other(duel.WinnerID), Delta: r.settings.LossXP},
	}
}

// Dispatch awards XP for duel. Failures are logged and never surface to the caller.
func (r *RewardDispatcher) Dispatch(ctx context.Context, duel domain.Duel) {
	if r == nil || r.awarder == nil {
		return
	}
	for _, award := range r.Awards(duel) {
		totals, err := r.awarder.AwardXP(ctx, award.UserID, award.Delta)
		if err != nil {
			obslog.L().Error("duel_reward_error",
				zap.String("duel_id", duel.ID),
				zap.String("user_id", award.UserID),
				zap.Int("delta", award.Delta),
				zap.Error(err),
			)
			continue
		}
		obslog.L().Info("duel_reward",
			zap.String("duel_id", duel.ID),
			zap.String("user_id", award.UserID),
			zap.Int("delta", award.Delta),
			zap.Int64("total_xp", totals.TotalXP),
			zap.Int("level", totals.Level),
		)
	}
}
