package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

const sweepJobName = "duel-abandonment-sweep"

// SweepReport summarizes one pass of the abandonment monitor.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Forfeited int `json:"forfeited"`
	Drawn     int `json:"drawn"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// AbandonmentMonitor periodically closes in-progress duels nobody is playing anymore.
type AbandonmentMonitor struct {
	service    *DuelService
	inactivity time.Duration
	interval   time.Duration

	mu    sync.Mutex
	sched gocron.Scheduler
}

func NewAbandonmentMonitor(service *DuelService, settings Settings) *AbandonmentMonitor {
	defaults := DefaultSettings()
	if settings.InactivityThreshold <= 0 {
		settings.InactivityThreshold = defaults.InactivityThreshold
	}
	if settings.SweepInterval <= 0 {
		settings.SweepInterval = defaults.SweepInterval
	}
	return &AbandonmentMonitor{
		service:    service,
		inactivity: settings.InactivityThreshold,
		interval:   settings.SweepInterval,
	}
}

// Start schedules Sweep every interval until Stop or ctx is done.
func (m *AbandonmentMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched != nil {
		return errors.New("abandonment monitor already started")
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			m.Sweep(ctx)
		}),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	sched.Start()
	m.sched = sched

	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()
	obslog.L().Info("duel_monitor_start", zap.Duration("interval", m.interval), zap.Duration("inactivity", m.inactivity))
	return nil
}

// Stop shuts the scheduler down. Calling it twice is harmless.
func (m *AbandonmentMonitor) Stop() error {
	m.mu.Lock()
	sched := m.sched
	m.sched = nil
	m.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Shutdown()
}

// Sweep resolves every in-progress duel idle for longer than the inactivity threshold.
// A failure on one duel is logged and counted; the sweep goes on with the rest.
func (m *AbandonmentMonitor) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	cutoff := m.service.now().Add(-m.inactivity)

	stale, err := m.service.duels.StaleInProgress(ctx, cutoff)
	if err != nil {
		obslog.L().Error("duel_sweep_list_error", zap.Error(err))
		report.Failed++
		return report
	}

	for _, duel := range stale {
		report.Scanned++
		action, err := m.service.resolveStale(ctx, duel.ID, cutoff)
		if err != nil {
			obslog.L().Error("duel_sweep_error", zap.String("duel_id", duel.ID), zap.Error(err))
			report.Failed++
			continue
		}
		switch action {
		case staleForfeit:
			report.Forfeited++
		case staleDraw:
			report.Drawn++
		case staleCancelled:
			report.Cancelled++
		default:
			report.Skipped++
		}
	}

	if report.Scanned > 0 || report.Failed > 0 {
		obslog.L().Info("duel_sweep",
			zap.Int("scanned", report.Scanned),
			zap.Int("forfeited", report.Forfeited),
			zap.Int("drawn", report.Drawn),
			zap.Int("cancelled", report.Cancelled),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report
}

type staleAction uint8

const (
	staleSkipped staleAction = iota
	staleForfeit
	staleDraw
	staleCancelled
)

// resolveStale closes one idle duel. Presence is read before the duel lock;
// under the lock the duel must be unchanged since that read, otherwise a live
// answer got there first and the duel is left alone.
func (s *DuelService) resolveStale(ctx context.Context, duelID string, cutoff time.Time) (staleAction, error) {
	snapshot, err := s.duels.Get(ctx, duelID)
	if err != nil {
		return staleSkipped, err
	}
	if snapshot.Status != domain.StatusInProgress || !snapshot.UpdatedAt.Before(cutoff) {
		return staleSkipped, nil
	}
	challengerSeen := s.lastSeen(ctx, snapshot.ChallengerID)
	opponentSeen := s.lastSeen(ctx, snapshot.OpponentID)

	var (
		action staleAction
		result domain.Duel
	)
	err = s.locked(duelID, func() error {
		duel, err := s.duels.Get(ctx, duelID)
		if err != nil {
			return err
		}
		if duel.Status != domain.StatusInProgress || duel.Version != snapshot.Version || !duel.UpdatedAt.Before(cutoff) {
			action = staleSkipped
			return nil
		}
		rounds, err := s.duels.Rounds(ctx, duelID)
		if err != nil {
			return err
		}

		now := s.now()
		idx := roundIndex(rounds, duel.CurrentRound)
		if idx < 0 {
			if err := duel.Abort(now); err != nil {
				return err
			}
			action = staleCancelled
		} else {
			winner, resolution := staleWinner(duel, rounds[idx], challengerSeen, opponentSeen)
			if err := duel.Complete(winner, resolution, now); err != nil {
				return err
			}
			action = staleForfeit
			if winner == "" {
				action = staleDraw
			}
		}
		if err := s.duels.Save(ctx, duel); err != nil {
			return err
		}
		result = *duel
		return nil
	})
	if err != nil || action == staleSkipped {
		return action, err
	}

	obslog.L().Info("duel_sweep_resolve",
		zap.String("duel_id", duelID),
		zap.String("status", result.Status.String()),
		zap.String("resolution", string(result.Resolution)),
		zap.String("winner_id", result.WinnerID),
	)
	if action == staleCancelled {
		s.notifyCancelled(ctx, result)
	} else {
		s.afterCompletion(ctx, result)
	}
	return action, nil
}

// staleWinner picks who takes an idle duel. The side that answered the current
// round wins; if nobody answered, whoever was seen more recently wins; equal
// presence is a draw.
func staleWinner(duel *domain.Duel, round domain.DuelQuestion, challengerSeen, opponentSeen time.Time) (string, domain.Resolution) {
	challengerAnswered := round.Challenger.Answered()
	opponentAnswered := round.Opponent.Answered()
	switch {
	case challengerAnswered && !opponentAnswered:
		return duel.ChallengerID, domain.ResolutionForfeit
	case opponentAnswered && !challengerAnswered:
		return duel.OpponentID, domain.ResolutionForfeit
	case challengerAnswered && opponentAnswered:
		if leader := duel.Leader(); leader != "" {
			return leader, domain.ResolutionForfeit
		}
		return "", domain.ResolutionDraw
	}

	switch {
	case challengerSeen.Before(opponentSeen):
		return duel.OpponentID, domain.ResolutionForfeit
	case opponentSeen.Before(challengerSeen):
		return duel.ChallengerID, domain.ResolutionForfeit
	default:
		return "", domain.ResolutionDraw
	}
}

// lastSeen returns the zero time when presence is unknown.
func (s *DuelService) lastSeen(ctx context.Context, userID string) time.Time {
	if s.users == nil {
		return time.Time{}
	}
	seen, err := s.users.LastSeenAt(ctx, userID)
	if err != nil {
		obslog.L().Warn("duel_presence_error", zap.String("user_id", userID), zap.Error(err))
		return time.Time{}
	}
	return seen
}
