package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

// Deps are the collaborators of the duel subsystem.
type Deps struct {
	Duels    DuelRepository
	Catalog  QuestionCatalog
	Users    UserState
	Notifier Notifier
	Rewards  *RewardDispatcher
	// Clock and NewID are overridable for deterministic tests.
	Clock func() time.Time
	NewID func() string
}

// DuelService owns the duel lifecycle and the round engine.
type DuelService struct {
	duels    DuelRepository
	catalog  QuestionCatalog
	users    UserState
	notifier Notifier
	rewards  *RewardDispatcher
	picker   *questionPicker
	locks    *keyedMutex
	now      func() time.Time
	newID    func() string
	settings Settings
}

func NewDuelService(deps Deps, settings Settings) *DuelService {
	s := &DuelService{
		duels:    deps.Duels,
		catalog:  deps.Catalog,
		users:    deps.Users,
		notifier: deps.Notifier,
		rewards:  deps.Rewards,
		locks:    newKeyedMutex(),
		now:      deps.Clock,
		newID:    deps.NewID,
		settings: settings,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if settings.PoolSize <= 0 {
		s.settings.PoolSize = DefaultSettings().PoolSize
	}
	s.picker = &questionPicker{catalog: s.catalog, poolSize: s.settings.PoolSize}
	return s
}

// CreateDuel persists a pending challenge and notifies the opponent.
func (s *DuelService) CreateDuel(ctx context.Context, challengerID, opponentID, subject string) (domain.DuelState, error) {
	challengerID = strings.TrimSpace(challengerID)
	opponentID = strings.TrimSpace(opponentID)
	if challengerID == "" || opponentID == "" {
		return domain.DuelState{}, domain.ErrInvalidArgs
	}
	if challengerID == opponentID {
		return domain.DuelState{}, domain.ErrSelfDuel
	}

	focus, err := s.users.IsFocusMode(ctx, opponentID)
	if err != nil {
		return domain.DuelState{}, fmt.Errorf("lookup opponent state: %w", err)
	}
	if focus {
		return domain.DuelState{}, domain.ErrFocusMode
	}

	now := s.now()
	duel := domain.Duel{
		ID:           s.newID(),
		ChallengerID: challengerID,
		OpponentID:   opponentID,
		Status:       domain.StatusPending,
		Subject:      strings.TrimSpace(subject),
		CurrentRound: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if duel.Subject == "" {
		duel.Subject = domain.AnySubject
	}
	if err := s.duels.Create(ctx, &duel); err != nil {
		return domain.DuelState{}, fmt.Errorf("create duel: %w", err)
	}

	obslog.L().Info("duel_create",
		zap.String("duel_id", duel.ID),
		zap.String("challenger_id", challengerID),
		zap.String("opponent_id", opponentID),
		zap.String("subject", duel.Subject),
	)
	s.push(ctx, opponentID, EventChallenge, challengePayload{
		DuelID:       duel.ID,
		ChallengerID: challengerID,
		Subject:      duel.Subject,
	})
	return domain.DuelState{Duel: duel}, nil
}

// AcceptDuel starts a pending duel and materializes its regulation rounds.
func (s *DuelService) AcceptDuel(ctx context.Context, duelID string) (domain.DuelState, error) {
	snapshot, err := s.duels.Get(ctx, duelID)
	if err != nil {
		return domain.DuelState{}, err
	}
	if snapshot.Status != domain.StatusPending {
		return domain.DuelState{}, domain.ErrInvalidState
	}

	rounds, err := s.picker.regulation(ctx, snapshot.ID, snapshot.Subject)
	if err != nil {
		return domain.DuelState{}, fmt.Errorf("materialize rounds: %w", err)
	}

	var state domain.DuelState
	err = s.locked(duelID, func() error {
		duel, err := s.duels.Get(ctx, duelID)
		if err != nil {
			return err
		}
		if duel.Status != domain.StatusPending {
			return domain.ErrInvalidState
		}
		if err := duel.Transition(domain.StatusInProgress); err != nil {
			return err
		}
		duel.CurrentRound = 1
		duel.UpdatedAt = s.now()
		if err := s.duels.Save(ctx, duel, rounds...); err != nil {
			return err
		}
		state = domain.DuelState{Duel: *duel, Rounds: rounds}
		return nil
	})
	if err != nil {
		return domain.DuelState{}, err
	}

	obslog.L().Info("duel_accept", zap.String("duel_id", duelID), zap.Int("rounds", len(rounds)))
	for _, userID := range state.Duel.Participants() {
		s.push(ctx, userID, EventStarted, startedPayload{
			DuelID:       duelID,
			CurrentRound: state.Duel.CurrentRound,
			Rounds:       len(state.Rounds),
		})
	}
	return state, nil
}

// DeclineOrAbandonDuel cancels a pending duel or forfeits a running one for userID.
func (s *DuelService) DeclineOrAbandonDuel(ctx context.Context, duelID, userID string) (domain.DuelState, error) {
	var (
		state     domain.DuelState
		completed bool
	)
	err := s.locked(duelID, func() error {
		duel, err := s.duels.Get(ctx, duelID)
		if err != nil {
			return err
		}
		if duel.SideOf(userID) == domain.SideNone {
			return domain.ErrNotParticipant
		}

		now := s.now()
		switch duel.Status {
		case domain.StatusPending:
			if err := duel.Transition(domain.StatusCancelled); err != nil {
				return err
			}
			duel.Resolution = domain.ResolutionDeclined
			duel.UpdatedAt = now
		case domain.StatusInProgress:
			if err := duel.Complete(duel.Other(userID), domain.ResolutionAbandoned, now); err != nil {
				return err
			}
			completed = true
		default:
			return domain.ErrInvalidState
		}
		if err := s.duels.Save(ctx, duel); err != nil {
			return err
		}
		rounds, err := s.duels.Rounds(ctx, duelID)
		if err != nil {
			return err
		}
		state = domain.DuelState{Duel: *duel, Rounds: rounds}
		return nil
	})
	if err != nil {
		return domain.DuelState{}, err
	}

	if completed {
		obslog.L().Info("duel_abandon", zap.String("duel_id", duelID), zap.String("user_id", userID), zap.String("winner_id", state.Duel.WinnerID))
		s.afterCompletion(ctx, state.Duel)
		return state, nil
	}
	obslog.L().Info("duel_decline", zap.String("duel_id", duelID), zap.String("user_id", userID))
	s.notifyCancelled(ctx, state.Duel)
	return state, nil
}

// GetDuel returns the duel with every round loaded in one read.
func (s *DuelService) GetDuel(ctx context.Context, duelID string) (domain.DuelState, error) {
	var state domain.DuelState
	err := s.locked(duelID, func() error {
		var err error
		state, err = s.load(ctx, duelID)
		return err
	})
	return state, err
}

// ActiveDuel returns the user's pending or running duel, or nil.
func (s *DuelService) ActiveDuel(ctx context.Context, userID string) (*domain.Duel, error) {
	return s.duels.ActiveForUser(ctx, userID)
}

func (s *DuelService) load(ctx context.Context, duelID string) (domain.DuelState, error) {
	duel, err := s.duels.Get(ctx, duelID)
	if err != nil {
		return domain.DuelState{}, err
	}
	rounds, err := s.duels.Rounds(ctx, duelID)
	if err != nil {
		return domain.DuelState{}, err
	}
	return domain.DuelState{Duel: *duel, Rounds: rounds}, nil
}

func (s *DuelService) locked(duelID string, fn func() error) error {
	unlock := s.locks.Lock(duelID)
	defer unlock()
	return fn()
}

// afterCompletion runs once per COMPLETED transition, outside the duel lock.
func (s *DuelService) afterCompletion(ctx context.Context, duel domain.Duel) {
	if s.rewards != nil {
		s.rewards.Dispatch(ctx, duel)
	}
	payload := completedPayload{
		DuelID:          duel.ID,
		WinnerID:        duel.WinnerID,
		Resolution:      string(duel.Resolution),
		ChallengerScore: duel.ChallengerScore,
		OpponentScore:   duel.OpponentScore,
		Rounds:          duel.CurrentRound,
	}
	for _, userID := range duel.Participants() {
		s.push(ctx, userID, EventCompleted, payload)
	}
}

func (s *DuelService) notifyCancelled(ctx context.Context, duel domain.Duel) {
	payload := cancelledPayload{DuelID: duel.ID, Reason: string(duel.Resolution)}
	for _, userID := range duel.Participants() {
		s.push(ctx, userID, EventCancelled, payload)
	}
}

// push is fire-and-forget; delivery failures never affect duel state.
func (s *DuelService) push(ctx context.Context, userID, event string, payload any) {
	if err := s.notifier.Push(ctx, userID, event, payload); err != nil {
		obslog.L().Warn("duel_notify_error", zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
	}
}

type challengePayload struct {
	DuelID       string `json:"duelId"`
	ChallengerID string `json:"challengerId"`
	Subject      string `json:"subject"`
}

type startedPayload struct {
	DuelID       string `json:"duelId"`
	CurrentRound int    `json:"currentRound"`
	Rounds       int    `json:"rounds"`
}

type completedPayload struct {
	DuelID          string `json:"duelId"`
	WinnerID        string `json:"winnerId,omitempty"`
	Resolution      string `json:"resolution"`
	ChallengerScore int    `json:"challengerScore"`
	OpponentScore   int    `json:"opponentScore"`
	Rounds          int    `json:"rounds"`
}

type cancelledPayload struct {
	DuelID string `json:"duelId"`
	Reason string `json:"reason,omitempty"`
}
