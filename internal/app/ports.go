package app

import (
	"context"
	"time"

	"quiz-duel-service/internal/domain"
)

// DuelRepository persists duels and their rounds.
//
// Save is a compare-and-set: it fails with domain.ErrStaleDuel unless the stored
// version equals duel.Version, and on success bumps duel.Version. The given rounds
// are upserted in the same write.
type DuelRepository interface {
	Create(ctx context.Context, duel *domain.Duel) error
	Get(ctx context.Context, id string) (*domain.Duel, error)
	Rounds(ctx context.Context, duelID string) ([]domain.DuelQuestion, error)
	Save(ctx context.Context, duel *domain.Duel, rounds ...domain.DuelQuestion) error
	// ActiveForUser returns the user's PENDING or IN_PROGRESS duel, or nil.
	ActiveForUser(ctx context.Context, userID string) (*domain.Duel, error)
	// StaleInProgress lists IN_PROGRESS duels last updated before the cutoff.
	StaleInProgress(ctx context.Context, before time.Time) ([]domain.Duel, error)
}

// QuestionCatalog is the question bank. The fallback cascade is owned by the caller.
type QuestionCatalog interface {
	FetchPool(ctx context.Context, filter domain.PoolFilter) ([]domain.Question, error)
	Question(ctx context.Context, id string) (domain.Question, error)
}

// XPAwarder is the reward/leveling service boundary.
type XPAwarder interface {
	AwardXP(ctx context.Context, userID string, delta int) (domain.XPTotals, error)
}

// Notifier delivers best-effort events to connected clients.
type Notifier interface {
	Push(ctx context.Context, userID, event string, payload any) error
}

// UserState reports availability and presence of users.
type UserState interface {
	IsFocusMode(ctx context.Context, userID string) (bool, error)
	LastSeenAt(ctx context.Context, userID string) (time.Time, error)
}

// Settings tunes the duel subsystem.
type Settings struct {
	PoolSize            int
	InactivityThreshold time.Duration
	SweepInterval       time.Duration
	WinXP               int
	LossXP              int
	DrawXP              int
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		PoolSize:            20,
		InactivityThreshold: 3 * time.Minute,
		SweepInterval:       2 * time.Minute,
		WinXP:               100,
		LossXP:              -50,
		DrawXP:              50,
	}
}

// Event names pushed through the Notifier.
const (
	EventChallenge      = "duel.challenge"
	EventMatchFound     = "duel.match_found"
	EventStarted        = "duel.started"
	EventAnswerRecorded = "duel.answer_recorded"
	EventRoundResolved  = "duel.round_resolved"
	EventCompleted      = "duel.completed"
	EventCancelled      = "duel.cancelled"
)

type nopNotifier struct{}

func (nopNotifier) Push(context.Context, string, string, any) error { return nil }
