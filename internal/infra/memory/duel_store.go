package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-duel-service/internal/domain"
)

// DuelStore is an in-memory implementation of app.DuelRepository.
type DuelStore struct {
	mu     sync.RWMutex
	duels  map[string]domain.Duel
	rounds map[string]map[int]domain.DuelQuestion
}

func NewDuelStore() *DuelStore {
	return &DuelStore{
		duels:  make(map[string]domain.Duel),
		rounds: make(map[string]map[int]domain.DuelQuestion),
	}
}

func (s *DuelStore) Create(_ context.Context, duel *domain.Duel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.duels[duel.ID]; exists {
		return domain.ErrStaleDuel
	}
	duel.Version = 1
	s.duels[duel.ID] = cloneDuel(*duel)
	return nil
}

func (s *DuelStore) Get(_ context.Context, id string) (*domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	duel, ok := s.duels[id]
	if !ok {
		return nil, domain.ErrDuelNotFound
	}
	out := cloneDuel(duel)
	return &out, nil
}

func (s *DuelStore) Rounds(_ context.Context, duelID string) ([]domain.DuelQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.duels[duelID]; !ok {
		return nil, domain.ErrDuelNotFound
	}
	rounds := make([]domain.DuelQuestion, 0, len(s.rounds[duelID]))
	for _, r := range s.rounds[duelID] {
		rounds = append(rounds, cloneRound(r))
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber < rounds[j].RoundNumber })
	return rounds, nil
}

func (s *DuelStore) Save(_ context.Context, duel *domain.Duel, rounds ...domain.DuelQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.duels[duel.ID]
	if !ok {
		return domain.ErrDuelNotFound
	}
	if stored.Version != duel.Version {
		return domain.ErrStaleDuel
	}
	duel.Version++
	s.duels[duel.ID] = cloneDuel(*duel)

	if len(rounds) == 0 {
		return nil
	}
	byNumber, ok := s.rounds[duel.ID]
	if !ok {
		byNumber = make(map[int]domain.DuelQuestion, len(rounds))
		s.rounds[duel.ID] = byNumber
	}
	for _, r := range rounds {
		byNumber[r.RoundNumber] = cloneRound(r)
	}
	return nil
}

func (s *DuelStore) ActiveForUser(_ context.Context, userID string) (*domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.Duel
	for _, duel := range s.duels {
		if duel.Status.Terminal() || duel.SideOf(userID) == domain.SideNone {
			continue
		}
		if found == nil || duel.CreatedAt.After(found.CreatedAt) {
			d := cloneDuel(duel)
			found = &d
		}
	}
	return found, nil
}

func (s *DuelStore) StaleInProgress(_ context.Context, before time.Time) ([]domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []domain.Duel
	for _, duel := range s.duels {
		if duel.Status == domain.StatusInProgress && duel.UpdatedAt.Before(before) {
			stale = append(stale, cloneDuel(duel))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	return stale, nil
}

func cloneDuel(d domain.Duel) domain.Duel {
	if d.CompletedAt != nil {
		at := *d.CompletedAt
		d.CompletedAt = &at
	}
	return d
}

func cloneRound(r domain.DuelQuestion) domain.DuelQuestion {
	r.Challenger = cloneSlot(r.Challenger)
	r.Opponent = cloneSlot(r.Opponent)
	return r
}

func cloneSlot(s domain.AnswerSlot) domain.AnswerSlot {
	if s.Index != nil {
		idx := *s.Index
		s.Index = &idx
	}
	if s.AnsweredAt != nil {
		at := *s.AnsweredAt
		s.AnsweredAt = &at
	}
	return s
}
