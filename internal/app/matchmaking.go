package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

// ErrMatchmakerClosed is returned by JoinQueue after Close.
var ErrMatchmakerClosed = errors.New("matchmaker closed")

// DuelCreator is the slice of DuelService the matchmaker needs.
type DuelCreator interface {
	CreateDuel(ctx context.Context, challengerID, opponentID, subject string) (domain.DuelState, error)
	ActiveDuel(ctx context.Context, userID string) (*domain.Duel, error)
}

type arenaQueue struct {
	mu      sync.Mutex
	waiting []string
}

// Matchmaker pairs waiting users per arena. Queues live in memory only.
//
// A user waits in at most one arena: joining another arena leaves the previous
// one. Users popped for a pairing are claimed until the duel is created, and a
// claimed user cannot join any queue.
type Matchmaker struct {
	users    UserState
	duels    DuelCreator
	notifier Notifier

	// mu guards arenas, members, claimed and closed. It is taken before any arena lock.
	mu      sync.Mutex
	arenas  map[string]*arenaQueue
	members map[string]string
	claimed map[string]struct{}
	closed  bool
}

func NewMatchmaker(users UserState, duels DuelCreator, notifier Notifier) *Matchmaker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Matchmaker{
		users:    users,
		duels:    duels,
		notifier: notifier,
		arenas:   make(map[string]*arenaQueue),
		members:  make(map[string]string),
		claimed:  make(map[string]struct{}),
	}
}

// JoinQueue puts userID in the arena queue and tries to form pairs right away.
// A user already waiting in another arena is moved.
func (m *Matchmaker) JoinQueue(ctx context.Context, userID, arena string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ErrInvalidArgs
	}
	arena = normalizeArena(arena)

	focus, err := m.users.IsFocusMode(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user state: %w", err)
	}
	if focus {
		return domain.ErrFocusMode
	}
	active, err := m.duels.ActiveDuel(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup active duel: %w", err)
	}
	if active != nil {
		return domain.ErrActiveDuel
	}

	q, size, err := m.enqueue(userID, arena)
	if err != nil {
		return err
	}
	obslog.L().Debug("queue_join", zap.String("user_id", userID), zap.String("arena", arena), zap.Int("waiting", size))
	m.tryMatch(ctx, arena, q)
	return nil
}

func (m *Matchmaker) enqueue(userID, arena string) (*arenaQueue, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, 0, ErrMatchmakerClosed
	}
	if _, busy := m.claimed[userID]; busy {
		return nil, 0, domain.ErrActiveDuel
	}
	if prev, ok := m.members[userID]; ok && prev != arena {
		if pq, ok := m.arenas[prev]; ok {
			pq.remove(userID)
		}
		obslog.L().Debug("queue_move", zap.String("user_id", userID), zap.String("from", prev), zap.String("to", arena))
	}
	m.members[userID] = arena

	q, ok := m.arenas[arena]
	if !ok {
		q = &arenaQueue{}
		m.arenas[arena] = q
	}
	q.mu.Lock()
	if !contains(q.waiting, userID) {
		q.waiting = append(q.waiting, userID)
	}
	size := len(q.waiting)
	q.mu.Unlock()
	return q, size, nil
}

// LeaveQueue removes userID from the arena queue. Unknown users are ignored.
func (m *Matchmaker) LeaveQueue(userID, arena string) {
	arena = normalizeArena(arena)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[userID] != arena {
		return
	}
	delete(m.members, userID)
	if q, ok := m.arenas[arena]; ok {
		q.remove(userID)
	}
}

// Waiting returns a copy of the arena queue in FIFO order.
func (m *Matchmaker) Waiting(arena string) []string {
	m.mu.Lock()
	q, ok := m.arenas[normalizeArena(arena)]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.waiting...)
}

// Close drops every queue. Later joins fail with ErrMatchmakerClosed.
func (m *Matchmaker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, q := range m.arenas {
		q.mu.Lock()
		q.waiting = nil
		q.mu.Unlock()
	}
	m.arenas = make(map[string]*arenaQueue)
	m.members = make(map[string]string)
}

// tryMatch pairs users until fewer than two are waiting.
// Every iteration removes at least one user, so the loop terminates.
func (m *Matchmaker) tryMatch(ctx context.Context, arena string, q *arenaQueue) {
	for {
		first, second, ok := q.popPair()
		if !ok {
			return
		}
		if first == second {
			m.requeue(arena, q, first)
			continue
		}

		// A popped user who moved to another arena meanwhile is no longer ours.
		okFirst, okSecond := m.claim(arena, first, second)
		switch {
		case !okFirst && !okSecond:
			continue
		case !okFirst:
			m.requeue(arena, q, second)
			continue
		case !okSecond:
			m.requeue(arena, q, first)
			continue
		}

		if !m.eligible(ctx, first) {
			m.release(first)
			m.requeue(arena, q, second)
			continue
		}
		if !m.eligible(ctx, second) {
			m.release(second)
			m.requeue(arena, q, first)
			continue
		}

		state, err := m.duels.CreateDuel(ctx, first, second, arena)
		if err != nil {
			obslog.L().Warn("queue_match_error",
				zap.String("arena", arena),
				zap.String("challenger_id", first),
				zap.String("opponent_id", second),
				zap.Error(err),
			)
			m.release(second)
			m.requeue(arena, q, first)
			continue
		}
		m.release(first)
		m.release(second)

		obslog.L().Info("queue_match",
			zap.String("arena", arena),
			zap.String("duel_id", state.Duel.ID),
			zap.String("challenger_id", first),
			zap.String("opponent_id", second),
		)
		m.notifyMatch(ctx, state.Duel.ID, arena, first, second)
		m.notifyMatch(ctx, state.Duel.ID, arena, second, first)
	}
}

// claim takes popped users out of the membership index for the duration of a match attempt.
func (m *Matchmaker) claim(arena, first, second string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	take := func(userID string) bool {
		if m.members[userID] != arena {
			return false
		}
		delete(m.members, userID)
		m.claimed[userID] = struct{}{}
		return true
	}
	okFirst := take(first)
	okSecond := take(second)
	return okFirst, okSecond
}

func (m *Matchmaker) release(userID string) {
	m.mu.Lock()
	delete(m.claimed, userID)
	m.mu.Unlock()
}

// requeue puts a claimed or popped user back at the head of its arena.
func (m *Matchmaker) requeue(arena string, q *arenaQueue, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, userID)
	if m.closed {
		return
	}
	if current, ok := m.members[userID]; ok && current != arena {
		return
	}
	m.members[userID] = arena
	q.pushFront(userID)
}

// eligible reports whether a popped user may still be paired: not in focus
// mode and without a pending or running duel.
func (m *Matchmaker) eligible(ctx context.Context, userID string) bool {
	focus, err := m.users.IsFocusMode(ctx, userID)
	if err != nil {
		obslog.L().Warn("queue_user_lookup_error", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if focus {
		return false
	}
	active, err := m.duels.ActiveDuel(ctx, userID)
	if err != nil {
		obslog.L().Warn("queue_active_lookup_error", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if active != nil {
		obslog.L().Debug("queue_drop_busy", zap.String("user_id", userID), zap.String("duel_id", active.ID))
		return false
	}
	return true
}

func (m *Matchmaker) notifyMatch(ctx context.Context, duelID, arena, userID, opponentID string) {
	payload := matchFoundPayload{DuelID: duelID, Arena: arena, OpponentID: opponentID}
	if err := m.notifier.Push(ctx, userID, EventMatchFound, payload); err != nil {
		obslog.L().Warn("duel_notify_error", zap.String("user_id", userID), zap.String("event", EventMatchFound), zap.Error(err))
	}
}

func (q *arenaQueue) popPair() (string, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) < 2 {
		return "", "", false
	}
	first, second := q.waiting[0], q.waiting[1]
	q.waiting = append([]string(nil), q.waiting[2:]...)
	return first, second, true
}

func (q *arenaQueue) remove(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.waiting {
		if id == userID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

func (q *arenaQueue) pushFront(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if contains(q.waiting, userID) {
		return
	}
	q.waiting = append([]string{userID}, q.waiting...)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func normalizeArena(arena string) string {
	arena = strings.ToLower(strings.TrimSpace(arena))
	if arena == "" {
		return domain.AnySubject
	}
	return arena
}

type matchFoundPayload struct {
	DuelID     string `json:"duelId"`
	Arena      string `json:"arena"`
	OpponentID string `json:"opponentId"`
}
