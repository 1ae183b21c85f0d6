package memory

import (
	"context"
	"sync"

	"quiz-duel-service/internal/domain"
)

// XPLedger is an in-memory implementation of app.XPAwarder.
// Totals never drop below zero.
type XPLedger struct {
	mu     sync.Mutex
	totals map[string]int64
	awards []LedgerEntry
}

// LedgerEntry is one recorded award.
type LedgerEntry struct {
	UserID string
	Delta  int
}

func NewXPLedger() *XPLedger {
	return &XPLedger{totals: make(map[string]int64)}
}

func (l *XPLedger) AwardXP(_ context.Context, userID string, delta int) (domain.XPTotals, error) {
	if userID == "" {
		return domain.XPTotals{}, domain.ErrInvalidArgs
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.totals[userID] + int64(delta)
	if total < 0 {
		total = 0
	}
	l.totals[userID] = total
	l.awards = append(l.awards, LedgerEntry{UserID: userID, Delta: delta})
	return domain.XPTotals{UserID: userID, TotalXP: total, Level: domain.LevelFor(total)}, nil
}

// Total returns the user's current XP.
func (l *XPLedger) Total(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[userID]
}

// Entries returns every award in the order it was made.
func (l *XPLedger) Entries() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LedgerEntry(nil), l.awards...)
}
