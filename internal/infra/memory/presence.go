package memory

import (
	"context"
	"sync"
	"time"
)

// Presence is an in-memory implementation of app.UserState.
type Presence struct {
	clock func() time.Time

	mu       sync.RWMutex
	focus    map[string]bool
	lastSeen map[string]time.Time
}

func NewPresence() *Presence {
	return &Presence{
		clock:    time.Now,
		focus:    make(map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

func (p *Presence) IsFocusMode(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.focus[userID], nil
}

// LastSeenAt returns the zero time for users never seen.
func (p *Presence) LastSeenAt(_ context.Context, userID string) (time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen[userID], nil
}

func (p *Presence) SetFocus(_ context.Context, userID string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled {
		p.focus[userID] = true
	} else {
		delete(p.focus, userID)
	}
	return nil
}

func (p *Presence) Touch(_ context.Context, userID string) error {
	return p.SeenAt(userID, p.clock())
}

// SeenAt records an explicit last-seen time.
func (p *Presence) SeenAt(userID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen[userID] = at
	return nil
}
