package http

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"quiz-duel-service/internal/obslog"
)

// Event is one message pushed to a connected user.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const subscriberBuffer = 16

// Hub fans duel events out to every connection a user holds. It implements
// app.Notifier; delivery is best-effort and slow readers lose events.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for userID.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	subs, ok := h.subscribers[userID]
	if !ok {
		subs = make(map[chan Event]struct{})
		h.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[userID], ch)
			if len(h.subscribers[userID]) == 0 {
				delete(h.subscribers, userID)
			}
			close(ch)
		})
	}
}

func (h *Hub) Push(_ context.Context, userID, event string, payload any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subscribers[userID]
	if len(subs) == 0 {
		obslog.L().Debug("hub_offline", zap.String("user_id", userID), zap.String("event", event))
		return nil
	}
	msg := Event{Type: event, Payload: payload}
	for ch := range subs {
		select {
		case ch <- msg:
		default:
			obslog.L().Warn("hub_drop", zap.String("user_id", userID), zap.String("event", event))
		}
	}
	return nil
}

