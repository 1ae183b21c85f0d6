package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"quiz-duel-service/internal/domain"
	"quiz-duel-service/internal/obslog"
)

// DuelAPI is the duel surface exposed over the socket.
type DuelAPI interface {
	CreateDuel(ctx context.Context, challengerID, opponentID, subject string) (domain.DuelState, error)
	AcceptDuel(ctx context.Context, duelID string) (domain.DuelState, error)
	DeclineOrAbandonDuel(ctx context.Context, duelID, userID string) (domain.DuelState, error)
	SubmitAnswer(ctx context.Context, duelID, userID string, answerIndex int) (domain.DuelState, error)
	GetDuel(ctx context.Context, duelID string) (domain.DuelState, error)
}

// QueueAPI is the matchmaking surface exposed over the socket.
type QueueAPI interface {
	JoinQueue(ctx context.Context, userID, arena string) error
	LeaveQueue(userID, arena string)
}

// PresenceWriter records that a user is around and whether they accept duels.
type PresenceWriter interface {
	Touch(ctx context.Context, userID string) error
	SetFocus(ctx context.Context, userID string, enabled bool) error
}

type WSHandler struct {
	duels    DuelAPI
	queue    QueueAPI
	presence PresenceWriter
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(duels DuelAPI, queue QueueAPI, presence PresenceWriter, hub *Hub) *WSHandler {
	return &WSHandler{
		duels:    duels,
		queue:    queue,
		presence: presence,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type arenaPayload struct {
	Arena string `json:"arena"`
}

type challengeRequest struct {
	OpponentID string `json:"opponentId"`
	Subject    string `json:"subject"`
}

type duelRef struct {
	DuelID string `json:"duelId"`
}

type answerRequest struct {
	DuelID      string `json:"duelId"`
	AnswerIndex *int   `json:"answerIndex"`
}

type focusPayload struct {
	Enabled bool `json:"enabled"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errBadPayload = errors.New("invalid payload")

// ServeWS upgrades HTTP requests to websockets and wires them into the duel use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.L().Warn("ws_upgrade_error", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	events, cancel := h.hub.Subscribe(userID)
	defer cancel()
	h.touch(ctx, userID)

	// Queues joined over this connection are left when it closes.
	joined := make(map[string]struct{})
	defer func() {
		for arena := range joined {
			h.queue.LeaveQueue(userID, arena)
		}
	}()

	send := make(chan Event, subscriberBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// Only the writer goroutine touches conn for writing.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				obslog.L().Warn("ws_write_error", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- ev:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- Event{Type: "connected", Payload: map[string]string{"userId": userID}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.touch(ctx, userID)
		reply, err := h.dispatch(ctx, userID, joined, inbound)
		if err != nil {
			send <- errorEvent(err)
			continue
		}
		send <- reply
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, userID string, joined map[string]struct{}, inbound inboundMessage) (Event, error) {
	switch inbound.Type {
	case "queue.join":
		var p arenaPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		if err := h.queue.JoinQueue(ctx, userID, p.Arena); err != nil {
			return Event{}, err
		}
		joined[p.Arena] = struct{}{}
		return Event{Type: "queue.joined", Payload: p}, nil

	case "queue.leave":
		var p arenaPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		h.queue.LeaveQueue(userID, p.Arena)
		delete(joined, p.Arena)
		return Event{Type: "queue.left", Payload: p}, nil

	case "duel.challenge":
		var p challengeRequest
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		return stateEvent(h.duels.CreateDuel(ctx, userID, p.OpponentID, p.Subject))

	case "duel.accept":
		var p duelRef
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		current, err := h.duels.GetDuel(ctx, p.DuelID)
		if err != nil {
			return Event{}, err
		}
		if current.Duel.OpponentID != userID {
			return Event{}, domain.ErrNotParticipant
		}
		return stateEvent(h.duels.AcceptDuel(ctx, p.DuelID))

	case "duel.decline":
		var p duelRef
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		return stateEvent(h.duels.DeclineOrAbandonDuel(ctx, p.DuelID, userID))

	case "duel.answer":
		var p answerRequest
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		if p.AnswerIndex == nil {
			return Event{}, domain.ErrInvalidAnswer
		}
		return stateEvent(h.duels.SubmitAnswer(ctx, p.DuelID, userID, *p.AnswerIndex))

	case "duel.get":
		var p duelRef
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		state, err := h.duels.GetDuel(ctx, p.DuelID)
		if err != nil {
			return Event{}, err
		}
		if state.Duel.SideOf(userID) == domain.SideNone {
			return Event{}, domain.ErrNotParticipant
		}
		return Event{Type: "duel.state", Payload: state}, nil

	case "focus.set":
		var p focusPayload
		if err := decode(inbound.Payload, &p); err != nil {
			return Event{}, err
		}
		if err := h.presence.SetFocus(ctx, userID, p.Enabled); err != nil {
			return Event{}, err
		}
		return Event{Type: "focus.updated", Payload: p}, nil

	default:
		return Event{}, errUnsupported
	}
}

var errUnsupported = errors.New("unsupported message type")

func (h *WSHandler) touch(ctx context.Context, userID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Touch(ctx, userID); err != nil {
		obslog.L().Warn("presence_touch_error", zap.String("user_id", userID), zap.Error(err))
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload
	}
	return nil
}

func stateEvent(state domain.DuelState, err error) (Event, error) {
	if err != nil {
		return Event{}, err
	}
	return Event{Type: "duel.state", Payload: state}, nil
}

func errorEvent(err error) Event {
	code := errorCode(err)
	if code == "internal" {
		obslog.L().Error("ws_request_error", zap.Error(err))
	}
	return Event{Type: "error", Payload: errorPayload{Code: code, Message: err.Error()}}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuelNotFound), errors.Is(err, domain.ErrRoundNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		return "not_found"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsRejection(err):
		return "rejected"
	case errors.Is(err, domain.ErrNotParticipant):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidAnswer), errors.Is(err, domain.ErrInvalidArgs), errors.Is(err, domain.ErrSelfDuel),
		errors.Is(err, errBadPayload), errors.Is(err, errUnsupported):
		return "invalid"
	default:
		return "internal"
	}
}
