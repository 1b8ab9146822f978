package session

import (
	"encoding/json"

	"github.com/datalens/collab-service/internal/domain"
	"github.com/datalens/collab-service/internal/transport"
)

type cursorPayload struct {
	UserID string  `json:"user_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type typingPayload struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

type aiTypingPayload struct {
	Typing bool `json:"typing"`
}

// handleBroadcast применяет входящие broadcast-события к состоянию.
// Порядок сообщений — порядок доставки транспорта, ядро не переупорядочивает.
func (s *Session) handleBroadcast(epoch uint64, event string, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}

	switch event {
	case transport.EventChatMessage, transport.EventAIResponse:
		var msg domain.ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Text == "" {
			s.log.Debug("drop malformed chat broadcast", "event", event)
			return
		}
		s.messages.append(msg)
		s.touchLocked(msg.AuthorID)

	case transport.EventCursorMove:
		var p cursorPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
			return
		}
		s.applyCursorLocked(p.UserID, domain.Cursor{X: p.X, Y: p.Y})

	case transport.EventTypingIndicator:
		var p typingPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
			return
		}
		s.applyTypingLocked(p.UserID, p.Typing)

	case transport.EventCollaboration:
		var ev domain.CollaborationEvent
		if err := json.Unmarshal(payload, &ev); err != nil || !ev.Kind.Valid() {
			s.log.Debug("drop malformed collaboration event")
			return
		}
		s.events.append(ev)
		s.touchLocked(ev.AuthorID)

	case transport.EventAITyping:
		var p aiTypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		s.aiBusy = p.Typing

	default:
		s.log.Debug("ignore unknown broadcast event", "event", event)
	}
}
