// Package transport описывает контракт pub/sub канала, который потребляет
// collab-ядро: подписка на комнату, presence (track/sync/join/leave) и
// best-effort broadcast. Реализации: relay по websocket, Redis pub/sub,
// in-memory hub для тестов.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Имена broadcast-событий, общие для всех реализаций.
const (
	EventChatMessage     = "chat_message"
	EventCursorMove      = "cursor_move"
	EventTypingIndicator = "typing_indicator"
	EventCollaboration   = "collaboration_event"
	EventAIResponse      = "ai_response"
	EventAITyping        = "ai_typing"
)

// PresenceState — то, что клиент объявляет о себе через Track и что
// приходит в presence sync/join/leave.
type PresenceState struct {
	Key      string    `json:"key"`
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	Color    string    `json:"color,omitempty"`
	OnlineAt time.Time `json:"online_at"`
}

// Handler — callbacks подписки. Транспорт не вызывает их после Close.
// Broadcast отправителю не зеркалируется: отправитель своё событие не получает.
type Handler struct {
	OnStatus        func(status Status, err error)
	OnPresenceSync  func(states []PresenceState)
	OnPresenceJoin  func(key string, states []PresenceState)
	OnPresenceLeave func(key string, states []PresenceState)
	OnBroadcast     func(event string, payload json.RawMessage)
}

type Subscription interface {
	// Track объявляет presence локального участника в комнате.
	Track(ctx context.Context, state PresenceState) error
	// Untrack снимает presence; вызывается перед Close при штатном выходе.
	Untrack(ctx context.Context) error
	// Broadcast отправляет событие всем остальным подписчикам комнаты.
	Broadcast(ctx context.Context, event string, payload any) error
	Close() error
}

type Transport interface {
	Subscribe(roomID, presenceKey string, h Handler) (Subscription, error)
}
