package session

import "github.com/datalens/collab-service/internal/domain"

// messageLog — append-only транскрипт живой сессии; чистится при выходе
// из комнаты. Дедупликации между reconnect-ами нет: повторно доставленное
// сообщение появится дважды (известное, задокументированное ограничение).
type messageLog struct {
	msgs []domain.ChatMessage
}

func (l *messageLog) append(m domain.ChatMessage) {
	l.msgs = append(l.msgs, m)
}

func (l *messageLog) snapshot() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// tail возвращает копию последних n сообщений.
func (l *messageLog) tail(n int) []domain.ChatMessage {
	if n <= 0 || len(l.msgs) == 0 {
		return nil
	}
	if n > len(l.msgs) {
		n = len(l.msgs)
	}
	out := make([]domain.ChatMessage, n)
	copy(out, l.msgs[len(l.msgs)-n:])
	return out
}

func (l *messageLog) reset() {
	l.msgs = nil
}

// eventWindow — скользящее окно фиксированной ёмкости, старейшее
// вытесняется первым.
type eventWindow struct {
	events   []domain.CollaborationEvent
	capacity int
}

func newEventWindow(capacity int) eventWindow {
	return eventWindow{capacity: capacity}
}

func (w *eventWindow) append(e domain.CollaborationEvent) {
	w.events = append(w.events, e)
	if len(w.events) > w.capacity {
		over := len(w.events) - w.capacity
		w.events = append(w.events[:0], w.events[over:]...)
	}
}

func (w *eventWindow) snapshot() []domain.CollaborationEvent {
	out := make([]domain.CollaborationEvent, len(w.events))
	copy(out, w.events)
	return out
}

func (w *eventWindow) reset() {
	w.events = nil
}
