package session

import (
	"fmt"
	"time"

	"github.com/datalens/collab-service/internal/domain"
	"github.com/datalens/collab-service/internal/transport"
)

// parsePresence валидирует presence-запись: либо валидный Participant,
// либо отказ. Записи без id/имени не превращаем в участников-призраков.
func parsePresence(st transport.PresenceState) (domain.Participant, error) {
	if st.ID == "" || st.Name == "" {
		return domain.Participant{}, domain.ErrInvalidPresence
	}
	last := st.OnlineAt
	if last.IsZero() {
		last = time.Now()
	}
	return domain.Participant{
		ID:       st.ID,
		Name:     st.Name,
		Avatar:   st.Avatar,
		Color:    st.Color,
		LastSeen: last,
	}, nil
}

// Полный presence sync — источник истины по составу: roster заменяется
// целиком (дедупликация по id), а не патчится. Курсор и typing-флаг
// переносим со старой записи: они приходят broadcast-ами, не presence-ом.
func (s *Session) handlePresenceSync(epoch uint64, states []transport.PresenceState) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}

	prev := make(map[string]domain.Participant, len(s.participants))
	for _, p := range s.participants {
		prev[p.ID] = p
	}

	seen := make(map[string]struct{}, len(states))
	next := make([]domain.Participant, 0, len(states))
	for _, st := range states {
		p, err := parsePresence(st)
		if err != nil {
			s.log.Debug("presence entry rejected", "key", st.Key)
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		if old, ok := prev[p.ID]; ok {
			p.Cursor = old.Cursor
			p.Typing = old.Typing
		}
		next = append(next, p)
	}
	s.participants = next
	s.mu.Unlock()
}

// join/leave — только повод для уведомления; членство определяет sync.
func (s *Session) handlePresenceJoin(epoch uint64, states []transport.PresenceState) {
	s.presenceNotice(epoch, states, NoticeJoined, "%s joined the session")
}

func (s *Session) handlePresenceLeave(epoch uint64, states []transport.PresenceState) {
	s.presenceNotice(epoch, states, NoticeLeft, "%s left the session")
}

func (s *Session) presenceNotice(epoch uint64, states []transport.PresenceState, kind NoticeKind, format string) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	selfID := s.self.ID
	s.mu.Unlock()

	for _, st := range states {
		p, err := parsePresence(st)
		if err != nil || p.ID == selfID {
			continue
		}
		s.notify(Notice{Kind: kind, Text: fmt.Sprintf(format, p.Name)})
	}
}

// applyCursorLocked обновляет только курсор участника P; неизвестные id
// игнорируем без синтетической вставки.
func (s *Session) applyCursorLocked(userID string, c domain.Cursor) {
	for i := range s.participants {
		if s.participants[i].ID == userID {
			s.participants[i].Cursor = &c
			s.participants[i].LastSeen = time.Now()
			return
		}
	}
}

func (s *Session) applyTypingLocked(userID string, typing bool) {
	for i := range s.participants {
		if s.participants[i].ID == userID {
			s.participants[i].Typing = typing
			s.participants[i].LastSeen = time.Now()
			return
		}
	}
}

func (s *Session) touchLocked(userID string) {
	for i := range s.participants {
		if s.participants[i].ID == userID {
			s.participants[i].LastSeen = time.Now()
			return
		}
	}
}
