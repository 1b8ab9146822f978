// Package memchannel — транспорт в пределах процесса: hub комнат с
// синхронной доставкой. Используется тестами и single-process встраиванием.
package memchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/datalens/collab-service/internal/transport"
)

type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	subs     map[*subscription]struct{}
	presence map[string]transport.PresenceState
	order    []string // ключи в порядке track-а, для стабильного sync
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) Subscribe(roomID, presenceKey string, hd transport.Handler) (transport.Subscription, error) {
	if roomID == "" {
		return nil, fmt.Errorf("empty room id")
	}

	sub := &subscription{hub: h, roomID: roomID, key: presenceKey, h: hd}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{
			subs:     make(map[*subscription]struct{}),
			presence: make(map[string]transport.PresenceState),
		}
		h.rooms[roomID] = r
	}
	r.subs[sub] = struct{}{}
	snapshot := r.snapshotLocked()
	h.mu.Unlock()

	if hd.OnStatus != nil {
		hd.OnStatus(transport.StatusSubscribed, nil)
	}
	if hd.OnPresenceSync != nil {
		hd.OnPresenceSync(snapshot)
	}
	return sub, nil
}

func (r *room) snapshotLocked() []transport.PresenceState {
	out := make([]transport.PresenceState, 0, len(r.presence))
	for _, k := range r.order {
		if st, ok := r.presence[k]; ok {
			out = append(out, st)
		}
	}
	return out
}

type subscription struct {
	hub    *Hub
	roomID string
	key    string
	h      transport.Handler

	mu      sync.Mutex
	closed  bool
	tracked bool
}

func (s *subscription) Track(_ context.Context, state transport.PresenceState) error {
	if err := s.alive(); err != nil {
		return err
	}
	if state.Key == "" {
		state.Key = s.key
	}

	h := s.hub
	h.mu.Lock()
	r, ok := h.rooms[s.roomID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("room %s is gone", s.roomID)
	}
	if _, known := r.presence[state.Key]; !known {
		r.order = append(r.order, state.Key)
	}
	r.presence[state.Key] = state
	targets := r.subsLocked()
	snapshot := r.snapshotLocked()
	h.mu.Unlock()

	s.mu.Lock()
	s.tracked = true
	s.mu.Unlock()

	for _, t := range targets {
		if t.h.OnPresenceJoin != nil {
			t.h.OnPresenceJoin(state.Key, []transport.PresenceState{state})
		}
	}
	fanoutSync(targets, snapshot)
	return nil
}

func (s *subscription) Untrack(_ context.Context) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.dropPresence()
	return nil
}

func (s *subscription) Broadcast(_ context.Context, event string, payload any) error {
	if err := s.alive(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	h := s.hub
	h.mu.Lock()
	r, ok := h.rooms[s.roomID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	targets := r.subsLocked()
	h.mu.Unlock()

	// отправитель своё событие не получает
	for _, t := range targets {
		if t == s || t.h.OnBroadcast == nil {
			continue
		}
		t.h.OnBroadcast(event, raw)
	}
	return nil
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.dropPresence()

	h := s.hub
	h.mu.Lock()
	if r, ok := h.rooms[s.roomID]; ok {
		delete(r.subs, s)
		if len(r.subs) == 0 {
			delete(h.rooms, s.roomID)
		}
	}
	h.mu.Unlock()
	return nil
}

// dropPresence снимает presence и рассылает leave + свежий sync.
func (s *subscription) dropPresence() {
	s.mu.Lock()
	wasTracked := s.tracked
	s.tracked = false
	s.mu.Unlock()
	if !wasTracked {
		return
	}

	h := s.hub
	h.mu.Lock()
	r, ok := h.rooms[s.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	st, had := r.presence[s.key]
	delete(r.presence, s.key)
	for i, k := range r.order {
		if k == s.key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	targets := r.subsLocked()
	snapshot := r.snapshotLocked()
	h.mu.Unlock()

	if !had {
		return
	}
	for _, t := range targets {
		if t.h.OnPresenceLeave != nil {
			t.h.OnPresenceLeave(s.key, []transport.PresenceState{st})
		}
	}
	fanoutSync(targets, snapshot)
}

func (s *subscription) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("subscription closed")
	}
	return nil
}

func (r *room) subsLocked() []*subscription {
	out := make([]*subscription, 0, len(r.subs))
	for sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

func fanoutSync(targets []*subscription, snapshot []transport.PresenceState) {
	for _, t := range targets {
		if t.h.OnPresenceSync != nil {
			t.h.OnPresenceSync(snapshot)
		}
	}
}
