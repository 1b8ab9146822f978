package relay

import (
	"sync"

	"github.com/datalens/collab-service/internal/relay/wire"
	"github.com/datalens/collab-service/internal/transport"
)

type Conn interface {
	Send(env wire.Envelope) error
	Close() error
	Key() string
	RoomID() string
}

// Hub держит подключения и presence-реестр по комнатам.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	conns    map[Conn]struct{}
	presence map[string]transport.PresenceState
	order    []string
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[c.RoomID()]
	if !ok {
		r = &room{
			conns:    make(map[Conn]struct{}),
			presence: make(map[string]transport.PresenceState),
		}
		h.rooms[c.RoomID()] = r
	}
	r.conns[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[c.RoomID()]; ok {
		delete(r.conns, c)
		if len(r.conns) == 0 {
			delete(h.rooms, c.RoomID())
		}
	}
}

func (h *Hub) Track(roomID, key string, st transport.PresenceState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, known := r.presence[key]; !known {
		r.order = append(r.order, key)
	}
	r.presence[key] = st
}

// Untrack снимает presence; ok=false если ключ и не был затрекан.
func (h *Hub) Untrack(roomID, key string) (transport.PresenceState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return transport.PresenceState{}, false
	}
	st, had := r.presence[key]
	if !had {
		return transport.PresenceState{}, false
	}
	delete(r.presence, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return st, true
}

func (h *Hub) Snapshot(roomID string) []transport.PresenceState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]transport.PresenceState, 0, len(r.presence))
	for _, k := range r.order {
		if st, ok := r.presence[k]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (h *Hub) BroadcastAll(roomID string, env wire.Envelope) {
	h.broadcast(roomID, nil, env)
}

func (h *Hub) BroadcastExcept(roomID string, except Conn, env wire.Envelope) {
	h.broadcast(roomID, except, env)
}

func (h *Hub) broadcast(roomID string, except Conn, env wire.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if r, ok := h.rooms[roomID]; ok {
		for c := range r.conns {
			if c == except {
				continue
			}
			_ = c.Send(env) // best-effort
		}
	}
}
