// Package relay — self-hosted сервер канала: websocket endpoint комнаты,
// presence-реестр и best-effort fan-out broadcast-ов. Клиентская сторона —
// internal/transport/wschannel.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/datalens/collab-service/internal/relay/wire"
	"github.com/datalens/collab-service/internal/transport"
)

type Server struct {
	upgrader  websocket.Upgrader
	hub       *Hub
	pingEvery time.Duration
}

func NewServer(hub *Hub, pingEvery time.Duration) *Server {
	if pingEvery <= 0 {
		pingEvery = 15 * time.Second
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: pingEvery,
	}
}

// WS endpoint: GET /ws/rooms/{id}?presence_key=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("presence_key"))
	if key == "" {
		http.Error(w, "missing presence_key", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, roomID, key)
	s.hub.Add(c)

	if err := c.Send(wire.Envelope{Type: wire.TypeSubscribed}); err != nil {
		slog.Warn("ws send subscribed failed", "room", roomID, "key", key, "err", err)
	}
	s.sendSnapshot(c)

	go s.writeLoop(c)
	s.readLoop(c)

	// дисконнект = неявный untrack
	if st, had := s.hub.Untrack(roomID, key); had {
		s.fanoutLeave(roomID, key, st)
	}
	s.hub.Remove(c)
	_ = c.Close()
}

func (s *Server) sendSnapshot(c *wsConn) {
	env, err := wire.Make(wire.TypePresenceState, s.hub.Snapshot(c.roomID))
	if err != nil {
		return
	}
	if err := c.Send(env); err != nil {
		slog.Debug("ws send snapshot failed", "room", c.roomID, "key", c.key, "err", err)
	}
}

func (s *Server) readLoop(c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case wire.TypeTrack:
			var st transport.PresenceState
			if err := json.Unmarshal(env.Payload, &st); err != nil {
				continue
			}
			st.Key = c.key // ключ диктует соединение, не payload
			s.hub.Track(c.roomID, c.key, st)
			if join, err := wire.Make(wire.TypePresenceJoin, wire.PresenceEvent{
				Key:    c.key,
				States: []transport.PresenceState{st},
			}); err == nil {
				s.hub.BroadcastAll(c.roomID, join)
			}
			s.fanoutSync(c.roomID)

		case wire.TypeUntrack:
			if st, had := s.hub.Untrack(c.roomID, c.key); had {
				s.fanoutLeave(c.roomID, c.key, st)
			}

		case wire.TypeBroadcast:
			var b wire.Broadcast
			if err := json.Unmarshal(env.Payload, &b); err != nil || b.Event == "" {
				continue
			}
			// единый fan-out остальным; отправителю не зеркалируем
			s.hub.BroadcastExcept(c.roomID, c, env)

		default:
			// ignore
		}
	}
}

func (s *Server) fanoutLeave(roomID, key string, st transport.PresenceState) {
	if leave, err := wire.Make(wire.TypePresenceLeave, wire.PresenceEvent{
		Key:    key,
		States: []transport.PresenceState{st},
	}); err == nil {
		s.hub.BroadcastAll(roomID, leave)
	}
	s.fanoutSync(roomID)
}

func (s *Server) fanoutSync(roomID string) {
	if env, err := wire.Make(wire.TypePresenceState, s.hub.Snapshot(roomID)); err == nil {
		s.hub.BroadcastAll(roomID, env)
	}
}

func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-c.closed:
			return
		}
	}
}

// --- соединение ---

type wsConn struct {
	conn   *websocket.Conn
	roomID string
	key    string
	sendMu chan struct{}
	closed chan struct{}
}

func newWsConn(c *websocket.Conn, roomID, key string) *wsConn {
	return &wsConn{
		conn:   c,
		roomID: roomID,
		key:    key,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(env wire.Envelope) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}

func (c *wsConn) Key() string    { return c.key }
func (c *wsConn) RoomID() string { return c.roomID }
