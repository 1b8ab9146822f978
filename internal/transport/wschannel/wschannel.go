// Package wschannel — клиентский транспорт канала поверх websocket
// к relay-серверу (internal/relay).
package wschannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/datalens/collab-service/internal/relay/wire"
	"github.com/datalens/collab-service/internal/transport"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second
)

type Client struct {
	baseURL string // ws://host:port
	dialer  *websocket.Dialer
	log     *slog.Logger
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
		log:     slog.Default(),
	}
}

func (c *Client) Subscribe(roomID, presenceKey string, h transport.Handler) (transport.Subscription, error) {
	u := fmt.Sprintf("%s/ws/rooms/%s?presence_key=%s",
		c.baseURL, url.PathEscape(roomID), url.QueryEscape(presenceKey))

	conn, _, err := c.dialer.Dial(u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	sub := &subscription{
		conn: conn,
		h:    h,
		log:  c.log.With("room", roomID),
	}
	go sub.readLoop()
	return sub, nil
}

type subscription struct {
	conn *websocket.Conn
	h    transport.Handler
	log  *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

func (s *subscription) readLoop() {
	conn := s.conn
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return // штатный Close, статус не репортим
			}
			if s.h.OnStatus != nil {
				s.h.OnStatus(transport.StatusClosed, err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Debug("drop malformed relay frame", "err", err)
			continue
		}
		s.dispatch(env)
	}
}

func (s *subscription) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.TypeSubscribed:
		if s.h.OnStatus != nil {
			s.h.OnStatus(transport.StatusSubscribed, nil)
		}

	case wire.TypePresenceState:
		var states []transport.PresenceState
		if err := json.Unmarshal(env.Payload, &states); err != nil {
			return
		}
		if s.h.OnPresenceSync != nil {
			s.h.OnPresenceSync(states)
		}

	case wire.TypePresenceJoin, wire.TypePresenceLeave:
		var pe wire.PresenceEvent
		if err := json.Unmarshal(env.Payload, &pe); err != nil {
			return
		}
		if env.Type == wire.TypePresenceJoin {
			if s.h.OnPresenceJoin != nil {
				s.h.OnPresenceJoin(pe.Key, pe.States)
			}
		} else if s.h.OnPresenceLeave != nil {
			s.h.OnPresenceLeave(pe.Key, pe.States)
		}

	case wire.TypeBroadcast:
		var b wire.Broadcast
		if err := json.Unmarshal(env.Payload, &b); err != nil {
			return
		}
		if s.h.OnBroadcast != nil {
			s.h.OnBroadcast(b.Event, b.Data)
		}

	default:
		s.log.Debug("ignore unknown relay frame", "type", env.Type)
	}
}

func (s *subscription) Track(_ context.Context, state transport.PresenceState) error {
	env, err := wire.Make(wire.TypeTrack, state)
	if err != nil {
		return err
	}
	return s.send(env)
}

func (s *subscription) Untrack(_ context.Context) error {
	return s.send(wire.Envelope{Type: wire.TypeUntrack})
}

func (s *subscription) Broadcast(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env, err := wire.Make(wire.TypeBroadcast, wire.Broadcast{Event: event, Data: data})
	if err != nil {
		return err
	}
	return s.send(env)
}

func (s *subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func (s *subscription) send(env wire.Envelope) error {
	if s.closed.Load() {
		return fmt.Errorf("subscription closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(env)
}
