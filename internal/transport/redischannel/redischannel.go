// Package redischannel — транспорт канала поверх Redis pub/sub.
// Broadcast-ы идут через PUBLISH, presence — через ключи с TTL
// (heartbeat-обновление) плюс join/leave/sync на отдельном канале.
// Упавший клиент исчезает из sync после истечения TTL его ключа.
package redischannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datalens/collab-service/internal/transport"
)

const (
	defaultPresenceTTL = 30 * time.Second
	defaultHeartbeat   = 10 * time.Second
)

type Transport struct {
	rdb         *redis.Client
	log         *slog.Logger
	presenceTTL time.Duration
	heartbeat   time.Duration
}

func New(rdb *redis.Client) *Transport {
	return &Transport{
		rdb:         rdb,
		log:         slog.Default(),
		presenceTTL: defaultPresenceTTL,
		heartbeat:   defaultHeartbeat,
	}
}

func eventsChannel(roomID string) string   { return "collab:" + roomID + ":events" }
func presenceChannel(roomID string) string { return "collab:" + roomID + ":presence" }
func presenceKey(roomID, key string) string {
	return "collab:" + roomID + ":presence:" + key
}
func presencePattern(roomID string) string { return "collab:" + roomID + ":presence:*" }

// eventEnvelope — кадр broadcast-канала; sender нужен, чтобы подписчик
// отфильтровал собственные события.
type eventEnvelope struct {
	Event  string          `json:"event"`
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type presenceEnvelope struct {
	Type   string                    `json:"type"` // join|leave|sync
	Key    string                    `json:"key,omitempty"`
	States []transport.PresenceState `json:"states"`
}

func (t *Transport) Subscribe(roomID, key string, h transport.Handler) (transport.Subscription, error) {
	ctx := context.Background()
	ps := t.rdb.Subscribe(ctx, eventsChannel(roomID), presenceChannel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &subscription{
		t:      t,
		roomID: roomID,
		key:    key,
		h:      h,
		ps:     ps,
	}
	go sub.readLoop()

	if h.OnStatus != nil {
		h.OnStatus(transport.StatusSubscribed, nil)
	}
	// начальный снапшот присутствующих
	if h.OnPresenceSync != nil {
		if states, err := t.scanPresence(ctx, roomID); err == nil {
			h.OnPresenceSync(states)
		}
	}
	return sub, nil
}

func (t *Transport) scanPresence(ctx context.Context, roomID string) ([]transport.PresenceState, error) {
	var keys []string
	iter := t.rdb.Scan(ctx, 0, presencePattern(roomID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := t.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget presence: %w", err)
	}
	states := make([]transport.PresenceState, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // ключ истёк между SCAN и MGET
		}
		var st transport.PresenceState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue
		}
		states = append(states, st)
	}
	return states, nil
}

type subscription struct {
	t      *Transport
	roomID string
	key    string
	h      transport.Handler
	ps     *redis.PubSub

	mu        sync.Mutex
	hbStop    chan struct{}
	lastState transport.PresenceState
	closed    atomic.Bool
}

func (s *subscription) readLoop() {
	events := eventsChannel(s.roomID)
	for msg := range s.ps.Channel() {
		if msg.Channel == events {
			var env eventEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.Sender == s.key {
				continue // своё событие не зеркалируем
			}
			if s.h.OnBroadcast != nil {
				s.h.OnBroadcast(env.Event, env.Data)
			}
			continue
		}

		var env presenceEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			continue
		}
		switch env.Type {
		case "sync":
			if s.h.OnPresenceSync != nil {
				s.h.OnPresenceSync(env.States)
			}
		case "join":
			if s.h.OnPresenceJoin != nil {
				s.h.OnPresenceJoin(env.Key, env.States)
			}
		case "leave":
			if s.h.OnPresenceLeave != nil {
				s.h.OnPresenceLeave(env.Key, env.States)
			}
		}
	}

	if !s.closed.Load() && s.h.OnStatus != nil {
		s.h.OnStatus(transport.StatusClosed, fmt.Errorf("redis pubsub channel closed"))
	}
}

func (s *subscription) Track(ctx context.Context, state transport.PresenceState) error {
	if state.Key == "" {
		state.Key = s.key
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := s.t.rdb.Set(ctx, presenceKey(s.roomID, s.key), raw, s.t.presenceTTL).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}

	s.mu.Lock()
	s.lastState = state
	if s.hbStop == nil {
		s.hbStop = make(chan struct{})
		go s.heartbeatLoop(s.hbStop)
	}
	s.mu.Unlock()

	s.publishPresence(ctx, presenceEnvelope{
		Type:   "join",
		Key:    s.key,
		States: []transport.PresenceState{state},
	})
	s.publishSync(ctx)
	return nil
}

func (s *subscription) Untrack(ctx context.Context) error {
	s.stopHeartbeat()

	s.mu.Lock()
	state := s.lastState
	s.mu.Unlock()

	if err := s.t.rdb.Del(ctx, presenceKey(s.roomID, s.key)).Err(); err != nil {
		return fmt.Errorf("del presence: %w", err)
	}
	s.publishPresence(ctx, presenceEnvelope{
		Type:   "leave",
		Key:    s.key,
		States: []transport.PresenceState{state},
	})
	s.publishSync(ctx)
	return nil
}

func (s *subscription) Broadcast(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	raw, err := json.Marshal(eventEnvelope{Event: event, Sender: s.key, Data: data})
	if err != nil {
		return err
	}
	if err := s.t.rdb.Publish(ctx, eventsChannel(s.roomID), raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

func (s *subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stopHeartbeat()
	return s.ps.Close()
}

func (s *subscription) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			state := s.lastState
			s.mu.Unlock()
			raw, err := json.Marshal(state)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.t.rdb.Set(ctx, presenceKey(s.roomID, s.key), raw, s.t.presenceTTL).Err(); err != nil {
				s.t.log.Debug("presence heartbeat failed", "room", s.roomID, "key", s.key, "err", err)
			}
			cancel()
		case <-stop:
			return
		}
	}
}

func (s *subscription) stopHeartbeat() {
	s.mu.Lock()
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	s.mu.Unlock()
}

func (s *subscription) publishPresence(ctx context.Context, env presenceEnvelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := s.t.rdb.Publish(ctx, presenceChannel(s.roomID), raw).Err(); err != nil {
		s.t.log.Debug("publish presence failed", "room", s.roomID, "type", env.Type, "err", err)
	}
}

func (s *subscription) publishSync(ctx context.Context) {
	states, err := s.t.scanPresence(ctx, s.roomID)
	if err != nil {
		s.t.log.Debug("presence sync scan failed", "room", s.roomID, "err", err)
		return
	}
	s.publishPresence(ctx, presenceEnvelope{Type: "sync", States: states})
}
