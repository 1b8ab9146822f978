package memchannel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/datalens/collab-service/internal/transport"
)

type recorder struct {
	mu         sync.Mutex
	statuses   []transport.Status
	syncs      [][]transport.PresenceState
	joins      []string
	leaves     []string
	broadcasts []string
}

func (r *recorder) handler() transport.Handler {
	return transport.Handler{
		OnStatus: func(st transport.Status, _ error) {
			r.mu.Lock()
			r.statuses = append(r.statuses, st)
			r.mu.Unlock()
		},
		OnPresenceSync: func(states []transport.PresenceState) {
			r.mu.Lock()
			r.syncs = append(r.syncs, states)
			r.mu.Unlock()
		},
		OnPresenceJoin: func(key string, _ []transport.PresenceState) {
			r.mu.Lock()
			r.joins = append(r.joins, key)
			r.mu.Unlock()
		},
		OnPresenceLeave: func(key string, _ []transport.PresenceState) {
			r.mu.Lock()
			r.leaves = append(r.leaves, key)
			r.mu.Unlock()
		},
		OnBroadcast: func(event string, payload json.RawMessage) {
			r.mu.Lock()
			r.broadcasts = append(r.broadcasts, event+":"+string(payload))
			r.mu.Unlock()
		},
	}
}

func TestSubscribe_ReportsSubscribedAndSnapshot(t *testing.T) {
	hub := NewHub()
	rec := &recorder{}

	sub, err := hub.Subscribe("r1", "a", rec.handler())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if len(rec.statuses) != 1 || rec.statuses[0] != transport.StatusSubscribed {
		t.Fatalf("statuses = %v", rec.statuses)
	}
	if len(rec.syncs) != 1 || len(rec.syncs[0]) != 0 {
		t.Fatalf("initial sync = %v, want empty snapshot", rec.syncs)
	}
}

func TestTrackUntrack_FanoutJoinLeaveSync(t *testing.T) {
	hub := NewHub()
	recA, recB := &recorder{}, &recorder{}

	subA, _ := hub.Subscribe("r1", "a", recA.handler())
	subB, _ := hub.Subscribe("r1", "b", recB.handler())
	defer subA.Close()
	defer subB.Close()

	ctx := context.Background()
	if err := subA.Track(ctx, transport.PresenceState{ID: "a", Name: "Ann"}); err != nil {
		t.Fatal(err)
	}

	if len(recB.joins) != 1 || recB.joins[0] != "a" {
		t.Fatalf("B joins = %v", recB.joins)
	}
	lastSync := recB.syncs[len(recB.syncs)-1]
	if len(lastSync) != 1 || lastSync[0].ID != "a" {
		t.Fatalf("B sync after track = %v", lastSync)
	}

	if err := subA.Untrack(ctx); err != nil {
		t.Fatal(err)
	}
	if len(recB.leaves) != 1 || recB.leaves[0] != "a" {
		t.Fatalf("B leaves = %v", recB.leaves)
	}
	lastSync = recB.syncs[len(recB.syncs)-1]
	if len(lastSync) != 0 {
		t.Fatalf("B sync after untrack = %v, want empty", lastSync)
	}
}

func TestBroadcast_NotMirroredToSender(t *testing.T) {
	hub := NewHub()
	recA, recB := &recorder{}, &recorder{}

	subA, _ := hub.Subscribe("r1", "a", recA.handler())
	subB, _ := hub.Subscribe("r1", "b", recB.handler())
	defer subA.Close()
	defer subB.Close()

	if err := subA.Broadcast(context.Background(), "chat_message", map[string]string{"text": "hi"}); err != nil {
		t.Fatal(err)
	}

	if len(recA.broadcasts) != 0 {
		t.Fatalf("sender received own broadcast: %v", recA.broadcasts)
	}
	if len(recB.broadcasts) != 1 {
		t.Fatalf("B broadcasts = %v", recB.broadcasts)
	}
}

func TestClose_ImpliesUntrackAndStopsDelivery(t *testing.T) {
	hub := NewHub()
	recA, recB := &recorder{}, &recorder{}

	subA, _ := hub.Subscribe("r1", "a", recA.handler())
	subB, _ := hub.Subscribe("r1", "b", recB.handler())
	defer subB.Close()

	_ = subA.Track(context.Background(), transport.PresenceState{ID: "a", Name: "Ann"})
	_ = subA.Close()

	if len(recB.leaves) != 1 {
		t.Fatalf("close must imply untrack, leaves = %v", recB.leaves)
	}

	if err := subA.Broadcast(context.Background(), "chat_message", "x"); err == nil {
		t.Fatal("broadcast on closed subscription must error")
	}
	// повторный Close — no-op
	if err := subA.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	recA, recB := &recorder{}, &recorder{}

	subA, _ := hub.Subscribe("r1", "a", recA.handler())
	subB, _ := hub.Subscribe("r2", "b", recB.handler())
	defer subA.Close()
	defer subB.Close()

	_ = subA.Broadcast(context.Background(), "chat_message", "hello r1")
	if len(recB.broadcasts) != 0 {
		t.Fatalf("cross-room delivery: %v", recB.broadcasts)
	}
}
