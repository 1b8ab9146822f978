package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/datalens/collab-service/internal/transport"
)

// fakeTransport — скриптуемый транспорт: тест сам дёргает callbacks
// записанного Handler-а и инспектирует отправленное.
type fakeTransport struct {
	mu        sync.Mutex
	failSubs  int // столько ближайших Subscribe вернут ошибку
	subs      []*fakeSub
	handlers  []transport.Handler
	subscribe int // счётчик вызовов Subscribe (включая неудачные)
}

func (t *fakeTransport) Subscribe(roomID, key string, h transport.Handler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribe++
	if t.failSubs > 0 {
		t.failSubs--
		return nil, errors.New("subscribe refused")
	}
	sub := &fakeSub{}
	t.subs = append(t.subs, sub)
	t.handlers = append(t.handlers, h)
	return sub, nil
}

func (t *fakeTransport) lastHandler(tb testing.TB) transport.Handler {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handlers) == 0 {
		tb.Fatal("no subscription handler recorded")
	}
	return t.handlers[len(t.handlers)-1]
}

func (t *fakeTransport) lastSub(tb testing.TB) *fakeSub {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 {
		tb.Fatal("no subscription recorded")
	}
	return t.subs[len(t.subs)-1]
}

func (t *fakeTransport) subscribeCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribe
}

type sentEvent struct {
	event   string
	payload []byte
}

type fakeSub struct {
	mu        sync.Mutex
	sent      []sentEvent
	tracks    int
	untracked bool
	closed    bool

	// если выставлен, Broadcast блокируется до закрытия канала
	blockBroadcast chan struct{}
}

func (s *fakeSub) Track(context.Context, transport.PresenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks++
	return nil
}

func (s *fakeSub) Untrack(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.untracked = true
	return nil
}

func (s *fakeSub) Broadcast(_ context.Context, event string, payload any) error {
	s.mu.Lock()
	block := s.blockBroadcast
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, sentEvent{event: event, payload: raw})
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) events(name string) []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentEvent
	for _, e := range s.sent {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSub) trackCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

// waitFor опрашивает условие до дедлайна; иначе Fatal.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
