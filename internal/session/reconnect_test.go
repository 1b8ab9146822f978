package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datalens/collab-service/internal/domain"
	"github.com/datalens/collab-service/internal/transport"
)

func TestBackoffDelay_MonotonicAndCapped(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := backoffDelay(base, max, attempt)
		if d < prev {
			t.Fatalf("delay decreased: attempt %d: %v < %v", attempt, d, prev)
		}
		if d > max {
			t.Fatalf("delay above cap: attempt %d: %v", attempt, d)
		}
		prev = d
	}

	if got := backoffDelay(base, max, 0); got != time.Second {
		t.Fatalf("first retry delay = %v, want 1s", got)
	}
	if got := backoffDelay(base, max, 4); got != 16*time.Second {
		t.Fatalf("fifth delay = %v, want 16s", got)
	}
	if got := backoffDelay(base, max, 5); got != 30*time.Second {
		t.Fatalf("capped delay = %v, want 30s", got)
	}
	if got := backoffDelay(base, max, 63); got != 30*time.Second {
		t.Fatalf("overflow-range delay = %v, want 30s", got)
	}
}

func TestReconnect_GivesUpAfterCeiling(t *testing.T) {
	tr := &fakeTransport{failSubs: 100}
	notices := &noticeLog{}
	s := newTestSession(tr, nil, notices)
	s.retryBase = time.Millisecond
	s.retryMax = 2 * time.Millisecond
	defer s.LeaveRoom(context.Background())

	s.JoinRoom(context.Background(), "r1")

	// первая попытка + 5 ретраев, дальше тишина
	waitFor(t, "gave up", func() bool {
		return s.ConnectionState() == domain.StateDisconnected && tr.subscribeCalls() == 6
	})
	time.Sleep(20 * time.Millisecond)
	if got := tr.subscribeCalls(); got != 6 {
		t.Fatalf("subscribe calls after ceiling = %d, want 6", got)
	}

	lost := notices.byKind(NoticeConnectionLost)
	if len(lost) != 1 {
		t.Fatalf("connection-lost notices = %d, want exactly 1", len(lost))
	}

	// sendMessage в gave-up состоянии — тихий drop
	s.SendMessage(context.Background(), "anyone?")
	if len(s.Messages()) != 0 {
		t.Fatal("message appended in gave-up state")
	}
}

func TestReconnect_FreshJoinResetsCounter(t *testing.T) {
	tr := &fakeTransport{failSubs: 100}
	s := newTestSession(tr, nil, nil)
	s.retryBase = time.Millisecond
	s.retryMax = 2 * time.Millisecond
	defer s.LeaveRoom(context.Background())

	s.JoinRoom(context.Background(), "r1")
	waitFor(t, "gave up", func() bool { return tr.subscribeCalls() == 6 })

	tr.mu.Lock()
	tr.failSubs = 0
	tr.mu.Unlock()

	// новый JoinRoom выводит из gave-up
	s.JoinRoom(context.Background(), "r1")
	tr.lastHandler(t).OnStatus(transport.StatusSubscribed, nil)
	if got := s.ConnectionState(); got != domain.StateConnected {
		t.Fatalf("state after fresh join = %s", got)
	}
}

func TestReconnect_ErrorWhileSubscribedRetriesAndRecovers(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(tr, nil, nil)
	s.retryBase = time.Millisecond
	s.retryMax = 2 * time.Millisecond
	defer s.LeaveRoom(context.Background())

	h := connect(t, s, tr, "r1")
	first := tr.lastSub(t)

	h.OnStatus(transport.StatusError, errors.New("transport hiccup"))
	if got := s.ConnectionState(); got != domain.StateReconnecting {
		t.Fatalf("state after error = %s, want reconnecting", got)
	}

	waitFor(t, "resubscribe", func() bool { return tr.subscribeCalls() == 2 })
	if !first.closed {
		t.Fatal("stale subscription must be closed")
	}

	tr.lastHandler(t).OnStatus(transport.StatusSubscribed, nil)
	if got := s.ConnectionState(); got != domain.StateConnected {
		t.Fatalf("state after recovery = %s", got)
	}

	// успешная подписка сбрасывает счётчик: следующий сбой снова с 1s-шкалы
	tr.lastHandler(t).OnStatus(transport.StatusClosed, errors.New("gone again"))
	waitFor(t, "second recovery attempt", func() bool { return tr.subscribeCalls() == 3 })
}

func TestConnectionState_ConnectingOnFirstAttempt(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(tr, nil, nil)
	defer s.LeaveRoom(context.Background())

	s.JoinRoom(context.Background(), "r1")
	// подписка открыта, статус ещё не пришёл
	if got := s.ConnectionState(); got != domain.StateConnecting {
		t.Fatalf("state = %s, want connecting", got)
	}

	// поздний callback от старой подписки игнорируется после leave
	h := tr.lastHandler(t)
	s.LeaveRoom(context.Background())
	h.OnStatus(transport.StatusSubscribed, nil)
	if got := s.ConnectionState(); got != domain.StateDisconnected {
		t.Fatalf("state = %s, want disconnected after leave", got)
	}
}
