package session

import (
	"encoding/json"
	"time"

	"github.com/datalens/collab-service/internal/domain"
	"github.com/datalens/collab-service/internal/transport"
)

// Жизненный цикл подписки:
// idle → subscribing → subscribed → (error|closed) → retryWait → subscribing …
// После превышения потолка попыток — gaveUp; выводит только новый JoinRoom.
type phase int

const (
	phaseIdle phase = iota
	phaseSubscribing
	phaseSubscribed
	phaseRetryWait
	phaseGaveUp
)

// backoffDelay: min(base * 2^attempt, max), attempt считается с нуля.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

func (s *Session) subscribe(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || (s.ph != phaseSubscribing && s.ph != phaseRetryWait) {
		s.mu.Unlock()
		return
	}
	s.ph = phaseSubscribing
	roomID := s.roomID
	key := s.self.ID
	s.mu.Unlock()

	h := transport.Handler{
		OnStatus: func(st transport.Status, err error) {
			s.handleStatus(epoch, st, err)
		},
		OnPresenceSync: func(states []transport.PresenceState) {
			s.handlePresenceSync(epoch, states)
		},
		OnPresenceJoin: func(_ string, states []transport.PresenceState) {
			s.handlePresenceJoin(epoch, states)
		},
		OnPresenceLeave: func(_ string, states []transport.PresenceState) {
			s.handlePresenceLeave(epoch, states)
		},
		OnBroadcast: func(event string, payload json.RawMessage) {
			s.handleBroadcast(epoch, event, payload)
		},
	}

	sub, err := s.tr.Subscribe(roomID, key, h)
	if err != nil {
		s.handleStatus(epoch, transport.StatusError, err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		_ = sub.Close()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	// subscribed мог прийти синхронно, до того как sub сохранён
	s.trackIfSubscribed(epoch)
}

func (s *Session) handleStatus(epoch uint64, st transport.Status, err error) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}

	switch st {
	case transport.StatusSubscribed:
		s.ph = phaseSubscribed
		s.attempts = 0
		s.mu.Unlock()
		s.log.Info("subscribed", "room", s.Room())
		s.trackIfSubscribed(epoch)

	case transport.StatusError, transport.StatusClosed:
		if s.ph == phaseIdle || s.ph == phaseGaveUp {
			s.mu.Unlock()
			return
		}
		stale := s.sub
		s.sub = nil
		s.tracked = false
		s.attempts++

		if s.attempts > s.maxRetries {
			s.ph = phaseGaveUp
			roomID := s.roomID
			s.mu.Unlock()
			if stale != nil {
				_ = stale.Close()
			}
			s.log.Error("giving up on room after retries",
				"room", roomID, "attempts", s.maxRetries, "err", err)
			s.notify(Notice{Kind: NoticeConnectionLost, Text: "Connection lost. Rejoin the session to reconnect."})
			return
		}

		s.ph = phaseRetryWait
		delay := backoffDelay(s.retryBase, s.retryMax, s.attempts-1)
		if s.retryTimer != nil {
			s.retryTimer.Stop()
		}
		s.retryTimer = time.AfterFunc(delay, func() { s.retry(epoch) })
		roomID := s.roomID
		attempt := s.attempts
		s.mu.Unlock()

		if stale != nil {
			_ = stale.Close()
		}
		s.log.Warn("subscription lost, retry scheduled",
			"room", roomID, "attempt", attempt, "delay", delay, "status", string(st), "err", err)

	default:
		s.mu.Unlock()
	}
}

func (s *Session) retry(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.ph != phaseRetryWait {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.mu.Unlock()

	s.subscribe(epoch)
}

// trackIfSubscribed анонсирует presence ровно один раз на успешную подписку.
func (s *Session) trackIfSubscribed(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.ph != phaseSubscribed || s.sub == nil || s.tracked {
		s.mu.Unlock()
		return
	}
	s.tracked = true
	sub := s.sub
	ctx := s.roomCtx
	st := s.presenceStateLocked()
	s.mu.Unlock()

	if err := sub.Track(ctx, st); err != nil {
		s.log.Warn("presence track failed", "room", s.Room(), "err", err)
	}
}

func (s *Session) stateLocked() domain.ConnectionState {
	switch s.ph {
	case phaseSubscribed:
		return domain.StateConnected
	case phaseSubscribing, phaseRetryWait:
		if s.attempts > 0 {
			return domain.StateReconnecting
		}
		return domain.StateConnecting
	default:
		return domain.StateDisconnected
	}
}
