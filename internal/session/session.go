// Package session — ядро realtime-коллаборации: одна комната на сессию,
// roster через presence, чат и лента событий поверх pub/sub транспорта,
// перехват @assistant-упоминаний. Всё состояние принадлежит фасаду;
// транспорт и AI-ответчик инжектируются.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datalens/collab-service/internal/assistant"
	"github.com/datalens/collab-service/internal/domain"
	"github.com/datalens/collab-service/internal/transport"
)

const (
	defaultTypingIdle = 3 * time.Second
	historyWindow     = 10
	eventWindowSize   = 50
)

type NoticeKind string

const (
	NoticeJoined         NoticeKind = "participant_joined"
	NoticeLeft           NoticeKind = "participant_left"
	NoticeConnectionLost NoticeKind = "connection_lost"
)

// Notice — пользовательское уведомление ("X joined", "connection lost").
// Доставка — забота UI-слоя, ядро только эмитит.
type Notice struct {
	Kind NoticeKind
	Text string
}

type Identity struct {
	ID     string
	Name   string
	Avatar string
}

type Config struct {
	Transport transport.Transport
	Answerer  assistant.Answerer // optional; без него @assistant получает fallback-ответ
	Self      Identity
	Dataset   string
	OnNotice  func(Notice)
	Logger    *slog.Logger

	TypingIdle time.Duration // default 3s
}

type Session struct {
	tr       transport.Transport
	answerer assistant.Answerer
	log      *slog.Logger
	onNotice func(Notice)
	dataset  string

	typingIdle time.Duration
	retryBase  time.Duration
	retryMax   time.Duration
	maxRetries int

	mu          sync.Mutex
	self        domain.Participant
	roomID      string
	epoch       uint64 // инкремент на каждый join/leave; отсекает поздние callbacks
	sub         transport.Subscription
	ph          phase
	attempts    int
	tracked     bool
	retryTimer  *time.Timer
	typingTimer *time.Timer
	roomCtx     context.Context
	roomCancel  context.CancelFunc

	participants []domain.Participant
	messages     messageLog
	events       eventWindow
	aiBusy       bool
}

func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	self := domain.Participant{
		ID:     cfg.Self.ID,
		Name:   cfg.Self.Name,
		Avatar: cfg.Self.Avatar,
		Color:  domain.PickColor(),
	}
	if self.ID == "" {
		self.ID = uuid.NewString()
	}
	if self.Name == "" {
		self.Name = "Anonymous"
	}

	idle := cfg.TypingIdle
	if idle <= 0 {
		idle = defaultTypingIdle
	}

	return &Session{
		tr:         cfg.Transport,
		answerer:   cfg.Answerer,
		log:        log,
		onNotice:   cfg.OnNotice,
		dataset:    cfg.Dataset,
		typingIdle: idle,
		retryBase:  time.Second,
		retryMax:   30 * time.Second,
		maxRetries: 5,
		self:       self,
		events:     newEventWindow(eventWindowSize),
	}
}

// JoinRoom привязывает сессию к комнате. Привязка к другой комнате сначала
// выполняет LeaveRoom; повторный вызов с той же комнатой идемпотентен
// (только повторный анонс presence).
func (s *Session) JoinRoom(ctx context.Context, roomID string) {
	if roomID == "" {
		return
	}

	s.mu.Lock()
	if s.roomID == roomID && s.ph != phaseIdle && s.ph != phaseGaveUp {
		sub, ph, st := s.sub, s.ph, s.presenceStateLocked()
		s.mu.Unlock()
		if ph == phaseSubscribed && sub != nil {
			if err := sub.Track(ctx, st); err != nil {
				s.log.Debug("presence re-track failed", "room", roomID, "err", err)
			}
		}
		return
	}
	bound := s.roomID != ""
	s.mu.Unlock()

	if bound {
		s.LeaveRoom(ctx)
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.roomID = roomID
	s.ph = phaseSubscribing
	s.attempts = 0
	s.tracked = false
	s.roomCtx, s.roomCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.log.Info("joining room", "room", roomID, "user", s.self.ID)
	s.subscribe(epoch)
}

// LeaveRoom снимает presence, закрывает подписку и чистит всё состояние
// комнаты. Безопасен без предшествующего JoinRoom.
func (s *Session) LeaveRoom(ctx context.Context) {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return
	}
	s.epoch++
	roomID := s.roomID
	sub := s.sub
	cancel := s.roomCancel
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.sub = nil
	s.roomID = ""
	s.ph = phaseIdle
	s.attempts = 0
	s.tracked = false
	s.roomCtx, s.roomCancel = nil, nil
	s.participants = nil
	s.messages.reset()
	s.events.reset()
	s.aiBusy = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Untrack(ctx); err != nil {
			s.log.Debug("presence untrack failed", "room", roomID, "err", err)
		}
		_ = sub.Close()
	}
	s.log.Info("left room", "room", roomID, "user", s.self.ID)
}

// SendMessage отправляет сообщение от текущего пользователя: сначала
// оптимистичный локальный append, потом broadcast. Не подключены или
// пустой текст — тихий drop с логом. Упоминание @assistant дополнительно
// запускает перехватчик (mention.go).
func (s *Session) SendMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		s.log.Debug("drop message: empty text")
		return
	}

	s.mu.Lock()
	if s.ph != phaseSubscribed || s.sub == nil {
		s.mu.Unlock()
		s.log.Debug("drop message: not connected")
		return
	}

	question, forAI := stripAssistantMention(text)
	display := text
	if forAI {
		display = question
	}

	msg := domain.ChatMessage{
		ID:          uuid.NewString(),
		AuthorID:    s.self.ID,
		AuthorName:  s.self.Name,
		AuthorColor: s.self.Color,
		Text:        display,
		CreatedAt:   time.Now(),
		Mentions:    extractMentions(text),
	}
	s.messages.append(msg)
	if forAI {
		s.aiBusy = true
	}
	sub := s.sub
	epoch := s.epoch
	s.mu.Unlock()

	if err := sub.Broadcast(ctx, transport.EventChatMessage, msg); err != nil {
		// best-effort: локальный append не откатываем
		s.log.Warn("chat broadcast failed", "room", s.Room(), "err", err)
	}

	if forAI {
		go s.askAssistant(epoch, question)
	}
}

// SendCursor — fire-and-forget; своё состояние не мутируем,
// свой курсор пользователь не рендерит.
func (s *Session) SendCursor(ctx context.Context, x, y float64) {
	sub, ok := s.liveSub()
	if !ok {
		return
	}
	p := cursorPayload{UserID: s.self.ID, X: x, Y: y}
	if err := sub.Broadcast(ctx, transport.EventCursorMove, p); err != nil {
		s.log.Debug("cursor broadcast failed", "err", err)
	}
}

// SendTyping транслирует индикатор набора. typing=true перезаводит
// idle-таймер; по его истечении уходит одиночный typing=false.
func (s *Session) SendTyping(ctx context.Context, typing bool) {
	s.mu.Lock()
	if s.ph != phaseSubscribed || s.sub == nil {
		s.mu.Unlock()
		return
	}
	sub := s.sub
	epoch := s.epoch
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if typing {
		s.typingTimer = time.AfterFunc(s.typingIdle, func() { s.typingExpired(epoch) })
	}
	s.mu.Unlock()

	p := typingPayload{UserID: s.self.ID, Typing: typing}
	if err := sub.Broadcast(ctx, transport.EventTypingIndicator, p); err != nil {
		s.log.Debug("typing broadcast failed", "err", err)
	}
}

func (s *Session) typingExpired(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.ph != phaseSubscribed || s.sub == nil {
		s.mu.Unlock()
		return
	}
	sub := s.sub
	ctx := s.roomCtx
	s.typingTimer = nil
	s.mu.Unlock()

	p := typingPayload{UserID: s.self.ID, Typing: false}
	_ = sub.Broadcast(ctx, transport.EventTypingIndicator, p)
}

// BroadcastEvent публикует событие коллаборации (query_submitted и т.п.):
// локальный append в окно, затем broadcast.
func (s *Session) BroadcastEvent(ctx context.Context, kind domain.EventKind, payload map[string]any) {
	if !kind.Valid() {
		s.log.Warn("drop event: unknown kind", "kind", string(kind))
		return
	}

	s.mu.Lock()
	if s.ph != phaseSubscribed || s.sub == nil {
		s.mu.Unlock()
		s.log.Debug("drop event: not connected", "kind", string(kind))
		return
	}
	ev := domain.CollaborationEvent{
		Kind:       kind,
		AuthorID:   s.self.ID,
		AuthorName: s.self.Name,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	s.events.append(ev)
	sub := s.sub
	s.mu.Unlock()

	if err := sub.Broadcast(ctx, transport.EventCollaboration, ev); err != nil {
		s.log.Debug("event broadcast failed", "kind", string(kind), "err", err)
	}
}

// --- read-only снапшоты для UI ---

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Self() domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) Roster() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, len(s.participants))
	for i, p := range s.participants {
		if p.Cursor != nil {
			c := *p.Cursor
			p.Cursor = &c
		}
		out[i] = p
	}
	return out
}

func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.snapshot()
}

func (s *Session) Events() []domain.CollaborationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.snapshot()
}

func (s *Session) ConnectionState() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) AssistantBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiBusy
}

// --- helpers ---

func (s *Session) liveSub() (transport.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ph != phaseSubscribed || s.sub == nil {
		return nil, false
	}
	return s.sub, true
}

func (s *Session) presenceStateLocked() transport.PresenceState {
	return transport.PresenceState{
		Key:      s.self.ID,
		ID:       s.self.ID,
		Name:     s.self.Name,
		Avatar:   s.self.Avatar,
		Color:    s.self.Color,
		OnlineAt: time.Now(),
	}
}

func (s *Session) notify(n Notice) {
	if s.onNotice != nil {
		s.onNotice(n)
	}
}
