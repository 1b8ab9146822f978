package session

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datalens/collab-service/internal/assistant"
	"github.com/datalens/collab-service/internal/domain"
	"github.com/datalens/collab-service/internal/transport"
)

// Псевдо-участник ассистента: не член roster-а, отдельный цвет и id.
var assistantIdentity = domain.Participant{
	ID:    "ai-assistant",
	Name:  "AI Assistant",
	Color: "#6b21a8",
}

const fallbackReply = "Sorry, I couldn't process that request right now. Please try again in a moment."

var (
	mentionPattern   = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)
	assistantPattern = regexp.MustCompile(`(?i)@assistant\b`)
)

// extractMentions возвращает @-упоминания из текста, без '@'.
func extractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// stripAssistantMention убирает токен @assistant (без учёта регистра)
// и возвращает остаток с нормализованными пробелами.
func stripAssistantMention(text string) (string, bool) {
	if !assistantPattern.MatchString(text) {
		return text, false
	}
	rest := assistantPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(rest), " "), true
}

// askAssistant — протокол перехватчика: ai_typing=true → вопрос с окном
// истории и контекстом датасета → синтетический ответ (или fallback) →
// ai_typing=false. Флаг aiBusy снимается в обеих ветках; поздний ответ
// после смены комнаты отбрасывается по epoch.
func (s *Session) askAssistant(epoch uint64, question string) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	ctx := s.roomCtx
	sub := s.sub
	dataset := s.dataset
	history := s.messages.tail(historyWindow)
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Broadcast(ctx, transport.EventAITyping, aiTypingPayload{Typing: true})
	}

	reply := fallbackReply
	if s.answerer != nil {
		turns := make([]assistant.Turn, 0, len(history))
		for _, m := range history {
			turns = append(turns, assistant.Turn{Author: m.AuthorName, Text: m.Text})
		}
		ans, err := s.answerer.Answer(ctx, assistant.Question{
			Text:    question,
			History: turns,
			Dataset: dataset,
		})
		if err != nil {
			s.log.Warn("assistant answer failed", "err", err)
		} else if strings.TrimSpace(ans) != "" {
			reply = strings.TrimSpace(ans)
		}
	}

	msg := domain.ChatMessage{
		ID:            uuid.NewString(),
		AuthorID:      assistantIdentity.ID,
		AuthorName:    assistantIdentity.Name,
		AuthorColor:   assistantIdentity.Color,
		Text:          reply,
		CreatedAt:     time.Now(),
		FromAssistant: true,
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// комната сменилась пока ждали ответ; aiBusy уже сброшен LeaveRoom-ом
		s.mu.Unlock()
		return
	}
	s.messages.append(msg)
	s.aiBusy = false
	sub = s.sub
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Broadcast(ctx, transport.EventAIResponse, msg)
		_ = sub.Broadcast(ctx, transport.EventAITyping, aiTypingPayload{Typing: false})
	}
}
