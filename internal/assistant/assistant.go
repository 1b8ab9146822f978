// Package assistant — внешний AI-коллаборатор: функция "вопрос → ответ"
// с контекстом датасета и окном недавней переписки. Ядро сессии трактует
// его как чёрный ящик без побочных эффектов.
package assistant

import "context"

// Turn — одна реплика из недавней истории чата.
type Turn struct {
	Author string
	Text   string
}

type Question struct {
	Text    string
	History []Turn
	Dataset string
}

type Answerer interface {
	Answer(ctx context.Context, q Question) (string, error)
}

// AnswerFunc адаптирует функцию под Answerer (удобно в тестах).
type AnswerFunc func(ctx context.Context, q Question) (string, error)

func (f AnswerFunc) Answer(ctx context.Context, q Question) (string, error) {
	return f(ctx, q)
}
