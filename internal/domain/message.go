package domain

import "time"

// ChatMessage неизменяемо после создания: только append, без правок на месте.
type ChatMessage struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
	AuthorColor   string    `json:"author_color,omitempty"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
	FromAssistant bool      `json:"from_assistant,omitempty"`
	Mentions      []string  `json:"mentions,omitempty"`
}
