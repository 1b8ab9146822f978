package domain

import (
	"math/rand"
	"time"
)

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	Color    string    `json:"color"`
	Cursor   *Cursor   `json:"cursor,omitempty"`
	Typing   bool      `json:"typing"`
	LastSeen time.Time `json:"last_seen"`
}

// Фиксированная палитра для участников; ассистент красится отдельно.
var palette = [...]string{
	"#2563eb", // blue
	"#16a34a", // green
	"#d97706", // amber
	"#dc2626", // red
	"#7c3aed", // violet
	"#0891b2", // cyan
	"#db2777", // pink
	"#65a30d", // lime
}

// PickColor выбирает цвет из палитры; выбор стабилен на время жизни сессии.
func PickColor() string {
	return palette[rand.Intn(len(palette))]
}
