package domain

import "time"

type EventKind string

const (
	EventQuerySubmitted EventKind = "query_submitted"
	EventChartCreated   EventKind = "chart_created"
	EventDataLoaded     EventKind = "data_loaded"
	EventInsightShared  EventKind = "insight_shared"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventQuerySubmitted, EventChartCreated, EventDataLoaded, EventInsightShared:
		return true
	}
	return false
}

type CollaborationEvent struct {
	Kind       EventKind      `json:"kind"`
	AuthorID   string         `json:"author_id"`
	AuthorName string         `json:"author_name"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
