// Package wire — протокол relay-канала поверх websocket. Используется
// сервером (internal/relay) и клиентским транспортом (wschannel).
package wire

import (
	"encoding/json"

	"github.com/datalens/collab-service/internal/transport"
)

const (
	// server -> client
	TypeSubscribed    = "subscribed"
	TypePresenceState = "presence_state"
	TypePresenceJoin  = "presence_join"
	TypePresenceLeave = "presence_leave"

	// обе стороны
	TypeBroadcast = "broadcast"

	// client -> server
	TypeTrack   = "track"
	TypeUntrack = "untrack"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Broadcast struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type PresenceEvent struct {
	Key    string                    `json:"key"`
	States []transport.PresenceState `json:"states"`
}

func Make(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: raw}, nil
}
