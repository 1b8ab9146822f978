package domain

import "errors"

var (
	ErrNotConnected    = errors.New("not connected to a room")
	ErrEmptyMessage    = errors.New("empty message")
	ErrInvalidPresence = errors.New("presence entry missing identity fields")
	ErrUnknownEvent    = errors.New("unknown collaboration event kind")
)
