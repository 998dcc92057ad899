package models

import (
	"time"

	"github.com/google/uuid"
)

// RelatedEvents is what the memory links to one game event: earlier events of the same
// type in the session, and events of other types that touched the same data keys.
type RelatedEvents struct {
	Event    GameEvent   `json:"event"`
	Previous []GameEvent `json:"previous"`
	Related  []GameEvent `json:"related"`
}

// EventTypePattern summarises how often an event type repeated in a session.
type EventTypePattern struct {
	EventType string      `json:"event_type"`
	Count     int         `json:"count"`
	LastAt    time.Time   `json:"last_at"`
	Recent    []GameEvent `json:"recent"`
}

// EventSequence is a run of consecutive event types seen more than once.
type EventSequence struct {
	Types  []string  `json:"types"`
	Count  int       `json:"count"`
	LastAt time.Time `json:"last_at"`
}

// EventPatterns is the repetition picture of a game session.
type EventPatterns struct {
	SessionID uuid.UUID          `json:"session_id"`
	Types     []EventTypePattern `json:"types"`
	Sequences []EventSequence    `json:"sequences"`
}
