package models

import (
	"time"

	"github.com/google/uuid"
)

// GameSessionStatus is the lifecycle state of a game session.
type GameSessionStatus string

const (
	GameSessionActive GameSessionStatus = "active"
	GameSessionPaused GameSessionStatus = "paused"
	GameSessionEnded  GameSessionStatus = "ended"
)

// Open reports whether the session has not ended yet.
func (s GameSessionStatus) Open() bool {
	return s == GameSessionActive || s == GameSessionPaused
}

// GameSession is one bounded play-through of a game.
type GameSession struct {
	ID            uuid.UUID         `json:"id"`
	GameName      string            `json:"game_name"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	Mode          *string           `json:"mode,omitempty"`
	Difficulty    *string           `json:"difficulty,omitempty"`
	Status        GameSessionStatus `json:"status"`
	Summary       Value             `json:"summary"`
	Achievements  []Value           `json:"achievements"`
	NotableEvents []NotableEvent    `json:"notable_events"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a copy that shares no slices with s.
func (s *GameSession) Clone() *GameSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Achievements = append([]Value(nil), s.Achievements...)
	out.NotableEvents = append([]NotableEvent(nil), s.NotableEvents...)
	return &out
}

// NotableEvent is the compact copy of a high-impact event kept on its session.
type NotableEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Category    string    `json:"category"`
	ImpactScore float64   `json:"impact_score"`
	Data        Value     `json:"data"`
}

// GameEvent is an immutable record of something that happened in a game session.
type GameEvent struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	EventCategory string    `json:"event_category"`
	EventData     Value     `json:"event_data"`
	ImpactScore   *float64  `json:"impact_score,omitempty"`
}

// GameEventStats summarizes the events of one session.
type GameEventStats struct {
	Total   int            `json:"total"`
	Notable int            `json:"notable"`
	ByType  map[string]int `json:"by_type"`
}

// GameStatistics aggregates every session of one game.
type GameStatistics struct {
	GameName        string   `json:"game_name"`
	TotalSessions   int      `json:"total_sessions"`
	PlaytimeSeconds float64  `json:"playtime_seconds"`
	TotalEvents     int      `json:"total_events"`
	AvgImpact       *float64 `json:"avg_impact,omitempty"`
}
