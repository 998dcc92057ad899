package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamSessionStatus is the lifecycle state of a broadcast.
type StreamSessionStatus string

const (
	StreamSessionActive StreamSessionStatus = "active"
	StreamSessionEnded  StreamSessionStatus = "ended"
)

// StreamSession is one broadcast, optionally wrapping a game session.
type StreamSession struct {
	ID               uuid.UUID           `json:"id"`
	StartTime        time.Time           `json:"start_time"`
	EndTime          *time.Time          `json:"end_time,omitempty"`
	Title            *string             `json:"title,omitempty"`
	Category         *string             `json:"category,omitempty"`
	Status           StreamSessionStatus `json:"status"`
	GameSessionID    *uuid.UUID          `json:"game_session_id,omitempty"`
	ViewerStats      Value               `json:"viewer_stats"`
	HighlightMoments Value               `json:"highlight_moments"`
	SessionMetrics   Value               `json:"session_metrics"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Clone returns a copy that does not alias s.
func (s *StreamSession) Clone() *StreamSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.GameSessionID != nil {
		id := *s.GameSessionID
		out.GameSessionID = &id
	}
	return &out
}

// AttachedTo reports whether the stream currently references the game session.
func (s *StreamSession) AttachedTo(gameSessionID uuid.UUID) bool {
	return s != nil && s.GameSessionID != nil && *s.GameSessionID == gameSessionID
}

// SessionStats are the figures derived from a stream session's interactions and highlights.
type SessionStats struct {
	SessionID         uuid.UUID      `json:"session_id"`
	UniqueViewers     int            `json:"unique_viewers"`
	TotalInteractions int            `json:"total_interactions"`
	ByType            map[string]int `json:"by_type"`
	AvgSentiment      *float64       `json:"avg_sentiment,omitempty"`
	HighlightCount    int            `json:"highlight_count"`
	AvgSignificance   *float64       `json:"avg_significance,omitempty"`
}
