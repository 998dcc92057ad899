package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamHighlight marks a significant moment of a stream session.
type StreamHighlight struct {
	ID                uuid.UUID `json:"id"`
	SessionID         uuid.UUID `json:"session_id"`
	Timestamp         time.Time `json:"timestamp"`
	HighlightType     string    `json:"highlight_type"`
	Description       string    `json:"description"`
	ViewerImpact      Value     `json:"viewer_impact"`
	SignificanceScore float64   `json:"significance_score"`
}

// CandidateSource tells where a highlight candidate came from.
type CandidateSource string

const (
	SourceGameEvent   CandidateSource = "game_event"
	SourceInteraction CandidateSource = "interaction"
)

// HighlightCandidate is the input of highlight evaluation. Scores left nil are unknown.
type HighlightCandidate struct {
	Source        CandidateSource `json:"source"`
	SourceID      uuid.UUID       `json:"source_id"`
	GameSessionID *uuid.UUID      `json:"game_session_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          string          `json:"type"`
	Category      string          `json:"category,omitempty"`
	Impact        *float64        `json:"impact,omitempty"`
	Sentiment     *float64        `json:"sentiment,omitempty"`
	Text          string          `json:"text,omitempty"`
	Amount        *float64        `json:"amount,omitempty"`
	Username      string          `json:"username,omitempty"`
	Data          Value           `json:"data"`
}

// MomentQuery filters recalled game events and highlights. Zero fields do not filter.
// EventType and MinImpact apply to game events, HighlightType to highlights; the time
// range and Text apply to both.
type MomentQuery struct {
	EventType     string     `json:"event_type,omitempty"`
	HighlightType string     `json:"highlight_type,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	Text          string     `json:"text,omitempty"`
	MinImpact     *float64   `json:"min_impact,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// MomentRecall is the answer to a game-moment recall.
type MomentRecall struct {
	Events     []GameEvent       `json:"events"`
	Highlights []StreamHighlight `json:"highlights"`
}
