package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerInteraction is one chat message, donation, follow or similar from a viewer.
type ViewerInteraction struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	ViewerID        *uuid.UUID `json:"viewer_id,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	InteractionType string     `json:"interaction_type"`
	Message         *string    `json:"message,omitempty"`
	SentimentScore  *float64   `json:"sentiment_score,omitempty"`
	ImpactLevel     *int       `json:"impact_level,omitempty"`
	ContextTags     []string   `json:"context_tags"`
}

// ViewerProfile is the long-lived memory about one viewer.
type ViewerProfile struct {
	ID                 uuid.UUID          `json:"viewer_id"`
	Username           string             `json:"username"`
	FirstSeen          time.Time          `json:"first_seen"`
	LastSeen           time.Time          `json:"last_seen"`
	InteractionSummary InteractionSummary `json:"interaction_summary"`
	Preferences        Value              `json:"preferences"`
	EngagementMetrics  EngagementMetrics  `json:"engagement_metrics"`
	RelationshipLevel  int                `json:"relationship_level"`
}

// Clone returns a deep copy of p.
func (p *ViewerProfile) Clone() *ViewerProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.InteractionSummary = p.InteractionSummary.clone()
	return &out
}

// InteractionSummary counts what a viewer has done across sessions.
type InteractionSummary struct {
	Total            int            `json:"total"`
	ByType           map[string]int `json:"by_type"`
	Tags             map[string]int `json:"tags"`
	Sessions         int            `json:"sessions"`
	LastSessionID    *uuid.UUID     `json:"last_session_id,omitempty"`
	LastSessionCount int            `json:"last_session_count"`
}

func (s InteractionSummary) clone() InteractionSummary {
	out := s
	out.ByType = make(map[string]int, len(s.ByType))
	for k, v := range s.ByType {
		out.ByType[k] = v
	}
	out.Tags = make(map[string]int, len(s.Tags))
	for k, v := range s.Tags {
		out.Tags[k] = v
	}
	if s.LastSessionID != nil {
		id := *s.LastSessionID
		out.LastSessionID = &id
	}
	return out
}

// EngagementMetrics keeps running sums over the scores that were actually supplied.
type EngagementMetrics struct {
	SentimentSum       float64 `json:"sentiment_sum"`
	SentimentCount     int     `json:"sentiment_count"`
	ImpactSum          float64 `json:"impact_sum"`
	ImpactCount        int     `json:"impact_count"`
	RelationshipPoints float64 `json:"relationship_points"`
}

// AvgSentiment is nil when no interaction carried a sentiment score.
func (m EngagementMetrics) AvgSentiment() *float64 {
	if m.SentimentCount == 0 {
		return nil
	}
	v := m.SentimentSum / float64(m.SentimentCount)
	return &v
}

// AvgImpact is nil when no interaction carried an impact level.
func (m EngagementMetrics) AvgImpact() *float64 {
	if m.ImpactCount == 0 {
		return nil
	}
	v := m.ImpactSum / float64(m.ImpactCount)
	return &v
}

// ViewerHistoryItem is an interaction joined with the stream it happened on.
type ViewerHistoryItem struct {
	ViewerInteraction
	StreamTitle    *string `json:"stream_title,omitempty"`
	StreamCategory *string `json:"stream_category,omitempty"`
}

// ViewerRecall is what the conversational layer gets back about a viewer.
type ViewerRecall struct {
	Profile      *ViewerProfile      `json:"profile"`
	Interactions []ViewerInteraction `json:"interactions"`
	AvgSentiment *float64            `json:"avg_sentiment,omitempty"`
	AvgImpact    *float64            `json:"avg_impact,omitempty"`
}

// AttributedInteraction is an interaction together with the viewer it came from. Username
// is empty when the profile was forgotten.
type AttributedInteraction struct {
	ViewerInteraction
	Username          string `json:"username,omitempty"`
	RelationshipLevel int    `json:"relationship_level"`
}

// PriorityInteraction is an interaction important enough to answer first.
type PriorityInteraction struct {
	AttributedInteraction
	Importance float64 `json:"importance"`
}

// Conversation is one viewer's recent back-and-forth in a stream, newest first.
type Conversation struct {
	ViewerID     uuid.UUID           `json:"viewer_id"`
	Username     string              `json:"username"`
	LastAt       time.Time           `json:"last_at"`
	Interactions []ViewerInteraction `json:"interactions"`
}
