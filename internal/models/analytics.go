package models

import (
	"time"

	"github.com/google/uuid"
)

// Metric types produced by the analytics engine.
const (
	MetricGameEvents         = "game_events"
	MetricViewerInteractions = "viewer_interactions"
	MetricEngagement         = "engagement"
	MetricRetention          = "retention"
)

// MetricTypes lists every supported metric type.
var MetricTypes = []string{MetricGameEvents, MetricViewerInteractions, MetricEngagement, MetricRetention}

// PerformanceAnalytic is the aggregate for one metric over one window.
type PerformanceAnalytic struct {
	ID          uuid.UUID `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	MetricType  string    `json:"metric_type"`
	PeriodStart time.Time `json:"time_period_start"`
	PeriodEnd   time.Time `json:"time_period_end"`
	MetricData  Value     `json:"metric_data"`
	Insights    Value     `json:"insights"`
}

// LearningHistoryEntry is a behavioral pattern remembered across sessions.
type LearningHistoryEntry struct {
	ID                 uuid.UUID `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Category           string    `json:"category"`
	LearnedPattern     Value     `json:"learned_pattern"`
	ApplicationResults Value     `json:"application_results"`
	EffectivenessScore *float64  `json:"effectiveness_score,omitempty"`
}

// EventSample is the slice of a game event the analytics engine reads.
type EventSample struct {
	Timestamp   time.Time
	SessionID   uuid.UUID
	EventType   string
	Category    string
	ImpactScore *float64
}

// InteractionSample is the slice of a viewer interaction the analytics engine reads.
// ViewerFirstSeen is nil when the profile is gone.
type InteractionSample struct {
	Timestamp       time.Time
	SessionID       uuid.UUID
	ViewerID        *uuid.UUID
	ViewerFirstSeen *time.Time
	InteractionType string
	SentimentScore  *float64
	ImpactLevel     *int
	ContextTags     []string
}

// HighlightSample is the slice of a stream highlight the analytics engine reads.
type HighlightSample struct {
	Timestamp         time.Time
	SessionID         uuid.UUID
	HighlightType     string
	SignificanceScore float64
}

// AnalyticsFilter selects stored aggregates. Zero fields do not filter.
type AnalyticsFilter struct {
	MetricType string
	From       *time.Time
	To         *time.Time
	Limit      int
}
