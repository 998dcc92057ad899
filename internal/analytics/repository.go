package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/database"
)

const (
	analyticColumns = `id, timestamp, metric_type, time_period_start, time_period_end, metric_data, insights`
	learningColumns = `id, timestamp, category, learned_pattern, application_results, effectiveness_score`
)

// Repository handles performance_analytics and learning_history persistence, plus the
// window reads over events, interactions and highlights.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WindowGameEvents returns the game events in [start, end).
func (r *Repository) WindowGameEvents(ctx context.Context, start, end time.Time) ([]models.EventSample, error) {
	const q = `SELECT timestamp, session_id, event_type, event_category, impact_score
		FROM game_events WHERE timestamp >= $1 AND timestamp < $2 ORDER BY timestamp`
	rows, err := r.pool.Query(ctx, q, start, end)
	if err != nil {
		return nil, database.Classify("analytics.WindowGameEvents", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.EventSample, error) {
		var s models.EventSample
		err := row.Scan(&s.Timestamp, &s.SessionID, &s.EventType, &s.Category, &s.ImpactScore)
		return s, err
	})
	return list, database.Classify("analytics.WindowGameEvents", err)
}

// WindowInteractions returns the interactions in [start, end) with their viewer's first_seen.
func (r *Repository) WindowInteractions(ctx context.Context, start, end time.Time) ([]models.InteractionSample, error) {
	const q = `SELECT i.timestamp, i.session_id, i.viewer_id, p.first_seen, i.interaction_type, i.sentiment_score, i.impact_level, i.context_tags
		FROM viewer_interactions i LEFT JOIN viewer_profiles p ON p.id = i.viewer_id
		WHERE i.timestamp >= $1 AND i.timestamp < $2 ORDER BY i.timestamp`
	rows, err := r.pool.Query(ctx, q, start, end)
	if err != nil {
		return nil, database.Classify("analytics.WindowInteractions", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.InteractionSample, error) {
		var s models.InteractionSample
		err := row.Scan(&s.Timestamp, &s.SessionID, &s.ViewerID, &s.ViewerFirstSeen, &s.InteractionType, &s.SentimentScore, &s.ImpactLevel, &s.ContextTags)
		return s, err
	})
	return list, database.Classify("analytics.WindowInteractions", err)
}

// WindowHighlights returns the highlights in [start, end).
func (r *Repository) WindowHighlights(ctx context.Context, start, end time.Time) ([]models.HighlightSample, error) {
	const q = `SELECT timestamp, session_id, highlight_type, significance_score
		FROM stream_highlights WHERE timestamp >= $1 AND timestamp < $2 ORDER BY timestamp`
	rows, err := r.pool.Query(ctx, q, start, end)
	if err != nil {
		return nil, database.Classify("analytics.WindowHighlights", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.HighlightSample, error) {
		var s models.HighlightSample
		err := row.Scan(&s.Timestamp, &s.SessionID, &s.HighlightType, &s.SignificanceScore)
		return s, err
	})
	return list, database.Classify("analytics.WindowHighlights", err)
}

func scanAnalytic(row pgx.CollectableRow) (models.PerformanceAnalytic, error) {
	var a models.PerformanceAnalytic
	err := row.Scan(&a.ID, &a.Timestamp, &a.MetricType, &a.PeriodStart, &a.PeriodEnd, &a.MetricData, &a.Insights)
	return a, err
}

// UpsertPerformanceAnalytic writes a window's record; a re-run keeps the original id and
// replaces everything else.
func (r *Repository) UpsertPerformanceAnalytic(ctx context.Context, a *models.PerformanceAnalytic) (*models.PerformanceAnalytic, error) {
	const q = `INSERT INTO performance_analytics (` + analyticColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (metric_type, time_period_start, time_period_end)
		DO UPDATE SET timestamp = EXCLUDED.timestamp, metric_data = EXCLUDED.metric_data, insights = EXCLUDED.insights
		RETURNING ` + analyticColumns
	rows, err := r.pool.Query(ctx, q, a.ID, a.Timestamp, a.MetricType, a.PeriodStart, a.PeriodEnd, a.MetricData, a.Insights)
	if err != nil {
		return nil, database.Classify("analytics.Upsert", err)
	}
	out, err := pgx.CollectOneRow(rows, scanAnalytic)
	if err != nil {
		return nil, database.Classify("analytics.Upsert", err)
	}
	return &out, nil
}

// ListPerformanceAnalytics returns records newest window first.
func (r *Repository) ListPerformanceAnalytics(ctx context.Context, f models.AnalyticsFilter) ([]models.PerformanceAnalytic, error) {
	const q = `SELECT ` + analyticColumns + ` FROM performance_analytics
		WHERE ($1 = '' OR metric_type = $1)
		AND ($2::timestamptz IS NULL OR time_period_start >= $2)
		AND ($3::timestamptz IS NULL OR time_period_end <= $3)
		ORDER BY time_period_start DESC, metric_type LIMIT $4`
	rows, err := r.pool.Query(ctx, q, f.MetricType, f.From, f.To, f.Limit)
	if err != nil {
		return nil, database.Classify("analytics.List", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, scanAnalytic)
	return list, database.Classify("analytics.List", err)
}

func scanLearning(row pgx.CollectableRow) (models.LearningHistoryEntry, error) {
	var e models.LearningHistoryEntry
	var results *models.Value
	err := row.Scan(&e.ID, &e.Timestamp, &e.Category, &e.LearnedPattern, &results, &e.EffectivenessScore)
	if results != nil {
		e.ApplicationResults = *results
	}
	return e, err
}

// CreateLearning appends a learning history entry.
func (r *Repository) CreateLearning(ctx context.Context, e *models.LearningHistoryEntry) error {
	const q = `INSERT INTO learning_history (` + learningColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	var results interface{}
	if !e.ApplicationResults.IsNull() {
		results = e.ApplicationResults
	}
	_, err := r.pool.Exec(ctx, q, e.ID, e.Timestamp, e.Category, e.LearnedPattern, results, e.EffectivenessScore)
	return database.Classify("analytics.CreateLearning", err)
}

// UpdateLearningResult back-fills application results and effectiveness. Null results and
// a nil score leave the stored values alone.
func (r *Repository) UpdateLearningResult(ctx context.Context, id uuid.UUID, results models.Value, effectiveness *float64) (*models.LearningHistoryEntry, error) {
	const op = "analytics.UpdateLearning"
	var res interface{}
	if !results.IsNull() {
		res = results
	}
	const q = `UPDATE learning_history SET application_results = COALESCE($2, application_results),
		effectiveness_score = COALESCE($3, effectiveness_score) WHERE id = $1 RETURNING ` + learningColumns
	rows, err := r.pool.Query(ctx, q, id, res, effectiveness)
	if err != nil {
		return nil, database.Classify(op, err)
	}
	e, err := pgx.CollectOneRow(rows, scanLearning)
	if err == pgx.ErrNoRows {
		return nil, memerr.NotFound(op, "learning entry "+id.String())
	}
	if err != nil {
		return nil, database.Classify(op, err)
	}
	return &e, nil
}

// ListLearning returns entries newest first; an empty category lists all.
func (r *Repository) ListLearning(ctx context.Context, category string, limit int) ([]models.LearningHistoryEntry, error) {
	const q = `SELECT ` + learningColumns + ` FROM learning_history
		WHERE ($1 = '' OR category = $1) ORDER BY timestamp DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, category, limit)
	if err != nil {
		return nil, database.Classify("analytics.ListLearning", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, scanLearning)
	return list, database.Classify("analytics.ListLearning", err)
}
