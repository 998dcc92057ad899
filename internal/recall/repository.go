package recall

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/events"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/highlights"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/interactions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/database"
)

// Repository runs recall reads against PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	events *events.Repository
	*highlights.Repository
}

// NewRepository creates a recall repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, events: events.NewRepository(pool), Repository: highlights.NewRepository(pool)}
}

// ViewerProfileByUsername returns the profile, or nil.
func (r *Repository) ViewerProfileByUsername(ctx context.Context, username string) (*models.ViewerProfile, error) {
	const q = `SELECT id, username, first_seen, last_seen, interaction_summary, preferences, engagement_metrics, relationship_level
		FROM viewer_profiles WHERE username = $1`
	p, err := interactions.ScanProfile(r.pool.QueryRow(ctx, q, username))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.Classify("recall.Profile", err)
	}
	return p, nil
}

// ViewerInteractions returns a viewer's newest interactions across sessions.
func (r *Repository) ViewerInteractions(ctx context.Context, viewerID uuid.UUID, limit int) ([]models.ViewerInteraction, error) {
	q := `SELECT ` + interactions.InteractionColumns + ` FROM viewer_interactions WHERE viewer_id = $1 ORDER BY timestamp DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, viewerID, limit)
	if err != nil {
		return nil, database.Classify("recall.ViewerInteractions", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, interactions.ScanInteraction)
	return list, database.Classify("recall.ViewerInteractions", err)
}

// ViewerHistory joins a viewer's interactions with their stream sessions.
func (r *Repository) ViewerHistory(ctx context.Context, viewerID uuid.UUID, limit int) ([]models.ViewerHistoryItem, error) {
	const q = `SELECT i.id, i.session_id, i.viewer_id, i.timestamp, i.interaction_type, i.message, i.sentiment_score, i.impact_level, i.context_tags,
			s.title, s.category
		FROM viewer_interactions i JOIN stream_sessions s ON s.id = i.session_id
		WHERE i.viewer_id = $1 ORDER BY i.timestamp DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, viewerID, limit)
	if err != nil {
		return nil, database.Classify("recall.ViewerHistory", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ViewerHistoryItem, error) {
		var h models.ViewerHistoryItem
		in := &h.ViewerInteraction
		err := row.Scan(&in.ID, &in.SessionID, &in.ViewerID, &in.Timestamp, &in.InteractionType, &in.Message, &in.SentimentScore,
			&in.ImpactLevel, &in.ContextTags, &h.StreamTitle, &h.StreamCategory)
		return h, err
	})
	return list, database.Classify("recall.ViewerHistory", err)
}

// where accumulates SQL predicates and their arguments.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) limit(n int) string {
	w.args = append(w.args, n)
	return " LIMIT $" + strconv.Itoa(len(w.args))
}

// likePattern escapes LIKE metacharacters in s and wraps it for substring matching.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// SearchGameEvents filters game events by type, time range, minimum impact and free text
// over the event type and data.
func (r *Repository) SearchGameEvents(ctx context.Context, q models.MomentQuery) ([]models.GameEvent, error) {
	var w where
	if q.EventType != "" {
		w.add("event_type = ?", q.EventType)
	}
	if q.From != nil {
		w.add("timestamp >= ?", *q.From)
	}
	if q.To != nil {
		w.add("timestamp <= ?", *q.To)
	}
	if q.MinImpact != nil {
		w.add("impact_score >= ?", *q.MinImpact)
	}
	if q.Text != "" {
		w.add("(event_type || ' ' || event_data::text) ILIKE ?", likePattern(q.Text))
	}
	sql := `SELECT id, session_id, timestamp, event_type, event_category, event_data, impact_score FROM game_events` +
		w.sql() + ` ORDER BY timestamp DESC` + w.limit(q.Limit)
	rows, err := r.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, database.Classify("recall.SearchGameEvents", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.GameEvent, error) {
		var e models.GameEvent
		err := row.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.EventType, &e.EventCategory, &e.EventData, &e.ImpactScore)
		return e, err
	})
	return list, database.Classify("recall.SearchGameEvents", err)
}

// SearchHighlights filters highlights by type, time range and free text over descriptions.
func (r *Repository) SearchHighlights(ctx context.Context, q models.MomentQuery) ([]models.StreamHighlight, error) {
	var w where
	if q.HighlightType != "" {
		w.add("highlight_type = ?", q.HighlightType)
	}
	if q.From != nil {
		w.add("timestamp >= ?", *q.From)
	}
	if q.To != nil {
		w.add("timestamp <= ?", *q.To)
	}
	if q.Text != "" {
		w.add("description ILIKE ?", likePattern(q.Text))
	}
	sql := `SELECT ` + highlights.Columns + ` FROM stream_highlights` + w.sql() + ` ORDER BY timestamp DESC` + w.limit(q.Limit)
	rows, err := r.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, database.Classify("recall.SearchHighlights", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, highlights.ScanHighlight)
	return list, database.Classify("recall.SearchHighlights", err)
}

// SearchMessages matches interaction messages by full text, falling back to substring
// matches for fragments the text search does not tokenize.
func (r *Repository) SearchMessages(ctx context.Context, text string, limit int) ([]models.ViewerInteraction, error) {
	q := `SELECT ` + interactions.InteractionColumns + ` FROM viewer_interactions
		WHERE message_tsv @@ plainto_tsquery('simple', $1) OR message ILIKE $2
		ORDER BY timestamp DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, text, likePattern(text), limit)
	if err != nil {
		return nil, database.Classify("recall.SearchMessages", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, interactions.ScanInteraction)
	return list, database.Classify("recall.SearchMessages", err)
}

// GameEvent returns one event, or nil.
func (r *Repository) GameEvent(ctx context.Context, id uuid.UUID) (*models.GameEvent, error) {
	const q = `SELECT id, session_id, timestamp, event_type, event_category, event_data, impact_score
		FROM game_events WHERE id = $1`
	var e models.GameEvent
	err := r.pool.QueryRow(ctx, q, id).Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.EventType, &e.EventCategory, &e.EventData, &e.ImpactScore)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.Classify("recall.GameEvent", err)
	}
	return &e, nil
}

// ListGameEvents returns a session's events newest first.
func (r *Repository) ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error) {
	return r.events.ListGameEvents(ctx, sessionID, category, limit)
}

// AttributedInteractions returns a stream's interactions at or after since, newest first,
// joined with the viewer's username and relationship level.
func (r *Repository) AttributedInteractions(ctx context.Context, sessionID uuid.UUID, since time.Time, limit int) ([]models.AttributedInteraction, error) {
	const q = `SELECT i.id, i.session_id, i.viewer_id, i.timestamp, i.interaction_type, i.message, i.sentiment_score, i.impact_level, i.context_tags,
			COALESCE(p.username, ''), COALESCE(p.relationship_level, 0)
		FROM viewer_interactions i LEFT JOIN viewer_profiles p ON p.id = i.viewer_id
		WHERE i.session_id = $1 AND i.timestamp >= $2 ORDER BY i.timestamp DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, sessionID, since, limit)
	if err != nil {
		return nil, database.Classify("recall.AttributedInteractions", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AttributedInteraction, error) {
		var a models.AttributedInteraction
		in := &a.ViewerInteraction
		err := row.Scan(&in.ID, &in.SessionID, &in.ViewerID, &in.Timestamp, &in.InteractionType, &in.Message, &in.SentimentScore, &in.ImpactLevel, &in.ContextTags,
			&a.Username, &a.RelationshipLevel)
		return a, err
	})
	return list, database.Classify("recall.AttributedInteractions", err)
}
