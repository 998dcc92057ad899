package gamesessions

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

const sessionColumns = `id, game_name, start_time, end_time, mode, difficulty, status, summary, achievements, notable_events, created_at, updated_at`

// Repository handles game_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a game sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.GameSession, error) {
	var s models.GameSession
	err := row.Scan(&s.ID, &s.GameName, &s.StartTime, &s.EndTime, &s.Mode, &s.Difficulty, &s.Status,
		&s.Summary, &s.Achievements, &s.NotableEvents, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateGameSession inserts s. The partial unique index turns a second active row into a conflict.
func (r *Repository) CreateGameSession(ctx context.Context, s *models.GameSession) error {
	const q = `INSERT INTO game_sessions (id, game_name, start_time, mode, difficulty, status, summary, achievements, notable_events, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.GameName, s.StartTime, s.Mode, s.Difficulty, s.Status,
		s.Summary, s.Achievements, s.NotableEvents, s.CreatedAt)
	return database.Classify("gamesessions.Create", err)
}

// GetGameSession returns a session by id, or nil when it does not exist.
func (r *Repository) GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM game_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.Classify("gamesessions.Get", err)
	}
	return s, nil
}

// OpenGameSession returns the most recent active or paused session, or nil.
func (r *Repository) OpenGameSession(ctx context.Context) (*models.GameSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM game_sessions WHERE status IN ('active', 'paused') ORDER BY start_time DESC LIMIT 1`
	s, err := scanSession(r.pool.QueryRow(ctx, q))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.Classify("gamesessions.Open", err)
	}
	return s, nil
}

// ListGameSessions lists sessions newest first, optionally by status.
func (r *Repository) ListGameSessions(ctx context.Context, status models.GameSessionStatus, limit int) ([]models.GameSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM game_sessions WHERE ($1 = '' OR status = $1) ORDER BY start_time DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, string(status), limit)
	if err != nil {
		return nil, database.Classify("gamesessions.List", err)
	}
	defer rows.Close()
	var list []models.GameSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, database.Classify("gamesessions.List", err)
		}
		list = append(list, *s)
	}
	return list, database.Classify("gamesessions.List", rows.Err())
}

// TransitionGameSession moves a session from one status to another, failing when it is not in from.
func (r *Repository) TransitionGameSession(ctx context.Context, id uuid.UUID, from, to models.GameSessionStatus) error {
	const op = "gamesessions.Transition"
	const q = `UPDATE game_sessions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, from, to)
	if err != nil {
		return database.Classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrState(ctx, op, id)
	}
	return nil
}

// EndGameSession marks an open session ended. The row lock makes it wait for in-flight
// event appends, which hold a share lock on the same row.
func (r *Repository) EndGameSession(ctx context.Context, id uuid.UUID, endTime time.Time, summary models.Value, achievements []models.Value) (*models.GameSession, error) {
	const op = "gamesessions.End"
	q := `UPDATE game_sessions SET status = 'ended', end_time = $2, summary = $3, achievements = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'paused') RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, endTime, summary, achievements))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.missingOrState(ctx, op, id)
		}
		return nil, database.Classify(op, err)
	}
	return s, nil
}

// CorrectGameSession replaces summary and/or achievements of an ended session.
func (r *Repository) CorrectGameSession(ctx context.Context, id uuid.UUID, summary models.Value, achievements []models.Value) (*models.GameSession, error) {
	const op = "gamesessions.Correct"
	q := `UPDATE game_sessions SET
			summary = CASE WHEN $2::boolean THEN $3 ELSE summary END,
			achievements = CASE WHEN $4::boolean THEN $5 ELSE achievements END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'ended' RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, !summary.IsNull(), summary, achievements != nil, achievements))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.missingOrState(ctx, op, id)
		}
		return nil, database.Classify(op, err)
	}
	return s, nil
}

// DeleteGameSession deletes an ended session. Events cascade and stream references are
// cleared by the foreign keys.
func (r *Repository) DeleteGameSession(ctx context.Context, id uuid.UUID) error {
	const op = "gamesessions.Delete"
	tag, err := r.pool.Exec(ctx, `DELETE FROM game_sessions WHERE id = $1 AND status = 'ended'`, id)
	if err != nil {
		return database.Classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrState(ctx, op, id)
	}
	return nil
}

func (r *Repository) missingOrState(ctx context.Context, op string, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM game_sessions WHERE id = $1`, id).Scan(&status)
	if err == pgx.ErrNoRows {
		return memerr.NotFound(op, "game session "+id.String())
	}
	if err != nil {
		return database.Classify(op, err)
	}
	return memerr.InvalidState(op, "game session is "+status)
}

// GameEventStats counts a session's events by type and its notable events.
func (r *Repository) GameEventStats(ctx context.Context, sessionID uuid.UUID) (*models.GameEventStats, error) {
	const op = "gamesessions.EventStats"
	stats := &models.GameEventStats{ByType: map[string]int{}}
	rows, err := r.pool.Query(ctx, `SELECT event_type, COUNT(*) FROM game_events WHERE session_id = $1 GROUP BY event_type`, sessionID)
	if err != nil {
		return nil, database.Classify(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, database.Classify(op, err)
		}
		stats.ByType[t] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, database.Classify(op, err)
	}
	err = r.pool.QueryRow(ctx, `SELECT jsonb_array_length(notable_events) FROM game_sessions WHERE id = $1`, sessionID).Scan(&stats.Notable)
	if err != nil && err != pgx.ErrNoRows {
		return nil, database.Classify(op, err)
	}
	return stats, nil
}

// ListGameEvents returns a session's events newest first, optionally by category.
func (r *Repository) ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error) {
	const q = `SELECT id, session_id, timestamp, event_type, event_category, event_data, impact_score
		FROM game_events WHERE session_id = $1 AND ($2 = '' OR event_category = $2)
		ORDER BY timestamp DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, sessionID, category, limit)
	if err != nil {
		return nil, database.Classify("gamesessions.ListEvents", err)
	}
	defer rows.Close()
	var list []models.GameEvent
	for rows.Next() {
		var e models.GameEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.EventType, &e.EventCategory, &e.EventData, &e.ImpactScore); err != nil {
			return nil, database.Classify("gamesessions.ListEvents", err)
		}
		list = append(list, e)
	}
	return list, database.Classify("gamesessions.ListEvents", rows.Err())
}

// GameStatistics aggregates all sessions of a game. Playtime counts ended sessions only.
func (r *Repository) GameStatistics(ctx context.Context, gameName string) (*models.GameStatistics, error) {
	const q = `SELECT
		COUNT(DISTINCT gs.id),
		COALESCE(SUM(EXTRACT(EPOCH FROM (gs.end_time - gs.start_time))) FILTER (WHERE gs.end_time IS NOT NULL), 0)::float8,
		(SELECT COUNT(*) FROM game_events ge JOIN game_sessions s ON s.id = ge.session_id WHERE s.game_name = $1),
		(SELECT AVG(ge.impact_score) FROM game_events ge JOIN game_sessions s ON s.id = ge.session_id WHERE s.game_name = $1)
		FROM game_sessions gs WHERE gs.game_name = $1`
	st := &models.GameStatistics{GameName: gameName}
	err := r.pool.QueryRow(ctx, q, gameName).Scan(&st.TotalSessions, &st.PlaytimeSeconds, &st.TotalEvents, &st.AvgImpact)
	if err != nil {
		return nil, database.Classify("gamesessions.Statistics", err)
	}
	return st, nil
}
