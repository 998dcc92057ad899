package streamsessions

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

const sessionColumns = `id, start_time, end_time, title, category, status, game_session_id, viewer_stats, highlight_moments, session_metrics, created_at, updated_at`

// Repository handles stream_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.StreamSession, error) {
	var s models.StreamSession
	err := row.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.Title, &s.Category, &s.Status, &s.GameSessionID,
		&s.ViewerStats, &s.HighlightMoments, &s.SessionMetrics, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// lockGameSession share-locks a game session row and checks it has not ended.
func lockGameSession(ctx context.Context, tx pgx.Tx, op string, id uuid.UUID) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM game_sessions WHERE id = $1 FOR SHARE`, id).Scan(&status)
	if err == pgx.ErrNoRows {
		return memerr.NotFound(op, "game session "+id.String())
	}
	if err != nil {
		return err
	}
	if status == string(models.GameSessionEnded) {
		return memerr.NotFound(op, "game session "+id.String()+" has ended")
	}
	return nil
}

// CreateStreamSession inserts s after validating its game session reference.
func (r *Repository) CreateStreamSession(ctx context.Context, s *models.StreamSession) error {
	const op = "streamsessions.Create"
	return database.WithTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		if s.GameSessionID != nil {
			if err := lockGameSession(ctx, tx, op, *s.GameSessionID); err != nil {
				return err
			}
		}
		const q = `INSERT INTO stream_sessions (id, start_time, title, category, status, game_session_id, viewer_stats, highlight_moments, session_metrics, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
		_, err := tx.Exec(ctx, q, s.ID, s.StartTime, s.Title, s.Category, s.Status, s.GameSessionID,
			s.ViewerStats, s.HighlightMoments, s.SessionMetrics, s.CreatedAt)
		return err
	})
}

// GetStreamSession returns a session by id, or nil.
func (r *Repository) GetStreamSession(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.Classify("streamsessions.Get", err)
	}
	return s, nil
}

// ActiveStreamSession returns the active session, or nil.
func (r *Repository) ActiveStreamSession(ctx context.Context) (*models.StreamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE status = 'active' LIMIT 1`))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, database.Classify("streamsessions.Active", err)
	}
	return s, nil
}

// ListStreamSessions lists sessions newest first.
func (r *Repository) ListStreamSessions(ctx context.Context, status models.StreamSessionStatus, limit int) ([]models.StreamSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM stream_sessions WHERE ($1 = '' OR status = $1) ORDER BY start_time DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, string(status), limit)
	if err != nil {
		return nil, database.Classify("streamsessions.List", err)
	}
	defer rows.Close()
	var list []models.StreamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, database.Classify("streamsessions.List", err)
		}
		list = append(list, *s)
	}
	return list, database.Classify("streamsessions.List", rows.Err())
}

// SetStreamGameSession sets or clears (nil) the game session link of an active stream.
func (r *Repository) SetStreamGameSession(ctx context.Context, id uuid.UUID, gameSessionID *uuid.UUID) error {
	const op = "streamsessions.SetGameSession"
	return database.WithTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		if gameSessionID != nil {
			if err := lockGameSession(ctx, tx, op, *gameSessionID); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE stream_sessions SET game_session_id = $2, updated_at = NOW() WHERE id = $1 AND status = 'active'`, id, gameSessionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return memerr.NoActiveSession(op, "stream session "+id.String()+" is not active")
		}
		return nil
	})
}

// EndStreamSession marks the session ended with its closing figures.
func (r *Repository) EndStreamSession(ctx context.Context, id uuid.UUID, endTime time.Time, viewerStats, moments, metrics models.Value) (*models.StreamSession, error) {
	const op = "streamsessions.End"
	q := `UPDATE stream_sessions SET status = 'ended', end_time = $2, viewer_stats = $3, highlight_moments = $4, session_metrics = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'active' RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, endTime, viewerStats, moments, metrics))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, memerr.NotFound(op, "no active stream session "+id.String())
		}
		return nil, database.Classify(op, err)
	}
	return s, nil
}

// DeleteStreamSession deletes an ended session; interactions and highlights cascade.
func (r *Repository) DeleteStreamSession(ctx context.Context, id uuid.UUID) error {
	const op = "streamsessions.Delete"
	tag, err := r.pool.Exec(ctx, `DELETE FROM stream_sessions WHERE id = $1 AND status = 'ended'`, id)
	if err != nil {
		return database.Classify(op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err = r.pool.QueryRow(ctx, `SELECT status FROM stream_sessions WHERE id = $1`, id).Scan(&status)
	if err == pgx.ErrNoRows {
		return memerr.NotFound(op, "stream session "+id.String())
	}
	if err != nil {
		return database.Classify(op, err)
	}
	return memerr.InvalidState(op, "stream session is "+status)
}

// StreamSessionStats derives viewer and highlight figures for one session. Averages
// ignore missing scores and stay nil when none were recorded.
func (r *Repository) StreamSessionStats(ctx context.Context, id uuid.UUID) (*models.SessionStats, error) {
	const op = "streamsessions.Stats"
	st := &models.SessionStats{SessionID: id, ByType: map[string]int{}}
	const q = `SELECT
		(SELECT COUNT(DISTINCT viewer_id) FROM viewer_interactions WHERE session_id = $1),
		(SELECT AVG(sentiment_score) FROM viewer_interactions WHERE session_id = $1),
		(SELECT COUNT(*) FROM stream_highlights WHERE session_id = $1),
		(SELECT AVG(significance_score) FROM stream_highlights WHERE session_id = $1)`
	if err := r.pool.QueryRow(ctx, q, id).Scan(&st.UniqueViewers, &st.AvgSentiment, &st.HighlightCount, &st.AvgSignificance); err != nil {
		return nil, database.Classify(op, err)
	}
	rows, err := r.pool.Query(ctx, `SELECT interaction_type, COUNT(*) FROM viewer_interactions WHERE session_id = $1 GROUP BY interaction_type`, id)
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
		st.ByType[t] = n
		st.TotalInteractions += n
	}
	return st, database.Classify(op, rows.Err())
}

// TopHighlights returns the most significant highlights of a session.
func (r *Repository) TopHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	const q = `SELECT id, session_id, timestamp, highlight_type, description, viewer_impact, significance_score
		FROM stream_highlights WHERE session_id = $1 ORDER BY significance_score DESC, timestamp ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, database.Classify("streamsessions.TopHighlights", err)
	}
	defer rows.Close()
	var list []models.StreamHighlight
	for rows.Next() {
		var h models.StreamHighlight
		if err := rows.Scan(&h.ID, &h.SessionID, &h.Timestamp, &h.HighlightType, &h.Description, &h.ViewerImpact, &h.SignificanceScore); err != nil {
			return nil, database.Classify("streamsessions.TopHighlights", err)
		}
		list = append(list, h)
	}
	return list, database.Classify("streamsessions.TopHighlights", rows.Err())
}
