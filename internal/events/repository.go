package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/database"
)

// Repository handles game_events persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a game events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendGameEvent inserts ev if its session is still active. Plain appends share-lock the
// session row so they run concurrently but wait out a close; notable appends take the
// stronger no-key-update lock because they rewrite notable_events.
func (r *Repository) AppendGameEvent(ctx context.Context, ev *models.GameEvent, fold func([]models.NotableEvent) []models.NotableEvent) error {
	const op = "events.Append"
	lock := "FOR SHARE"
	if fold != nil {
		lock = "FOR NO KEY UPDATE"
	}
	return database.WithTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		var status string
		var notable []models.NotableEvent
		err := tx.QueryRow(ctx, `SELECT status, notable_events FROM game_sessions WHERE id = $1 `+lock, ev.SessionID).Scan(&status, &notable)
		if err == pgx.ErrNoRows {
			return memerr.NoActiveSession(op, "game session "+ev.SessionID.String()+" no longer exists")
		}
		if err != nil {
			return err
		}
		if status != string(models.GameSessionActive) {
			return memerr.NoActiveSession(op, "game session is "+status)
		}

		const q = `INSERT INTO game_events (id, session_id, timestamp, event_type, event_category, event_data, impact_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.Exec(ctx, q, ev.ID, ev.SessionID, ev.Timestamp, ev.EventType, ev.EventCategory, ev.EventData, ev.ImpactScore); err != nil {
			return err
		}
		if fold == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE game_sessions SET notable_events = $2, updated_at = NOW() WHERE id = $1`, ev.SessionID, fold(notable))
		return err
	})
}

// ListGameEvents returns a session's events newest first, optionally by category.
func (r *Repository) ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error) {
	const q = `SELECT id, session_id, timestamp, event_type, event_category, event_data, impact_score
		FROM game_events WHERE session_id = $1 AND ($2 = '' OR event_category = $2)
		ORDER BY timestamp DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, sessionID, category, limit)
	if err != nil {
		return nil, database.Classify("events.List", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, scanEvent)
	return list, database.Classify("events.List", err)
}

func scanEvent(row pgx.CollectableRow) (models.GameEvent, error) {
	var e models.GameEvent
	err := row.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.EventType, &e.EventCategory, &e.EventData, &e.ImpactScore)
	return e, err
}
