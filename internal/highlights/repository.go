package highlights

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/database"
)

// Columns lists stream_highlights columns in ScanHighlight order.
const Columns = `id, session_id, timestamp, highlight_type, description, viewer_impact, significance_score`

// Repository handles stream_highlights persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a highlights repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ScanHighlight scans a row selected with Columns.
func ScanHighlight(row pgx.CollectableRow) (models.StreamHighlight, error) {
	var h models.StreamHighlight
	err := row.Scan(&h.ID, &h.SessionID, &h.Timestamp, &h.HighlightType, &h.Description, &h.ViewerImpact, &h.SignificanceScore)
	return h, err
}

// CreateStreamHighlight inserts h while its stream session is share-locked and active.
func (r *Repository) CreateStreamHighlight(ctx context.Context, h *models.StreamHighlight) error {
	const op = "highlights.Create"
	return database.WithTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM stream_sessions WHERE id = $1 FOR SHARE`, h.SessionID).Scan(&status)
		if err == pgx.ErrNoRows {
			return memerr.NoActiveSession(op, "stream session "+h.SessionID.String()+" no longer exists")
		}
		if err != nil {
			return err
		}
		if status != string(models.StreamSessionActive) {
			return memerr.NoActiveSession(op, "stream session is "+status)
		}
		const q = `INSERT INTO stream_highlights (` + Columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err = tx.Exec(ctx, q, h.ID, h.SessionID, h.Timestamp, h.HighlightType, h.Description, h.ViewerImpact, h.SignificanceScore)
		return err
	})
}

func (r *Repository) list(ctx context.Context, op, q string, args ...interface{}) ([]models.StreamHighlight, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, database.Classify(op, err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, ScanHighlight)
	return list, database.Classify(op, err)
}

// RecentHighlights returns a session's newest highlights.
func (r *Repository) RecentHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	return r.list(ctx, "highlights.Recent",
		`SELECT `+Columns+` FROM stream_highlights WHERE session_id = $1 ORDER BY timestamp DESC LIMIT $2`, sessionID, limit)
}

// TopHighlights returns a session's most significant highlights, earliest first on ties.
func (r *Repository) TopHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	return r.list(ctx, "highlights.Top",
		`SELECT `+Columns+` FROM stream_highlights WHERE session_id = $1 ORDER BY significance_score DESC, timestamp ASC LIMIT $2`, sessionID, limit)
}

// SessionHighlights returns every highlight of a session in timestamp order.
func (r *Repository) SessionHighlights(ctx context.Context, sessionID uuid.UUID) ([]models.StreamHighlight, error) {
	return r.list(ctx, "highlights.Session",
		`SELECT `+Columns+` FROM stream_highlights WHERE session_id = $1 ORDER BY timestamp ASC`, sessionID)
}
