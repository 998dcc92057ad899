package interactions

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/database"
)

const profileColumns = `id, username, first_seen, last_seen, interaction_summary, preferences, engagement_metrics, relationship_level`

// Repository handles viewer_interactions and viewer_profiles persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an interactions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ScanProfile scans a row selected with the viewer profile columns.
func ScanProfile(row pgx.Row) (*models.ViewerProfile, error) {
	var p models.ViewerProfile
	err := row.Scan(&p.ID, &p.Username, &p.FirstSeen, &p.LastSeen, &p.InteractionSummary, &p.Preferences, &p.EngagementMetrics, &p.RelationshipLevel)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordInteraction inserts in and folds it into the viewer's profile in one transaction.
// Concurrent interactions of the same viewer serialize on the profile row lock.
func (r *Repository) RecordInteraction(ctx context.Context, in *models.ViewerInteraction, username string, fold func(p *models.ViewerProfile)) (*models.ViewerProfile, error) {
	const op = "interactions.Record"
	var profile *models.ViewerProfile
	err := database.WithTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM stream_sessions WHERE id = $1 FOR SHARE`, in.SessionID).Scan(&status)
		if err == pgx.ErrNoRows {
			return memerr.NoActiveSession(op, "stream session "+in.SessionID.String()+" no longer exists")
		}
		if err != nil {
			return err
		}
		if status != string(models.StreamSessionActive) {
			return memerr.NoActiveSession(op, "stream session is "+status)
		}

		const upsert = `INSERT INTO viewer_profiles (id, username, first_seen, last_seen, interaction_summary, preferences, engagement_metrics)
			VALUES ($1, $2, $3, $3, '{}', '{}', '{}') ON CONFLICT (username) DO NOTHING`
		if _, err := tx.Exec(ctx, upsert, uuid.New(), username, in.Timestamp); err != nil {
			return err
		}
		profile, err = ScanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM viewer_profiles WHERE username = $1 FOR UPDATE`, username))
		if err != nil {
			return err
		}
		fold(profile)

		const update = `UPDATE viewer_profiles SET first_seen = $2, last_seen = $3, interaction_summary = $4, preferences = $5,
			engagement_metrics = $6, relationship_level = $7 WHERE id = $1`
		if _, err := tx.Exec(ctx, update, profile.ID, profile.FirstSeen, profile.LastSeen, profile.InteractionSummary,
			profile.Preferences, profile.EngagementMetrics, profile.RelationshipLevel); err != nil {
			return err
		}

		vid := profile.ID
		in.ViewerID = &vid
		tags := in.ContextTags
		if tags == nil {
			tags = []string{}
		}
		const insert = `INSERT INTO viewer_interactions (id, session_id, viewer_id, timestamp, interaction_type, message, sentiment_score, impact_level, context_tags)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		_, err = tx.Exec(ctx, insert, in.ID, in.SessionID, in.ViewerID, in.Timestamp, in.InteractionType, in.Message, in.SentimentScore, in.ImpactLevel, tags)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// InteractionColumns lists viewer_interactions columns in ScanInteraction order.
const InteractionColumns = `id, session_id, viewer_id, timestamp, interaction_type, message, sentiment_score, impact_level, context_tags`

// ScanInteraction scans a row selected with InteractionColumns.
func ScanInteraction(row pgx.CollectableRow) (models.ViewerInteraction, error) {
	var in models.ViewerInteraction
	err := row.Scan(&in.ID, &in.SessionID, &in.ViewerID, &in.Timestamp, &in.InteractionType, &in.Message, &in.SentimentScore, &in.ImpactLevel, &in.ContextTags)
	return in, err
}

// ListInteractions returns a session's interactions newest first.
func (r *Repository) ListInteractions(ctx context.Context, sessionID uuid.UUID, interactionType string, limit int) ([]models.ViewerInteraction, error) {
	q := `SELECT ` + InteractionColumns + ` FROM viewer_interactions
		WHERE session_id = $1 AND ($2 = '' OR interaction_type = $2) ORDER BY timestamp DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, sessionID, interactionType, limit)
	if err != nil {
		return nil, database.Classify("interactions.List", err)
	}
	defer rows.Close()
	list, err := pgx.CollectRows(rows, ScanInteraction)
	return list, database.Classify("interactions.List", err)
}

// DeleteViewerProfile deletes a profile; the foreign key clears viewer_id on its interactions.
func (r *Repository) DeleteViewerProfile(ctx context.Context, username string) error {
	const op = "interactions.DeleteProfile"
	tag, err := r.pool.Exec(ctx, `DELETE FROM viewer_profiles WHERE username = $1`, username)
	if err != nil {
		return database.Classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return memerr.NotFound(op, "viewer "+username)
	}
	return nil
}
