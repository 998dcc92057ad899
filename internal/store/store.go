// Package store selects the persistence backend and hands each feature package the
// store it expects.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/config"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/analytics"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/archive"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/events"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/gamesessions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/highlights"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/interactions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/recall"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/store/memstore"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/streamsessions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/database"
)

// Set is one backend seen through every feature's store interface.
type Set struct {
	Games          gamesessions.Store
	Streams        streamsessions.Store
	Events         events.Store
	Interactions   interactions.Store
	Highlights     highlights.Store
	Analytics      analytics.Store
	Sessions       analytics.SessionReader
	Recall         recall.Store
	ArchiveGames   archive.GameReader
	ArchiveStreams archive.StreamReader

	// Pool is nil for the in-memory backend.
	Pool *pgxpool.Pool
}

// Close releases the backend's connections.
func (s *Set) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Open connects the backend named by cfg.Server.StoreBackend. The postgres backend is
// migrated before it is returned.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Set, error) {
	switch cfg.Server.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; nothing survives a restart")
		return Memory(memstore.New()), nil
	case "postgres", "":
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return Postgres(pool), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Server.StoreBackend)
	}
}

// Memory wraps an in-memory store.
func Memory(m *memstore.Store) *Set {
	return &Set{
		Games:          m,
		Streams:        m,
		Events:         m,
		Interactions:   m,
		Highlights:     m,
		Analytics:      m,
		Sessions:       m,
		Recall:         m,
		ArchiveGames:   m,
		ArchiveStreams: m,
	}
}

// Postgres builds the per-feature repositories over pool.
func Postgres(pool *pgxpool.Pool) *Set {
	games := gamesessions.NewRepository(pool)
	streams := streamsessions.NewRepository(pool)
	inter := interactions.NewRepository(pool)
	hl := highlights.NewRepository(pool)
	return &Set{
		Games:          games,
		Streams:        streams,
		Events:         events.NewRepository(pool),
		Interactions:   inter,
		Highlights:     hl,
		Analytics:      analytics.NewRepository(pool),
		Sessions:       streams,
		Recall:         recall.NewRepository(pool),
		ArchiveGames:   games,
		ArchiveStreams: streamReader{streams: streams, interactions: inter, highlights: hl},
		Pool:           pool,
	}
}

// streamReader joins the three repositories a stream archive reads from.
type streamReader struct {
	streams      *streamsessions.Repository
	interactions *interactions.Repository
	highlights   *highlights.Repository
}

func (r streamReader) GetStreamSession(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	return r.streams.GetStreamSession(ctx, id)
}

func (r streamReader) ListInteractions(ctx context.Context, sessionID uuid.UUID, interactionType string, limit int) ([]models.ViewerInteraction, error) {
	return r.interactions.ListInteractions(ctx, sessionID, interactionType, limit)
}

func (r streamReader) SessionHighlights(ctx context.Context, sessionID uuid.UUID) ([]models.StreamHighlight, error) {
	return r.highlights.SessionHighlights(ctx, sessionID)
}
