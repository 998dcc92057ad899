// Package archive snapshots ended sessions to object storage and hands out download links.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/queue"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/storage"
)

// snapshotLimit caps the rows copied per child relation.
const snapshotLimit = 100000

// GameReader reads a game session and its events.
type GameReader interface {
	GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error)
}

// StreamReader reads a stream session with its interactions and highlights.
type StreamReader interface {
	GetStreamSession(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
	ListInteractions(ctx context.Context, sessionID uuid.UUID, interactionType string, limit int) ([]models.ViewerInteraction, error)
	SessionHighlights(ctx context.Context, sessionID uuid.UUID) ([]models.StreamHighlight, error)
}

// ObjectStore is the blob storage archives are written to.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, body []byte) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// GameSnapshot is the archived form of a game session.
type GameSnapshot struct {
	ArchivedAt time.Time           `json:"archived_at"`
	Session    *models.GameSession `json:"session"`
	Events     []models.GameEvent  `json:"events"`
}

// StreamSnapshot is the archived form of a stream session.
type StreamSnapshot struct {
	ArchivedAt   time.Time                  `json:"archived_at"`
	Session      *models.StreamSession      `json:"session"`
	Interactions []models.ViewerInteraction `json:"interactions"`
	Highlights   []models.StreamHighlight   `json:"highlights"`
}

// Result describes a stored archive.
type Result struct {
	Kind      queue.SessionKind `json:"kind"`
	SessionID uuid.UUID         `json:"session_id"`
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Bytes     int               `json:"bytes"`
}

// Service writes and locates session archives.
type Service struct {
	games   GameReader
	streams StreamReader
	objects ObjectStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates an archive service.
func NewService(games GameReader, streams StreamReader, objects ObjectStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{games: games, streams: streams, objects: objects, logger: logger,
		now: func() time.Time { return time.Now().UTC() }}
}

// Key returns the object key of a session's archive.
func Key(kind queue.SessionKind, id uuid.UUID) string {
	return storage.ArchiveKey(string(kind), id.String())
}

func validKind(op string, kind queue.SessionKind) error {
	if kind != queue.KindGameSession && kind != queue.KindStreamSession {
		return memerr.Validation(op, fmt.Sprintf("unknown session kind %q", kind))
	}
	return nil
}

// Archive snapshots an ended session. Open sessions are rejected since their history is
// still growing. Archiving twice overwrites the object.
func (s *Service) Archive(ctx context.Context, kind queue.SessionKind, id uuid.UUID) (*Result, error) {
	const op = "archive.Archive"
	if err := validKind(op, kind); err != nil {
		return nil, err
	}
	var snapshot interface{}
	switch kind {
	case queue.KindGameSession:
		gs, err := s.games.GetGameSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if gs == nil {
			return nil, memerr.NotFound(op, "game session "+id.String())
		}
		if gs.Status != models.GameSessionEnded {
			return nil, memerr.InvalidState(op, "game session is "+string(gs.Status))
		}
		events, err := s.games.ListGameEvents(ctx, id, "", snapshotLimit)
		if err != nil {
			return nil, err
		}
		snapshot = GameSnapshot{ArchivedAt: s.now(), Session: gs, Events: events}
	case queue.KindStreamSession:
		st, err := s.streams.GetStreamSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, memerr.NotFound(op, "stream session "+id.String())
		}
		if st.Status != models.StreamSessionEnded {
			return nil, memerr.InvalidState(op, "stream session is "+string(st.Status))
		}
		ins, err := s.streams.ListInteractions(ctx, id, "", snapshotLimit)
		if err != nil {
			return nil, err
		}
		hs, err := s.streams.SessionHighlights(ctx, id)
		if err != nil {
			return nil, err
		}
		snapshot = StreamSnapshot{ArchivedAt: s.now(), Session: st, Interactions: ins, Highlights: hs}
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal %s archive: %w", kind, err)
	}
	key := Key(kind, id)
	url, err := s.objects.PutJSON(ctx, key, body)
	if err != nil {
		return nil, memerr.Store(op, err)
	}
	s.logger.Info("session archived", zap.String("kind", string(kind)), zap.String("session_id", id.String()),
		zap.String("key", key), zap.Int("bytes", len(body)))
	return &Result{Kind: kind, SessionID: id, Key: key, URL: url, Bytes: len(body)}, nil
}

// Link returns a pre-signed download URL of an existing archive.
func (s *Service) Link(ctx context.Context, kind queue.SessionKind, id uuid.UUID) (string, error) {
	const op = "archive.Link"
	if err := validKind(op, kind); err != nil {
		return "", err
	}
	key := Key(kind, id)
	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return "", memerr.Store(op, err)
	}
	if !ok {
		return "", memerr.NotFound(op, "archive "+key)
	}
	url, err := s.objects.PresignGet(ctx, key)
	if err != nil {
		return "", memerr.Store(op, err)
	}
	return url, nil
}

// Remove deletes a session's archive, if any.
func (s *Service) Remove(ctx context.Context, kind queue.SessionKind, id uuid.UUID) error {
	const op = "archive.Remove"
	if err := validKind(op, kind); err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, Key(kind, id)); err != nil {
		return memerr.Store(op, err)
	}
	return nil
}
