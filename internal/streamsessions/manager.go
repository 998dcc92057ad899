// Package streamsessions owns the lifecycle of stream sessions and their weak link to a
// game session.
package streamsessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// topMoments is how many highlights are copied onto a session when it closes.
const topMoments = 5

// Store is the persistence the manager needs. Get-style methods return nil, nil when the
// row does not exist. Creating or attaching with a game session id must fail with
// memerr.ErrNotFound unless that game session exists and has not ended.
type Store interface {
	CreateStreamSession(ctx context.Context, s *models.StreamSession) error
	GetStreamSession(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
	ActiveStreamSession(ctx context.Context) (*models.StreamSession, error)
	ListStreamSessions(ctx context.Context, status models.StreamSessionStatus, limit int) ([]models.StreamSession, error)
	SetStreamGameSession(ctx context.Context, id uuid.UUID, gameSessionID *uuid.UUID) error
	EndStreamSession(ctx context.Context, id uuid.UUID, endTime time.Time, viewerStats, moments, metrics models.Value) (*models.StreamSession, error)
	DeleteStreamSession(ctx context.Context, id uuid.UUID) error
	StreamSessionStats(ctx context.Context, id uuid.UUID) (*models.SessionStats, error)
	TopHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error)
}

// OpenParams are the inputs of Open.
type OpenParams struct {
	Title         *string    `json:"title,omitempty"`
	Category      *string    `json:"category,omitempty"`
	GameSessionID *uuid.UUID `json:"game_session_id,omitempty"`
}

// CloseParams carries caller metrics merged over the computed ones.
type CloseParams struct {
	Metrics models.Value `json:"metrics"`
}

// CloseHook runs after a stream session ended, outside the manager lock.
type CloseHook func(ctx context.Context, s *models.StreamSession)

// DeleteHook runs after a stream session was deleted.
type DeleteHook func(ctx context.Context, id uuid.UUID)

// Manager serializes stream session transitions; interaction and highlight appends run
// under the read lock through WithActive.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	current *models.StreamSession
	hooks   []CloseHook
	deletes []DeleteHook
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates a stream session manager. Call Restore before serving traffic.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// OnClose registers a hook that runs after every successful Close.
func (m *Manager) OnClose(h CloseHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// OnDelete registers a hook that runs after every successful Delete.
func (m *Manager) OnDelete(h DeleteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, h)
}

// Restore adopts the active session left in the store.
func (m *Manager) Restore(ctx context.Context) error {
	s, err := m.store.ActiveStreamSession(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	if s != nil {
		m.logger.Info("restored stream session", zap.String("session_id", s.ID.String()))
	}
	return nil
}

// Current returns a snapshot of the active session, or nil.
func (m *Manager) Current() *models.StreamSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Open starts a stream session, optionally attached to a game session.
func (m *Manager) Open(ctx context.Context, p OpenParams) (*models.StreamSession, error) {
	const op = "streamsessions.Open"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return nil, memerr.Conflict(op, "stream session "+m.current.ID.String()+" is active")
	}
	now := m.now()
	s := &models.StreamSession{
		ID:               uuid.New(),
		StartTime:        now,
		Title:            trimmed(p.Title),
		Category:         trimmed(p.Category),
		Status:           models.StreamSessionActive,
		GameSessionID:    p.GameSessionID,
		ViewerStats:      models.EmptyMapping(),
		HighlightMoments: models.List(),
		SessionMetrics:   models.EmptyMapping(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateStreamSession(ctx, s); err != nil {
		return nil, err
	}
	m.current = s
	m.logger.Info("stream session opened", zap.String("session_id", s.ID.String()))
	return s.Clone(), nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// Attach links the active stream to a game session that exists and has not ended.
func (m *Manager) Attach(ctx context.Context, gameSessionID uuid.UUID) (*models.StreamSession, error) {
	const op = "streamsessions.Attach"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, memerr.NoActiveSession(op, "no active stream session")
	}
	if err := m.store.SetStreamGameSession(ctx, m.current.ID, &gameSessionID); err != nil {
		return nil, err
	}
	m.current.GameSessionID = &gameSessionID
	m.current.UpdatedAt = m.now()
	m.logger.Info("game session attached", zap.String("session_id", m.current.ID.String()), zap.String("game_session_id", gameSessionID.String()))
	return m.current.Clone(), nil
}

// Detach clears the game session link of the active stream.
func (m *Manager) Detach(ctx context.Context) (*models.StreamSession, error) {
	const op = "streamsessions.Detach"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, memerr.NoActiveSession(op, "no active stream session")
	}
	if m.current.GameSessionID == nil {
		return m.current.Clone(), nil
	}
	if err := m.store.SetStreamGameSession(ctx, m.current.ID, nil); err != nil {
		return nil, err
	}
	m.current.GameSessionID = nil
	m.current.UpdatedAt = m.now()
	return m.current.Clone(), nil
}

// ClearGameSession drops the cached link when the referenced game session is deleted.
func (m *Manager) ClearGameSession(gameSessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.AttachedTo(gameSessionID) {
		m.current.GameSessionID = nil
	}
}

// Close ends the active session and stores its viewer stats, metrics and top highlights.
func (m *Manager) Close(ctx context.Context, p CloseParams) (*models.StreamSession, error) {
	const op = "streamsessions.Close"
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, memerr.NotFound(op, "no active stream session")
	}
	cur := m.current
	end := m.now()

	stats, err := m.store.StreamSessionStats(ctx, cur.ID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	top, err := m.store.TopHighlights(ctx, cur.ID, topMoments)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	viewerStats, metrics := closingStats(cur, end, stats)
	ended, err := m.store.EndStreamSession(ctx, cur.ID, end, viewerStats, moments(top), metrics.Merge(p.Metrics))
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.current = nil
	hooks := append([]CloseHook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Info("stream session closed", zap.String("session_id", ended.ID.String()),
		zap.Int("interactions", stats.TotalInteractions), zap.Int("highlights", stats.HighlightCount))
	for _, h := range hooks {
		h(ctx, ended.Clone())
	}
	return ended, nil
}

func closingStats(s *models.StreamSession, end time.Time, st *models.SessionStats) (viewerStats, metrics models.Value) {
	byType := make(map[string]models.Value, len(st.ByType))
	for k, n := range st.ByType {
		byType[k] = models.Int(n)
	}
	viewerStats = models.Mapping(map[string]models.Value{
		"unique_viewers":       models.Int(st.UniqueViewers),
		"total_interactions":   models.Int(st.TotalInteractions),
		"interactions_by_type": models.Mapping(byType),
	})
	metrics = models.Mapping(map[string]models.Value{
		"duration_seconds": models.Number(end.Sub(s.StartTime).Seconds()),
		"highlight_count":  models.Int(st.HighlightCount),
	})
	if st.AvgSentiment != nil {
		metrics = metrics.With("avg_sentiment", models.Number(*st.AvgSentiment))
	}
	if st.AvgSignificance != nil {
		metrics = metrics.With("avg_significance", models.Number(*st.AvgSignificance))
	}
	return viewerStats, metrics
}

func moments(top []models.StreamHighlight) models.Value {
	items := make([]models.Value, 0, len(top))
	for _, h := range top {
		items = append(items, models.Mapping(map[string]models.Value{
			"highlight_id":       models.String(h.ID.String()),
			"highlight_type":     models.String(h.HighlightType),
			"description":        models.String(h.Description),
			"significance_score": models.Number(h.SignificanceScore),
			"timestamp":          models.String(h.Timestamp.Format(time.RFC3339Nano)),
		}))
	}
	return models.List(items...)
}

// WithActive runs fn under the shared lock while a stream session is active.
func (m *Manager) WithActive(ctx context.Context, fn func(s *models.StreamSession) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return memerr.NoActiveSession("streamsessions.WithActive", "no active stream session")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(m.current.Clone())
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	s, err := m.store.GetStreamSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, memerr.NotFound("streamsessions.Get", "stream session "+id.String())
	}
	return s, nil
}

// List returns sessions newest first; an empty status lists all.
func (m *Manager) List(ctx context.Context, status models.StreamSessionStatus, limit int) ([]models.StreamSession, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.ListStreamSessions(ctx, status, limit)
}

// Delete removes an ended session together with its interactions and highlights.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.mu.Unlock()
		return memerr.InvalidState("streamsessions.Delete", "stream session is still active")
	}
	if err := m.store.DeleteStreamSession(ctx, id); err != nil {
		m.mu.Unlock()
		return err
	}
	hooks := append([]DeleteHook(nil), m.deletes...)
	m.mu.Unlock()

	m.logger.Info("stream session deleted", zap.String("session_id", id.String()))
	for _, h := range hooks {
		h(ctx, id)
	}
	return nil
}
