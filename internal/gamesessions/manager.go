// Package gamesessions owns the lifecycle of game sessions: at most one is active, and
// every event append is gated on it.
package gamesessions

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

// Store is the persistence the manager needs. Get-style methods return nil, nil when
// the row does not exist.
type Store interface {
	CreateGameSession(ctx context.Context, s *models.GameSession) error
	GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	OpenGameSession(ctx context.Context) (*models.GameSession, error)
	ListGameSessions(ctx context.Context, status models.GameSessionStatus, limit int) ([]models.GameSession, error)
	TransitionGameSession(ctx context.Context, id uuid.UUID, from, to models.GameSessionStatus) error
	EndGameSession(ctx context.Context, id uuid.UUID, endTime time.Time, summary models.Value, achievements []models.Value) (*models.GameSession, error)
	CorrectGameSession(ctx context.Context, id uuid.UUID, summary models.Value, achievements []models.Value) (*models.GameSession, error)
	DeleteGameSession(ctx context.Context, id uuid.UUID) error
	GameEventStats(ctx context.Context, sessionID uuid.UUID) (*models.GameEventStats, error)
	ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error)
	GameStatistics(ctx context.Context, gameName string) (*models.GameStatistics, error)
}

// OpenParams are the inputs of Open.
type OpenParams struct {
	GameName   string  `json:"game_name"`
	Mode       *string `json:"mode,omitempty"`
	Difficulty *string `json:"difficulty,omitempty"`
}

// CloseParams are merged into the session when it ends.
type CloseParams struct {
	Summary      models.Value   `json:"summary"`
	Achievements []models.Value `json:"achievements"`
}

// CloseHook runs after a session has ended, outside the manager lock.
type CloseHook func(ctx context.Context, s *models.GameSession)

// DeleteHook runs after a session was deleted.
type DeleteHook func(ctx context.Context, id uuid.UUID)

// Manager serializes game session transitions. Transitions take the write lock; event
// appends run under the read lock through WithActive, so an append either lands before
// a close or sees the session gone.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	current *models.GameSession // open (active or paused) session owned by this manager
	hooks   []CloseHook
	deletes []DeleteHook
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates a game session manager. Call Restore before serving traffic.
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

// Restore adopts a session left open in the store, e.g. after a restart.
func (m *Manager) Restore(ctx context.Context) error {
	s, err := m.store.OpenGameSession(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	if s != nil {
		m.logger.Info("restored game session", zap.String("session_id", s.ID.String()), zap.String("status", string(s.Status)))
	}
	return nil
}

// Current returns a snapshot of the open session, or nil.
func (m *Manager) Current() *models.GameSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Open starts a new game session. It fails with a conflict while another one is open.
func (m *Manager) Open(ctx context.Context, p OpenParams) (*models.GameSession, error) {
	const op = "gamesessions.Open"
	name := strings.TrimSpace(p.GameName)
	if name == "" {
		return nil, memerr.Validation(op, "game_name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return nil, memerr.Conflict(op, "game session "+m.current.ID.String()+" is "+string(m.current.Status))
	}
	now := m.now()
	s := &models.GameSession{
		ID:            uuid.New(),
		GameName:      name,
		StartTime:     now,
		Mode:          p.Mode,
		Difficulty:    p.Difficulty,
		Status:        models.GameSessionActive,
		Summary:       models.EmptyMapping(),
		Achievements:  []models.Value{},
		NotableEvents: []models.NotableEvent{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.CreateGameSession(ctx, s); err != nil {
		return nil, err
	}
	m.current = s
	m.logger.Info("game session opened", zap.String("session_id", s.ID.String()), zap.String("game", name))
	return s.Clone(), nil
}

// Pause suspends the active session. Events are rejected until Resume.
func (m *Manager) Pause(ctx context.Context) (*models.GameSession, error) {
	return m.transition(ctx, "gamesessions.Pause", models.GameSessionActive, models.GameSessionPaused)
}

// Resume reactivates a paused session.
func (m *Manager) Resume(ctx context.Context) (*models.GameSession, error) {
	return m.transition(ctx, "gamesessions.Resume", models.GameSessionPaused, models.GameSessionActive)
}

func (m *Manager) transition(ctx context.Context, op string, from, to models.GameSessionStatus) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, memerr.InvalidState(op, "no game session is open")
	}
	if m.current.Status != from {
		return nil, memerr.InvalidState(op, "game session is "+string(m.current.Status))
	}
	if err := m.store.TransitionGameSession(ctx, m.current.ID, from, to); err != nil {
		return nil, err
	}
	m.current.Status = to
	m.current.UpdatedAt = m.now()
	m.logger.Info("game session "+string(to), zap.String("session_id", m.current.ID.String()))
	return m.current.Clone(), nil
}

// Close ends the open session. The computed summary (duration, event counts) is merged
// under the caller's summary, and achievements are appended.
func (m *Manager) Close(ctx context.Context, p CloseParams) (*models.GameSession, error) {
	const op = "gamesessions.Close"
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, memerr.NotFound(op, "no game session is open")
	}
	cur := m.current
	end := m.now()

	stats, err := m.store.GameEventStats(ctx, cur.ID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	summary := cur.Summary.Merge(autoSummary(cur, end, stats)).Merge(p.Summary)
	achievements := make([]models.Value, 0, len(cur.Achievements)+len(p.Achievements))
	achievements = append(append(achievements, cur.Achievements...), p.Achievements...)

	ended, err := m.store.EndGameSession(ctx, cur.ID, end, summary, achievements)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.current = nil
	hooks := append([]CloseHook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Info("game session closed", zap.String("session_id", ended.ID.String()), zap.Int("events", stats.Total))
	for _, h := range hooks {
		h(ctx, ended.Clone())
	}
	return ended, nil
}

func autoSummary(s *models.GameSession, end time.Time, stats *models.GameEventStats) models.Value {
	byType := make(map[string]models.Value, len(stats.ByType))
	for k, n := range stats.ByType {
		byType[k] = models.Int(n)
	}
	return models.Mapping(map[string]models.Value{
		"duration_seconds": models.Number(end.Sub(s.StartTime).Seconds()),
		"total_events":     models.Int(stats.Total),
		"notable_events":   models.Int(stats.Notable),
		"events_by_type":   models.Mapping(byType),
	})
}

// WithActive runs fn while holding the shared lock, provided a session is active.
// Paused sessions are rejected like closed ones.
func (m *Manager) WithActive(ctx context.Context, fn func(s *models.GameSession) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.Status != models.GameSessionActive {
		return memerr.NoActiveSession("gamesessions.WithActive", "no active game session")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(m.current.Clone())
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	s, err := m.store.GetGameSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, memerr.NotFound("gamesessions.Get", "game session "+id.String())
	}
	return s, nil
}

// List returns sessions, newest first. An empty status lists all of them.
func (m *Manager) List(ctx context.Context, status models.GameSessionStatus, limit int) ([]models.GameSession, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.ListGameSessions(ctx, status, limit)
}

// SessionSummary is a session together with its events.
type SessionSummary struct {
	Session *models.GameSession `json:"session"`
	Events  []models.GameEvent  `json:"events"`
}

// Summary returns a session with its events, optionally filtered by category.
func (m *Manager) Summary(ctx context.Context, id uuid.UUID, category string, limit int) (*SessionSummary, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	events, err := m.store.ListGameEvents(ctx, id, category, limit)
	if err != nil {
		return nil, err
	}
	return &SessionSummary{Session: s, Events: events}, nil
}

// Statistics aggregates every session of a game.
func (m *Manager) Statistics(ctx context.Context, gameName string) (*models.GameStatistics, error) {
	if strings.TrimSpace(gameName) == "" {
		return nil, memerr.Validation("gamesessions.Statistics", "game_name is required")
	}
	return m.store.GameStatistics(ctx, gameName)
}

// Correct rewrites the summary and achievements of an ended session. It is the only
// mutation allowed after a session ends.
func (m *Manager) Correct(ctx context.Context, id uuid.UUID, p CloseParams) (*models.GameSession, error) {
	if p.Summary.IsNull() && p.Achievements == nil {
		return nil, memerr.Validation("gamesessions.Correct", "summary or achievements required")
	}
	s, err := m.store.CorrectGameSession(ctx, id, p.Summary, p.Achievements)
	if err != nil {
		return nil, err
	}
	m.logger.Info("game session corrected", zap.String("session_id", id.String()))
	return s, nil
}

// Delete removes an ended session with its events; streams referencing it are detached.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.mu.Unlock()
		return memerr.InvalidState("gamesessions.Delete", "game session is still open")
	}
	if err := m.store.DeleteGameSession(ctx, id); err != nil {
		m.mu.Unlock()
		return err
	}
	hooks := append([]DeleteHook(nil), m.deletes...)
	m.mu.Unlock()

	m.logger.Info("game session deleted", zap.String("session_id", id.String()))
	for _, h := range hooks {
		h(ctx, id)
	}
	return nil
}
