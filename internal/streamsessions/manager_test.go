package streamsessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/store/memstore"
)

func strPtr(s string) *string { return &s }

func newManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return NewManager(st, nil), st
}

// openGame stores an active game session directly so these tests stay inside the package.
func openGame(t *testing.T, st *memstore.Store) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	gs := &models.GameSession{
		ID:            uuid.New(),
		GameName:      "Elden Ring",
		StartTime:     now,
		Status:        models.GameSessionActive,
		Summary:       models.EmptyMapping(),
		Achievements:  []models.Value{},
		NotableEvents: []models.NotableEvent{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.CreateGameSession(context.Background(), gs))
	return gs.ID
}

func TestSecondOpenConflicts(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	first, err := m.Open(ctx, OpenParams{Title: strPtr("  Late night souls  ")})
	require.NoError(t, err)
	assert.Equal(t, "Late night souls", *first.Title)

	_, err = m.Open(ctx, OpenParams{})
	assert.True(t, memerr.IsConflict(err))

	active, err := st.ListStreamSessions(ctx, models.StreamSessionActive, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)
}

func TestOpenWithUnknownGameSession(t *testing.T) {
	m, _ := newManager(t)
	missing := uuid.New()
	_, err := m.Open(context.Background(), OpenParams{GameSessionID: &missing})
	assert.True(t, memerr.IsNotFound(err))
	assert.Nil(t, m.Current())
}

func TestAttachAndDetach(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	gid := openGame(t, st)
	_, err := m.Attach(ctx, gid)
	assert.True(t, memerr.IsNoActiveSession(err))

	_, err = m.Open(ctx, OpenParams{})
	require.NoError(t, err)

	_, err = m.Attach(ctx, uuid.New())
	assert.True(t, memerr.IsNotFound(err))

	s, err := m.Attach(ctx, gid)
	require.NoError(t, err)
	assert.True(t, s.AttachedTo(gid))

	m.ClearGameSession(uuid.New())
	assert.True(t, m.Current().AttachedTo(gid), "other ids leave the link alone")

	s, err = m.Detach(ctx)
	require.NoError(t, err)
	assert.Nil(t, s.GameSessionID)
	stored, err := st.GetStreamSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.GameSessionID)
}

func TestCloseComputesStats(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return start })

	var hooked *models.StreamSession
	m.OnClose(func(_ context.Context, s *models.StreamSession) { hooked = s })

	s, err := m.Open(ctx, OpenParams{})
	require.NoError(t, err)
	sentiment := 0.5
	for _, user := range []string{"alice", "bob", "alice"} {
		in := &models.ViewerInteraction{
			ID:              uuid.New(),
			SessionID:       s.ID,
			Timestamp:       start.Add(time.Minute),
			InteractionType: "chat",
			SentimentScore:  &sentiment,
			ContextTags:     []string{},
		}
		_, err := st.RecordInteraction(ctx, in, user, func(*models.ViewerProfile) {})
		require.NoError(t, err)
	}

	m.SetClock(func() time.Time { return start.Add(time.Hour) })
	ended, err := m.Close(ctx, CloseParams{Metrics: models.Mapping(map[string]models.Value{"peak_viewers": models.Int(42)})})
	require.NoError(t, err)

	assert.Equal(t, models.StreamSessionEnded, ended.Status)
	uv, _ := ended.ViewerStats.Get("unique_viewers").AsNumber()
	assert.Equal(t, 2.0, uv)
	total, _ := ended.ViewerStats.Get("total_interactions").AsNumber()
	assert.Equal(t, 3.0, total)
	dur, _ := ended.SessionMetrics.Get("duration_seconds").AsNumber()
	assert.Equal(t, 3600.0, dur)
	peak, _ := ended.SessionMetrics.Get("peak_viewers").AsNumber()
	assert.Equal(t, 42.0, peak)
	require.NotNil(t, hooked)
	assert.Equal(t, ended.ID, hooked.ID)

	_, err = m.Close(ctx, CloseParams{})
	assert.True(t, memerr.IsNotFound(err))
}

func TestStoreFailureKeepsStateUnchanged(t *testing.T) {
	ctx := context.Background()
	m, st := newManager(t)

	st.FailNext(1)
	_, err := m.Open(ctx, OpenParams{})
	assert.True(t, memerr.IsStore(err))
	assert.Nil(t, m.Current())

	_, err = m.Open(ctx, OpenParams{})
	require.NoError(t, err)
}

func TestDeleteOnlyEndedSessions(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	var deleted []uuid.UUID
	m.OnDelete(func(_ context.Context, id uuid.UUID) { deleted = append(deleted, id) })
	s, err := m.Open(ctx, OpenParams{})
	require.NoError(t, err)

	assert.True(t, memerr.IsInvalidState(m.Delete(ctx, s.ID)))
	_, err = m.Close(ctx, CloseParams{})
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, s.ID))
	assert.True(t, memerr.IsNotFound(m.Delete(ctx, s.ID)))
	assert.Equal(t, []uuid.UUID{s.ID}, deleted, "hooks run once, only on success")
}
