package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func game(status models.GameSessionStatus) *models.GameSession {
	return &models.GameSession{ID: uuid.New(), GameName: "Hades", StartTime: t0, Status: status,
		Summary: models.EmptyMapping(), CreatedAt: t0, UpdatedAt: t0}
}

func TestSecondActiveGameSessionConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateGameSession(ctx, game(models.GameSessionActive)))
	assert.True(t, memerr.IsConflict(s.CreateGameSession(ctx, game(models.GameSessionActive))))
}

func TestFailNextLeavesDataUntouched(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailNext(1)
	err := s.CreateGameSession(ctx, game(models.GameSessionActive))
	assert.True(t, memerr.IsStore(err))
	assert.True(t, memerr.Retryable(err))

	list, err := s.ListGameSessions(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAppendRequiresActiveGameSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	g := game(models.GameSessionPaused)
	require.NoError(t, s.CreateGameSession(ctx, g))

	err := s.AppendGameEvent(ctx, &models.GameEvent{ID: uuid.New(), SessionID: g.ID, Timestamp: t0, EventType: "death"}, nil)
	assert.True(t, memerr.IsNoActiveSession(err))
}

func TestUpsertKeepsOneRowPerWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	row := func(total int) *models.PerformanceAnalytic {
		return &models.PerformanceAnalytic{ID: uuid.New(), Timestamp: t0, MetricType: models.MetricGameEvents,
			PeriodStart: t0, PeriodEnd: t0.Add(time.Hour),
			MetricData: models.Mapping(map[string]models.Value{"total_events": models.Int(total)})}
	}
	first, err := s.UpsertPerformanceAnalytic(ctx, row(1))
	require.NoError(t, err)
	second, err := s.UpsertPerformanceAnalytic(ctx, row(2))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := s.ListPerformanceAnalytics(ctx, models.AnalyticsFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	total, _ := list[0].MetricData.Get("total_events").AsNumber()
	assert.Equal(t, 2.0, total)
}

func TestWindowBoundsAreHalfOpen(t *testing.T) {
	ctx := context.Background()
	s := New()
	g := game(models.GameSessionActive)
	require.NoError(t, s.CreateGameSession(ctx, g))
	for _, at := range []time.Time{t0, t0.Add(30 * time.Minute), t0.Add(time.Hour)} {
		require.NoError(t, s.AppendGameEvent(ctx, &models.GameEvent{ID: uuid.New(), SessionID: g.ID, Timestamp: at, EventType: "death"}, nil))
	}
	list, err := s.WindowGameEvents(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSearchMessagesMatchesWords(t *testing.T) {
	assert.True(t, matchesWords("That BOSS was brutal!", words("boss brutal")))
	assert.False(t, matchesWords("bossfight", words("boss")))
	assert.False(t, matchesWords("anything", nil))
}
