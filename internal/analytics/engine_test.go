package analytics

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

var windowStart = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func newEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return NewEngine(st, st, Config{TopK: 3, NotableThreshold: 0.7}, nil), st
}

func seedEvents(t *testing.T, st *memstore.Store, impacts map[time.Duration]float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	gs := &models.GameSession{ID: uuid.New(), GameName: "Hades", StartTime: windowStart.Add(-time.Hour),
		Status: models.GameSessionActive, Summary: models.EmptyMapping(), CreatedAt: windowStart, UpdatedAt: windowStart}
	require.NoError(t, st.CreateGameSession(ctx, gs))
	for offset, impact := range impacts {
		ev := &models.GameEvent{ID: uuid.New(), SessionID: gs.ID, Timestamp: windowStart.Add(offset),
			EventType: "boss_death", EventCategory: "combat", EventData: models.EmptyMapping(), ImpactScore: f(impact)}
		require.NoError(t, st.AppendGameEvent(ctx, ev, nil))
	}
	return gs.ID
}

func TestAggregateGameEvents(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	seedEvents(t, st, map[time.Duration]float64{
		5 * time.Minute:  0.2,
		20 * time.Minute: 0.9,
		40 * time.Minute: 0.8,
		time.Hour:        1.0, // first instant of the next window
	})

	a, err := e.Aggregate(ctx, models.MetricGameEvents, windowStart, windowStart.Add(time.Hour))
	require.NoError(t, err)
	total, _ := a.MetricData.Get("total_events").AsNumber()
	assert.Equal(t, 3.0, total)
	notable, _ := a.MetricData.Get("notable_events").AsNumber()
	assert.Equal(t, 2.0, notable)
	dir, _ := a.Insights.Get("impact_direction").AsString()
	assert.Equal(t, "rising", dir)
	dominant, _ := a.Insights.Get("dominant_event_type").AsString()
	assert.Equal(t, "boss_death", dominant)
}

func TestAggregateIsIdempotentPerWindow(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	seedEvents(t, st, map[time.Duration]float64{time.Minute: 0.5})

	first, err := e.Aggregate(ctx, models.MetricGameEvents, windowStart, windowStart.Add(time.Hour))
	require.NoError(t, err)
	second, err := e.Aggregate(ctx, models.MetricGameEvents, windowStart, windowStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := e.List(ctx, models.AnalyticsFilter{MetricType: models.MetricGameEvents})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAggregateValidation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Aggregate(ctx, "mood", windowStart, windowStart.Add(time.Hour))
	assert.True(t, memerr.IsValidation(err))
	_, err = e.Aggregate(ctx, models.MetricRetention, windowStart, windowStart)
	assert.True(t, memerr.IsValidation(err))
	_, err = e.List(ctx, models.AnalyticsFilter{MetricType: "mood"})
	assert.True(t, memerr.IsValidation(err))
}

func TestAggregateFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	st.FailNext(1)
	_, err := e.Aggregate(ctx, models.MetricEngagement, windowStart, windowStart.Add(time.Hour))
	assert.True(t, memerr.IsStore(err))

	list, err := e.List(ctx, models.AnalyticsFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAggregateWindowIsolatesFailures(t *testing.T) {
	e, st := newEngine(t)
	st.FailNext(1)
	res := e.AggregateWindow(context.Background(), models.MetricTypes, windowStart, windowStart.Add(time.Hour))
	assert.Len(t, res.Failed, 1)
	assert.Len(t, res.Analytics, len(models.MetricTypes)-1)
	assert.Error(t, res.Err())
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	s := &models.StreamSession{ID: uuid.New(), StartTime: windowStart.Add(-2 * time.Hour), Status: models.StreamSessionActive,
		ViewerStats: models.EmptyMapping(), HighlightMoments: models.EmptyMapping(), SessionMetrics: models.EmptyMapping()}
	require.NoError(t, st.CreateStreamSession(ctx, s))

	record := func(user string, at time.Time) {
		in := &models.ViewerInteraction{ID: uuid.New(), SessionID: s.ID, Timestamp: at, InteractionType: "chat", ContextTags: []string{}}
		_, err := st.RecordInteraction(ctx, in, user, nil)
		require.NoError(t, err)
	}
	record("alice", windowStart.Add(-time.Hour))
	record("alice", windowStart.Add(10*time.Minute))
	record("bob", windowStart.Add(15*time.Minute))

	a, err := e.Aggregate(ctx, models.MetricRetention, windowStart, windowStart.Add(time.Hour))
	require.NoError(t, err)
	unique, _ := a.MetricData.Get("unique_viewers").AsNumber()
	returning, _ := a.MetricData.Get("returning_viewers").AsNumber()
	rate, _ := a.MetricData.Get("retention_rate").AsNumber()
	assert.Equal(t, 2.0, unique)
	assert.Equal(t, 1.0, returning)
	assert.InDelta(t, 0.5, rate, 1e-9)
	audience, _ := a.Insights.Get("audience").AsString()
	assert.Equal(t, "mixed", audience)
}

func TestLearningHistory(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.RecordLearning(ctx, " ", models.Null(), nil)
	assert.True(t, memerr.IsValidation(err))
	_, err = e.RecordLearning(ctx, "humor", models.Null(), f(1.5))
	assert.True(t, memerr.IsValidation(err))

	entry, err := e.RecordLearning(ctx, "humor", models.Mapping(map[string]models.Value{"joke": models.String("pun")}), nil)
	require.NoError(t, err)
	assert.Nil(t, entry.EffectivenessScore)

	_, err = e.ApplyLearningResult(ctx, entry.ID, models.Null(), nil)
	assert.True(t, memerr.IsValidation(err))
	updated, err := e.ApplyLearningResult(ctx, entry.ID, models.Null(), f(0.8))
	require.NoError(t, err)
	require.NotNil(t, updated.EffectivenessScore)
	assert.Equal(t, 0.8, *updated.EffectivenessScore)

	_, err = e.ApplyLearningResult(ctx, uuid.New(), models.Null(), f(0.2))
	assert.True(t, memerr.IsNotFound(err))

	list, err := e.ListLearning(ctx, "humor", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSessionReportUnknownSession(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.SessionReport(context.Background(), uuid.New())
	assert.True(t, memerr.IsNotFound(err))
}

func TestSchedulerRetriesFailedWindows(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	s := NewScheduler(e, "@every 1h", time.Hour, models.MetricTypes, nil)
	s.SetClock(func() time.Time { return windowStart.Add(90 * time.Minute) })

	st.FailNext(1)
	assert.Equal(t, 1, s.RunOnce(ctx))
	assert.Equal(t, []Window{{Start: windowStart, End: windowStart.Add(time.Hour)}}, s.Pending())

	assert.Equal(t, 0, s.RunOnce(ctx))
	assert.Empty(t, s.Pending())

	list, err := e.List(ctx, models.AnalyticsFilter{})
	require.NoError(t, err)
	assert.Len(t, list, len(models.MetricTypes), "one record per metric after the retry")
}

func TestAlignedWindow(t *testing.T) {
	w := AlignedWindow(time.Date(2026, 3, 1, 20, 17, 0, 0, time.UTC), 15*time.Minute)
	assert.Equal(t, time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 3, 1, 20, 15, 0, 0, time.UTC), w.End)
}
