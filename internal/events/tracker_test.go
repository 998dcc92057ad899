package events

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/gamesessions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/store/memstore"
)

type recordingEvaluator struct {
	candidates []models.HighlightCandidate
	err        error
}

func (r *recordingEvaluator) Evaluate(_ context.Context, c models.HighlightCandidate) (*models.StreamHighlight, error) {
	r.candidates = append(r.candidates, c)
	return nil, r.err
}

func f(v float64) *float64 { return &v }

func setup(t *testing.T) (*Tracker, *gamesessions.Manager, *memstore.Store, *recordingEvaluator) {
	t.Helper()
	st := memstore.New()
	games := gamesessions.NewManager(st, nil)
	eval := &recordingEvaluator{}
	tr := NewTracker(st, games, eval, Config{NotableThreshold: 0.7, NotableRetention: 50}, nil)
	return tr, games, st, eval
}

func TestRecordWithoutActiveSession(t *testing.T) {
	ctx := context.Background()
	tr, _, st, eval := setup(t)

	_, err := tr.Record(ctx, RecordParams{EventType: "boss_death", Category: "combat", ImpactScore: f(0.9)})
	assert.True(t, memerr.IsNoActiveSession(err))

	samples, err := st.WindowGameEvents(ctx, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, samples, "no record is created")
	assert.Empty(t, eval.candidates)
}

func TestBossDeathsFoldIntoNotableEvents(t *testing.T) {
	ctx := context.Background()
	tr, games, st, _ := setup(t)
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	gs, err := games.Open(ctx, gamesessions.OpenParams{GameName: "Elden Ring"})
	require.NoError(t, err)

	data := models.Mapping(map[string]models.Value{"boss": models.String("Margit")})
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		tr.SetClock(func() time.Time { return at })
		ev, err := tr.Record(ctx, RecordParams{EventType: "boss_death", Category: "combat", Data: data, ImpactScore: f(0.9)})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}

	stored, err := st.GetGameSession(ctx, gs.ID)
	require.NoError(t, err)
	require.Len(t, stored.NotableEvents, 5)
	for i, n := range stored.NotableEvents {
		assert.Equal(t, ids[i], n.EventID)
		if i > 0 {
			assert.False(t, n.Timestamp.Before(stored.NotableEvents[i-1].Timestamp))
		}
	}

	_, err = games.Close(ctx, gamesessions.CloseParams{})
	require.NoError(t, err)
	_, err = tr.Record(ctx, RecordParams{EventType: "boss_death", Category: "combat", Data: data, ImpactScore: f(0.9)})
	assert.True(t, memerr.IsNoActiveSession(err))

	events, err := tr.List(ctx, gs.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestLowImpactEventsAreNotNotable(t *testing.T) {
	ctx := context.Background()
	tr, games, st, eval := setup(t)
	gs, err := games.Open(ctx, gamesessions.OpenParams{GameName: "Minecraft"})
	require.NoError(t, err)

	ev, err := tr.Record(ctx, RecordParams{EventType: "mining", Category: "gathering", ImpactScore: f(0.7)})
	require.NoError(t, err)
	_, err = tr.Record(ctx, RecordParams{EventType: "movement", Category: "travel"})
	require.NoError(t, err)

	stored, err := st.GetGameSession(ctx, gs.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.NotableEvents, "the threshold is exclusive")

	p, _ := ev.EventData.Get(priorityKey).AsString()
	assert.Equal(t, "low", p)

	require.Len(t, eval.candidates, 2)
	assert.Equal(t, models.SourceGameEvent, eval.candidates[0].Source)
	assert.Equal(t, ev.ID, eval.candidates[0].SourceID)
	require.NotNil(t, eval.candidates[0].GameSessionID)
	assert.Equal(t, gs.ID, *eval.candidates[0].GameSessionID)
}

func TestHighlightFailureDoesNotFailRecord(t *testing.T) {
	ctx := context.Background()
	tr, games, _, eval := setup(t)
	_, err := games.Open(ctx, gamesessions.OpenParams{GameName: "Hades"})
	require.NoError(t, err)

	eval.err = memerr.Store("highlights.Create", assert.AnError)
	ev, err := tr.Record(ctx, RecordParams{EventType: "death", Category: "combat", ImpactScore: f(0.4)})
	require.NoError(t, err)
	assert.NotNil(t, ev)
}

func TestRecordValidation(t *testing.T) {
	tr, _, _, _ := setup(t)
	cases := map[string]RecordParams{
		"missing type":     {Category: "combat"},
		"missing category": {EventType: "death"},
		"nan impact":       {EventType: "death", Category: "combat", ImpactScore: f(math.NaN())},
		"inf impact":       {EventType: "death", Category: "combat", ImpactScore: f(math.Inf(1))},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tr.Record(context.Background(), p)
			assert.True(t, memerr.IsValidation(err))
		})
	}
}

func TestFoldNotableKeepsOrderAndRetention(t *testing.T) {
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	at := func(min int) models.NotableEvent {
		return models.NotableEvent{EventID: uuid.New(), Timestamp: base.Add(time.Duration(min) * time.Minute)}
	}
	list := []models.NotableEvent{at(1), at(3)}

	late := at(2)
	out := FoldNotable(list, late, 10)
	require.Len(t, out, 3)
	assert.Equal(t, late.EventID, out[1].EventID, "out-of-order arrivals land by timestamp")
	assert.Len(t, list, 2, "input is not modified")

	tie := models.NotableEvent{EventID: uuid.New(), Timestamp: list[1].Timestamp}
	out = FoldNotable(list, tie, 10)
	assert.Equal(t, tie.EventID, out[2].EventID, "ties keep arrival order")

	out = FoldNotable(list, at(4), 2)
	require.Len(t, out, 2)
	assert.Equal(t, list[1].EventID, out[0].EventID, "the oldest entry is evicted")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		category  string
		data      models.Value
		want      Priority
	}{
		{"known type", "boss_fight", "combat", models.Null(), PriorityCritical},
		{"category fallback", "parry", "combat", models.Null(), PriorityMedium},
		{"unknown", "emote", "social", models.Null(), PriorityLow},
		{"difficulty bump", "mining", "", models.Mapping(map[string]models.Value{"difficulty": models.Number(0.8)}), PriorityMedium},
		{"rare and first time", "crafting", "", models.Mapping(map[string]models.Value{
			"rarity":     models.String("rare"),
			"first_time": models.Bool(true),
		}), PriorityHigh},
		{"capped at critical", "boss_death", "", models.Mapping(map[string]models.Value{
			"critical_moment": models.Bool(true),
			"goal_related":    models.Bool(true),
		}), PriorityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.eventType, tt.category, tt.data))
		})
	}
}
