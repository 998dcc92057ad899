package highlights

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
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/streamsessions"
)

func f(v float64) *float64 { return &v }

var cfg = Config{
	Threshold:       0.7,
	Window:          50,
	MinSamples:      5,
	Keywords:        []string{"clutch", "first try"},
	DonationTrigger: 10,
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		c    models.HighlightCandidate
		b    Baseline
		want float64
	}{
		{"strong sentiment and impact", models.HighlightCandidate{Sentiment: f(0.95), Impact: f(1)}, Baseline{}, 0.85},
		{"no scores", models.HighlightCandidate{Type: "chat"}, Baseline{}, 0.15},
		{"keyword", models.HighlightCandidate{Type: "chat", Text: "That was CLUTCH", Sentiment: f(0.5)}, Baseline{}, 0.35 + 0.15 + 0.15},
		{"donation over trigger", models.HighlightCandidate{Type: "donation", Amount: f(20)}, Baseline{}, 0.15 + 0.25},
		{"donation under trigger", models.HighlightCandidate{Type: "donation", Data: models.Mapping(map[string]models.Value{"amount": models.Number(5)})}, Baseline{}, 0.15},
		{"rare against baseline", models.HighlightCandidate{Impact: f(0.9)}, Baseline{N: 10, Mean: 0.5, Std: 0.2}, 0.63 + 0.3},
		{"clamped", models.HighlightCandidate{Type: "donation", Amount: f(50), Text: "first try", Impact: f(1)}, Baseline{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.c, tt.b, cfg).Score, 1e-9)
		})
	}
}

func TestRarity(t *testing.T) {
	b := Baseline{N: 10, Mean: 0.5, Std: 0.2}
	assert.InDelta(t, 0.5, Rarity(0.5, b, 5), 1e-9)
	assert.InDelta(t, 1.0, Rarity(0.9, b, 5), 1e-9)
	assert.InDelta(t, 0.0, Rarity(0.0, Baseline{N: 10, Mean: 0.9, Std: 0.1}, 5), 1e-9)
	assert.Equal(t, 0.5, Rarity(0.9, Baseline{N: 3, Mean: 0.5, Std: 0.2}, 5), "too few samples")
	assert.Equal(t, 0.5, Rarity(0.9, Baseline{N: 10, Mean: 0.5}, 5), "no spread")
}

func TestMagnitude(t *testing.T) {
	m, ok := Magnitude(models.HighlightCandidate{Impact: f(0.3), Sentiment: f(-0.8)})
	assert.True(t, ok)
	assert.InDelta(t, 0.8, m, 1e-9)
	_, ok = Magnitude(models.HighlightCandidate{})
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	inter := func(typ, text string, sentiment *float64) models.HighlightCandidate {
		return models.HighlightCandidate{Source: models.SourceInteraction, Type: typ, Text: text, Sentiment: sentiment}
	}
	game := func(typ string) models.HighlightCandidate {
		return models.HighlightCandidate{Source: models.SourceGameEvent, Type: typ}
	}
	assert.Equal(t, "viewer_milestone", Classify(inter("donation", "", nil), 0.8))
	assert.Equal(t, "emotional_moment", Classify(inter("chat", "", f(-0.9)), 0.8))
	assert.Equal(t, "funny_moment", Classify(inter("chat", "LOL what", nil), 0.8))
	assert.Equal(t, "community_moment", Classify(inter("chat", "hello", nil), 0.8))
	assert.Equal(t, "achievement", Classify(game("achievement_unlocked"), 0.8))
	assert.Equal(t, "epic_moment", Classify(game("boss_death"), 0.8))
	assert.Equal(t, "game_progress", Classify(game("progress_checkpoint"), 0.8))
	assert.Equal(t, "high_engagement", Classify(game("item_pickup"), 0.95))
	assert.Equal(t, "epic_moment", Classify(game("item_pickup"), 0.75))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Donation from alice: 12.5", Describe(models.HighlightCandidate{
		Source: models.SourceInteraction, Type: "donation", Username: "alice", Amount: f(12.5),
	}))
	assert.Equal(t, "Boss Death: Defeated Margit during combat", Describe(models.HighlightCandidate{
		Source:   models.SourceGameEvent,
		Type:     "boss_death",
		Category: "combat",
		Data:     models.Mapping(map[string]models.Value{"boss": models.String("Margit")}),
	}))
	assert.Equal(t, "Élite Kill during combat", Describe(models.HighlightCandidate{
		Source: models.SourceGameEvent, Type: "élite_kill", Category: "combat",
	}))
	assert.Equal(t, "Raid from Ünal", Describe(models.HighlightCandidate{
		Source: models.SourceInteraction, Type: "RAID", Username: "Ünal",
	}))
}

func TestBuildTrends(t *testing.T) {
	sid := uuid.New()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	list := []models.StreamHighlight{
		{HighlightType: "epic_moment", Timestamp: base, SignificanceScore: 0.8},
		{HighlightType: "funny_moment", Timestamp: base.Add(30 * time.Minute), SignificanceScore: 0.7},
		{HighlightType: "epic_moment", Timestamp: base.Add(2 * time.Hour), SignificanceScore: 0.9},
	}
	r := BuildTrends(sid, list)
	assert.Equal(t, 3, r.Total)
	require.NotNil(t, r.AvgSignificance)
	assert.InDelta(t, 0.8, *r.AvgSignificance, 1e-9)
	require.NotNil(t, r.PerHour)
	assert.InDelta(t, 1.5, *r.PerHour, 1e-9)
	assert.Equal(t, []TypeCount{{"epic_moment", 2}, {"funny_moment", 1}}, r.PopularTypes)
	assert.Equal(t, []HourCount{{20, 2}, {22, 1}}, r.PeakHours)

	empty := BuildTrends(sid, nil)
	assert.Zero(t, empty.Total)
	assert.Nil(t, empty.AvgSignificance)
	assert.NotNil(t, empty.PopularTypes)
}

func TestWindowRing(t *testing.T) {
	w := &window{size: 3}
	for _, v := range []float64{1, 2, 3, 10} {
		w.add(v)
	}
	b := w.stats()
	assert.Equal(t, 3, b.N)
	assert.InDelta(t, 5.0, b.Mean, 1e-9, "the oldest sample was overwritten")
}

type fakePublisher struct{ events []string }

func (p *fakePublisher) Publish(_ uuid.UUID, event string, _ interface{}) {
	p.events = append(p.events, event)
}

func setupTracker(t *testing.T) (*Tracker, *streamsessions.Manager, *memstore.Store, *fakePublisher) {
	t.Helper()
	st := memstore.New()
	streams := streamsessions.NewManager(st, nil)
	pub := &fakePublisher{}
	return NewTracker(st, streams, pub, cfg, nil), streams, st, pub
}

func TestEvaluateCreatesHighlight(t *testing.T) {
	ctx := context.Background()
	tr, streams, _, pub := setupTracker(t)

	c := models.HighlightCandidate{Source: models.SourceInteraction, SourceID: uuid.New(), Type: "chat", Sentiment: f(0.95), Impact: f(1), Username: "alice"}
	_, err := tr.Evaluate(ctx, c)
	assert.True(t, memerr.IsNoActiveSession(err))

	s, err := streams.Open(ctx, streamsessions.OpenParams{})
	require.NoError(t, err)
	h, err := tr.Evaluate(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, s.ID, h.SessionID)
	assert.InDelta(t, 0.85, h.SignificanceScore, 1e-9)
	assert.Equal(t, "emotional_moment", h.HighlightType)
	assert.Equal(t, []string{"highlight"}, pub.events)

	low, err := tr.Evaluate(ctx, models.HighlightCandidate{Source: models.SourceInteraction, Type: "chat", Sentiment: f(0.1)})
	require.NoError(t, err)
	assert.Nil(t, low)

	recent, err := tr.Recent(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestEvaluateGameEventNeedsAttachedStream(t *testing.T) {
	ctx := context.Background()
	tr, streams, st, _ := setupTracker(t)

	now := time.Now().UTC()
	gs := &models.GameSession{ID: uuid.New(), GameName: "Elden Ring", StartTime: now, Status: models.GameSessionActive,
		Summary: models.EmptyMapping(), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateGameSession(ctx, gs))
	_, err := streams.Open(ctx, streamsessions.OpenParams{})
	require.NoError(t, err)

	gid := gs.ID
	c := models.HighlightCandidate{Source: models.SourceGameEvent, SourceID: uuid.New(), GameSessionID: &gid, Type: "boss_death", Impact: f(1)}
	h, err := tr.Evaluate(ctx, c)
	require.NoError(t, err)
	assert.Nil(t, h, "the stream is not attached to this game")

	_, err = streams.Attach(ctx, gid)
	require.NoError(t, err)
	h, err = tr.Evaluate(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "epic_moment", h.HighlightType)
}

func TestForgetResetsBaseline(t *testing.T) {
	tr, _, _, _ := setupTracker(t)
	sid := uuid.New()
	for i := 0; i < 5; i++ {
		tr.observe(sid, models.HighlightCandidate{Impact: f(0.2)})
	}
	assert.Equal(t, 5, tr.observe(sid, models.HighlightCandidate{}).N)
	tr.Forget(sid)
	assert.Equal(t, 0, tr.observe(sid, models.HighlightCandidate{}).N)
}
