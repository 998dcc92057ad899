package interactions

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

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

type published struct {
	sessionID uuid.UUID
	event     string
}

type fakePublisher struct{ sent []published }

func (f *fakePublisher) Publish(sessionID uuid.UUID, event string, _ interface{}) {
	f.sent = append(f.sent, published{sessionID, event})
}

var policy = RelationshipPolicy{Cap: 10, PointsPerLevel: 5}

func setup(t *testing.T) (*Manager, *streamsessions.Manager, *memstore.Store, *fakePublisher) {
	t.Helper()
	st := memstore.New()
	streams := streamsessions.NewManager(st, nil)
	pub := &fakePublisher{}
	return NewManager(st, streams, nil, pub, policy, nil), streams, st, pub
}

func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, streams, st, pub := setup(t)
	s, err := streams.Open(ctx, streamsessions.OpenParams{})
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	const n = 4
	var last *Result
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		m.SetClock(func() time.Time { return at })
		last, err = m.Record(ctx, RecordParams{ViewerUsername: " alice ", InteractionType: "Chat", Message: strPtr("gg")})
		require.NoError(t, err)
	}

	p, err := st.ViewerProfileByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, n, p.InteractionSummary.Total)
	assert.Equal(t, n, p.InteractionSummary.ByType["chat"])
	assert.True(t, !p.FirstSeen.After(p.LastSeen))
	assert.Equal(t, base, p.FirstSeen)
	assert.Equal(t, base.Add(3*time.Minute), p.LastSeen)
	require.NotNil(t, last.Interaction.ViewerID)
	assert.Equal(t, p.ID, *last.Interaction.ViewerID)

	list, err := m.List(ctx, s.ID, "CHAT", 0)
	require.NoError(t, err)
	assert.Len(t, list, n)
	assert.Len(t, pub.sent, n)
	assert.Equal(t, "interaction", pub.sent[0].event)
	assert.Equal(t, s.ID, pub.sent[0].sessionID)
}

func TestRecordWithoutStream(t *testing.T) {
	ctx := context.Background()
	m, _, st, pub := setup(t)
	_, err := m.Record(ctx, RecordParams{ViewerUsername: "bob", InteractionType: "chat"})
	assert.True(t, memerr.IsNoActiveSession(err))

	p, err := st.ViewerProfileByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, p, "no profile is created")
	assert.Empty(t, pub.sent)
}

func TestRecordValidation(t *testing.T) {
	m, _, _, _ := setup(t)
	bad := 1.5
	cases := map[string]RecordParams{
		"no username":     {InteractionType: "chat"},
		"no type":         {ViewerUsername: "bob"},
		"sentiment range": {ViewerUsername: "bob", InteractionType: "chat", SentimentScore: &bad},
		"impact range":    {ViewerUsername: "bob", InteractionType: "chat", ImpactLevel: intPtr(11)},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Record(context.Background(), p)
			assert.True(t, memerr.IsValidation(err))
		})
	}
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	m, streams, st, _ := setup(t)
	s, err := streams.Open(ctx, streamsessions.OpenParams{})
	require.NoError(t, err)
	_, err = m.Record(ctx, RecordParams{ViewerUsername: "carol", InteractionType: "chat"})
	require.NoError(t, err)

	require.NoError(t, m.Forget(ctx, "carol"))
	p, err := st.ViewerProfileByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, p)

	list, err := m.List(ctx, s.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1, "interactions outlive the profile")
	assert.Nil(t, list[0].ViewerID)

	assert.True(t, memerr.IsNotFound(m.Forget(ctx, "carol")))
	assert.True(t, memerr.IsValidation(m.Forget(ctx, " ")))
}

func TestFoldProfileDecaysWithinSession(t *testing.T) {
	p := &models.ViewerProfile{}
	sid := uuid.New()
	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	FoldProfile(p, &models.ViewerInteraction{SessionID: sid, Timestamp: at, InteractionType: "chat", ImpactLevel: intPtr(10)}, policy)
	assert.InDelta(t, 2.0, p.EngagementMetrics.RelationshipPoints, 1e-9)
	FoldProfile(p, &models.ViewerInteraction{SessionID: sid, Timestamp: at, InteractionType: "chat", ImpactLevel: intPtr(10)}, policy)
	assert.InDelta(t, 3.0, p.EngagementMetrics.RelationshipPoints, 1e-9, "second interaction earns half")

	assert.Equal(t, 1, p.InteractionSummary.Sessions)
	assert.Equal(t, 1, p.RelationshipLevel)

	FoldProfile(p, &models.ViewerInteraction{SessionID: uuid.New(), Timestamp: at.Add(time.Hour), InteractionType: "donation"}, policy)
	assert.Equal(t, 2, p.InteractionSummary.Sessions)
	assert.InDelta(t, 4.8, p.EngagementMetrics.RelationshipPoints, 1e-9, "donation weight stands in for a missing impact")
	assert.Equal(t, 2, p.RelationshipLevel)
	assert.Equal(t, 2, p.EngagementMetrics.ImpactCount, "only supplied impacts are averaged")
	assert.Equal(t, at.Add(time.Hour), p.LastSeen)
	assert.Equal(t, at, p.FirstSeen)
}

func TestFoldProfileLevelIsCappedAndMonotonic(t *testing.T) {
	p := &models.ViewerProfile{RelationshipLevel: 7}
	pol := RelationshipPolicy{Cap: 3, PointsPerLevel: 1}
	for i := 0; i < 10; i++ {
		FoldProfile(p, &models.ViewerInteraction{SessionID: uuid.New(), InteractionType: "chat"}, pol)
	}
	assert.Equal(t, 7, p.RelationshipLevel, "never decreases, even above a lowered cap")

	q := &models.ViewerProfile{}
	for i := 0; i < 10; i++ {
		FoldProfile(q, &models.ViewerInteraction{SessionID: uuid.New(), InteractionType: "chat"}, pol)
	}
	assert.Equal(t, 3, q.RelationshipLevel)
}

func TestFoldProfileTracksPreferences(t *testing.T) {
	p := &models.ViewerProfile{Preferences: models.Mapping(map[string]models.Value{"language": models.String("en")})}
	sid := uuid.New()
	evening := time.Date(2026, 3, 1, 20, 15, 0, 0, time.UTC)
	fold := func(at time.Time, tags ...string) {
		FoldProfile(p, &models.ViewerInteraction{SessionID: sid, Timestamp: at, InteractionType: "chat", ContextTags: tags}, policy)
	}
	fold(evening, "boss", "hype")
	fold(evening.Add(10*time.Minute), "boss")
	fold(time.Date(2026, 3, 2, 9, 0, 0, 0, time.FixedZone("CET", 3600)), "lore", "a", "b", "c")

	topics, ok := p.Preferences.Get("favorite_topics").AsList()
	require.True(t, ok)
	require.Len(t, topics, 5)
	first, _ := topics[0].AsString()
	assert.Equal(t, "boss", first, "most used tag leads")

	hours := p.Preferences.Get("interaction_times")
	n, _ := hours.Get("20").AsNumber()
	assert.Equal(t, 2.0, n)
	n, _ = hours.Get("08").AsNumber()
	assert.Equal(t, 1.0, n, "hours are counted in UTC")
	assert.True(t, p.Preferences.Has("language"), "other keys survive")
}

func TestRecordFillsPreferences(t *testing.T) {
	ctx := context.Background()
	m, streams, _, _ := setup(t)
	_, err := streams.Open(ctx, streamsessions.OpenParams{})
	require.NoError(t, err)
	res, err := m.Record(ctx, RecordParams{ViewerUsername: "alice", InteractionType: "chat", Message: strPtr("which boss next?")})
	require.NoError(t, err)

	p := res.Profile
	topics, ok := p.Preferences.Get("favorite_topics").AsList()
	require.True(t, ok)
	assert.NotEmpty(t, topics)
	assert.Equal(t, 1, p.Preferences.Get("interaction_times").Len())
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Hype ", "hype", "", "Boss"}, strPtr("How to beat this boss? wow"))
	assert.Equal(t, []string{"boss", "emotional", "game_related", "hype", "question", "strategy"}, got)

	assert.Equal(t, []string{}, NormalizeTags(nil, nil))
}
