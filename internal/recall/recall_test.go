package recall

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

var base = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func f(v float64) *float64 { return &v }

type fixture struct {
	store  *memstore.Store
	stream *models.StreamSession
	game   *models.GameSession
}

func seed(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()

	game := &models.GameSession{ID: uuid.New(), GameName: "Elden Ring", StartTime: base, Status: models.GameSessionActive,
		Summary: models.EmptyMapping(), CreatedAt: base, UpdatedAt: base}
	require.NoError(t, st.CreateGameSession(ctx, game))
	stream := &models.StreamSession{ID: uuid.New(), StartTime: base, Title: strPtr("Souls night"), Category: strPtr("gaming"),
		Status: models.StreamSessionActive, ViewerStats: models.EmptyMapping(), HighlightMoments: models.EmptyMapping(),
		SessionMetrics: models.EmptyMapping()}
	require.NoError(t, st.CreateStreamSession(ctx, stream))

	messages := []string{"hello chat", "that boss was brutal", "gg well played"}
	for i, msg := range messages {
		in := &models.ViewerInteraction{ID: uuid.New(), SessionID: stream.ID, Timestamp: base.Add(time.Duration(i) * time.Minute),
			InteractionType: "chat", Message: strPtr(msg), ContextTags: []string{}}
		_, err := st.RecordInteraction(ctx, in, "alice", nil)
		require.NoError(t, err)
	}

	for i, impact := range []float64{0.5, 0.9} {
		ev := &models.GameEvent{ID: uuid.New(), SessionID: game.ID, Timestamp: base.Add(time.Duration(i+1) * time.Minute),
			EventType: "boss_death", EventCategory: "combat",
			EventData: models.Mapping(map[string]models.Value{"boss": models.String("Margit")}), ImpactScore: f(impact)}
		require.NoError(t, st.AppendGameEvent(ctx, ev, nil))
	}
	require.NoError(t, st.CreateStreamHighlight(ctx, &models.StreamHighlight{ID: uuid.New(), SessionID: stream.ID,
		Timestamp: base.Add(2 * time.Minute), HighlightType: "epic_moment", Description: "Boss Death: Defeated Margit during combat",
		ViewerImpact: models.EmptyMapping(), SignificanceScore: 0.9}))
	return &fixture{store: st, stream: stream, game: game}
}

func TestRecallViewer(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	r := New(fx.store, 2, 0.7)

	got, err := r.RecallViewer(ctx, " alice ", 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Profile.Username)
	require.Len(t, got.Interactions, 2, "default limit")
	assert.Equal(t, "gg well played", *got.Interactions[0].Message, "newest first")
	assert.Nil(t, got.AvgSentiment, "no sentiment was ever supplied")

	_, err = r.RecallViewer(ctx, "mallory", 0)
	assert.True(t, memerr.IsNotFound(err))
	_, err = r.RecallViewer(ctx, "", 0)
	assert.True(t, memerr.IsValidation(err))
}

func TestViewerHistoryCarriesStreamTitle(t *testing.T) {
	fx := seed(t)
	items, err := New(fx.store, 10, 0.7).ViewerHistory(context.Background(), "alice", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].StreamTitle)
	assert.Equal(t, "Souls night", *items[0].StreamTitle)
}

func TestRecallGameMomentDefaultsToNotable(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	r := New(fx.store, 10, 0.7)

	got, err := r.RecallGameMoment(ctx, models.MomentQuery{Text: "margit"})
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, 0.9, *got.Events[0].ImpactScore)
	assert.Len(t, got.Highlights, 1)

	got, err = r.RecallGameMoment(ctx, models.MomentQuery{EventType: "boss_death", MinImpact: f(0)})
	require.NoError(t, err)
	assert.Len(t, got.Events, 2)

	got, err = r.RecallGameMoment(ctx, models.MomentQuery{Text: "no such moment"})
	require.NoError(t, err)
	assert.NotNil(t, got.Events)
	assert.Empty(t, got.Events)
	assert.Empty(t, got.Highlights)

	from, to := base.Add(time.Hour), base
	_, err = r.RecallGameMoment(ctx, models.MomentQuery{From: &from, To: &to})
	assert.True(t, memerr.IsValidation(err))
}

func TestSearchMessages(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	r := New(fx.store, 10, 0.7)

	list, err := r.SearchMessages(ctx, "Boss brutal", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "that boss was brutal", *list[0].Message)

	_, err = r.SearchMessages(ctx, "  ", 0)
	assert.True(t, memerr.IsValidation(err))
}

func TestRecentHighlights(t *testing.T) {
	fx := seed(t)
	list, err := New(fx.store, 10, 0.7).RecentHighlights(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func appendEvent(t *testing.T, st *memstore.Store, sessionID uuid.UUID, at time.Time, eventType string, data map[string]models.Value) *models.GameEvent {
	t.Helper()
	ev := &models.GameEvent{ID: uuid.New(), SessionID: sessionID, Timestamp: at, EventType: eventType, EventCategory: "combat",
		EventData: models.Mapping(data)}
	require.NoError(t, st.AppendGameEvent(context.Background(), ev, nil))
	return ev
}

func TestRelatedEvents(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	r := New(fx.store, 10, 0.7)

	appendEvent(t, fx.store, fx.game.ID, base.Add(150*time.Second), "level_up",
		map[string]models.Value{"level": models.Int(5), "_priority": models.String("low")})
	drop := appendEvent(t, fx.store, fx.game.ID, base.Add(3*time.Minute), "rune_drop",
		map[string]models.Value{"boss": models.String("Margit"), "_priority": models.String("low")})
	appendEvent(t, fx.store, fx.game.ID, base.Add(4*time.Minute), "boss_death",
		map[string]models.Value{"boss": models.String("Godrick")})

	got, err := r.RelatedEvents(ctx, drop.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, drop.ID, got.Event.ID)
	assert.Empty(t, got.Previous)
	require.Len(t, got.Related, 2, "both earlier boss deaths share the boss key; later events and _ keys never link")
	assert.Equal(t, 0.9, *got.Related[0].ImpactScore, "newest first")

	got, err = r.RelatedEvents(ctx, drop.ID, 1)
	require.NoError(t, err)
	assert.Len(t, got.Related, 1)

	_, err = r.RelatedEvents(ctx, uuid.New(), 0)
	assert.True(t, memerr.IsNotFound(err))
}

func TestRelatedEventsListsEarlierOfSameType(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	list, err := fx.store.ListGameEvents(ctx, fx.game.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	got, err := New(fx.store, 10, 0.7).RelatedEvents(ctx, list[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, got.Previous, 1)
	assert.Equal(t, list[1].ID, got.Previous[0].ID)
	assert.Empty(t, got.Related)
}

func TestEventPatterns(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	game := &models.GameSession{ID: uuid.New(), GameName: "Hades", StartTime: base, Status: models.GameSessionActive,
		Summary: models.EmptyMapping(), CreatedAt: base, UpdatedAt: base}
	require.NoError(t, st.CreateGameSession(ctx, game))
	for i, typ := range []string{"room_clear", "boon", "boss_fight", "room_clear", "boon", "boss_fight", "death"} {
		appendEvent(t, st, game.ID, base.Add(time.Duration(i)*time.Minute), typ, map[string]models.Value{})
	}

	got, err := New(st, 10, 0.7).EventPatterns(ctx, game.ID)
	require.NoError(t, err)
	require.Len(t, got.Types, 4)
	assert.Equal(t, 2, got.Types[0].Count)
	assert.Equal(t, "death", got.Types[3].EventType)
	assert.Equal(t, base.Add(6*time.Minute), got.Types[3].LastAt)

	require.Len(t, got.Sequences, 1, "only runs that repeat")
	assert.Equal(t, []string{"room_clear", "boon", "boss_fight"}, got.Sequences[0].Types)
	assert.Equal(t, 2, got.Sequences[0].Count)
	assert.Equal(t, base.Add(5*time.Minute), got.Sequences[0].LastAt)

	empty, err := New(st, 10, 0.7).EventPatterns(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, empty.Types)
	assert.Empty(t, empty.Sequences)
}

func TestEventPatternsKeepsTenRecentPerType(t *testing.T) {
	var newest []models.GameEvent
	for i := 11; i >= 0; i-- {
		newest = append(newest, models.GameEvent{ID: uuid.New(), Timestamp: base.Add(time.Duration(i) * time.Second), EventType: "hit"})
	}
	got := BuildPatterns(uuid.New(), newest)
	require.Len(t, got.Types, 1)
	assert.Equal(t, 12, got.Types[0].Count)
	assert.Len(t, got.Types[0].Recent, 10)
	assert.Equal(t, base.Add(11*time.Second), got.Types[0].Recent[0].Timestamp)
	require.Len(t, got.Sequences, 1)
	assert.Equal(t, 10, got.Sequences[0].Count)
}

func TestImportance(t *testing.T) {
	at := func(typ, msg string, level int, tags ...string) models.AttributedInteraction {
		a := models.AttributedInteraction{RelationshipLevel: level}
		a.InteractionType = typ
		a.ContextTags = tags
		if msg != "" {
			a.Message = strPtr(msg)
		}
		return a
	}
	assert.InDelta(t, 0.3, Importance(at("chat", "hi", 0)), 1e-9)
	assert.InDelta(t, 0.3, Importance(at("emote_spam", "", 0)), 1e-9, "unknown types weigh like chat")
	assert.InDelta(t, 0.8, Importance(at("question", "which build?", 0)), 1e-9)
	assert.InDelta(t, 0.7, Importance(at("chat", "hey @Ruby look", 5)), 1e-9)
	assert.InDelta(t, 0.9, Importance(at("chat", "", 20, "game_related", "strategy")), 1e-9, "trust saturates at level 10")
	assert.Equal(t, 1.0, Importance(at("donation", "@ruby any tips?", 10, "strategy")))
}

func TestPriorityInteractions(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	record := func(user, typ, msg string, at time.Time, tags ...string) {
		in := &models.ViewerInteraction{ID: uuid.New(), SessionID: fx.stream.ID, Timestamp: at,
			InteractionType: typ, Message: strPtr(msg), ContextTags: tags}
		_, err := fx.store.RecordInteraction(ctx, in, user, nil)
		require.NoError(t, err)
	}
	record("bob", "donation", "for the stream", base.Add(5*time.Minute))
	record("carol", "question", "which talisman?", base.Add(6*time.Minute))
	record("dave", "chat", "@Ruby nice", base.Add(7*time.Minute))

	r := New(fx.store, 10, 0.7)
	list, err := r.PriorityInteractions(ctx, fx.stream.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2, "a plain mention scores 0.6 and alice's chats 0.3")
	assert.Equal(t, "carol", list[0].Username)
	assert.InDelta(t, 0.8, list[0].Importance, 1e-9)
	assert.Equal(t, "bob", list[1].Username)

	list, err = r.PriorityInteractions(ctx, fx.stream.ID, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = r.PriorityInteractions(ctx, uuid.New(), 0)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestActiveConversations(t *testing.T) {
	ctx := context.Background()
	fx := seed(t)
	in := &models.ViewerInteraction{ID: uuid.New(), SessionID: fx.stream.ID, Timestamp: base.Add(4 * time.Minute),
		InteractionType: "chat", Message: strPtr("first time here"), ContextTags: []string{}}
	_, err := fx.store.RecordInteraction(ctx, in, "bob", nil)
	require.NoError(t, err)

	r := New(fx.store, 10, 0.7)
	r.SetClock(func() time.Time { return base.Add(6 * time.Minute) })

	list, err := r.ActiveConversations(ctx, fx.stream.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].Username, "most recently active first")
	assert.Equal(t, "alice", list[1].Username)
	require.Len(t, list[1].Interactions, 2, "alice's first message is older than five minutes")
	assert.Equal(t, "gg well played", *list[1].Interactions[0].Message)
	assert.Equal(t, base.Add(2*time.Minute), list[1].LastAt)

	list, err = r.ActiveConversations(ctx, fx.stream.ID, 3*time.Minute)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].Username)

	_, err = r.ActiveConversations(ctx, fx.stream.ID, -time.Minute)
	assert.True(t, memerr.IsValidation(err))
}
