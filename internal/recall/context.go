package recall

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

const (
	relatedLimit   = 5
	patternScan    = 500
	recentPerType  = 10
	sequenceLength = 3

	priorityScan      = 200
	priorityThreshold = 0.7
	priorityLimit     = 10
	agentMention      = "@ruby"

	// trustLevels is the relationship level at which a viewer's trust bonus saturates.
	trustLevels = 10.0

	// ConversationWindow is how long a viewer stays in an active conversation.
	ConversationWindow = 5 * time.Minute
	conversationScan   = 500
)

// typeImportance is the base importance of an interaction type; unknown types get 0.3.
var typeImportance = map[string]float64{
	"donation":        0.8,
	"subscription":    0.7,
	"question":        0.6,
	"game_suggestion": 0.5,
	"strategy_advice": 0.5,
	"chat":            0.3,
	"reaction":        0.2,
}

// RelatedEvents returns earlier events of the same type in the event's session, and up to
// limit earlier events of other types sharing a data key with it. Keys starting with "_"
// are bookkeeping and never link events.
func (r *Recaller) RelatedEvents(ctx context.Context, eventID uuid.UUID, limit int) (*models.RelatedEvents, error) {
	const op = "recall.RelatedEvents"
	ev, err := r.store.GameEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, memerr.NotFound(op, "game event "+eventID.String())
	}
	if limit <= 0 {
		limit = relatedLimit
	}
	history, err := r.store.ListGameEvents(ctx, ev.SessionID, "", patternScan)
	if err != nil {
		return nil, err
	}

	keys := dataKeys(ev.EventData)
	out := &models.RelatedEvents{Event: *ev, Previous: []models.GameEvent{}, Related: []models.GameEvent{}}
	for _, past := range history {
		if past.ID == ev.ID || past.Timestamp.After(ev.Timestamp) {
			continue
		}
		switch {
		case past.EventType == ev.EventType:
			if len(out.Previous) < limit {
				out.Previous = append(out.Previous, past)
			}
		case len(out.Related) < limit && sharesKey(past.EventData, keys):
			out.Related = append(out.Related, past)
		}
	}
	return out, nil
}

func dataKeys(v models.Value) map[string]bool {
	keys := map[string]bool{}
	for _, k := range v.Keys() {
		if !strings.HasPrefix(k, "_") {
			keys[k] = true
		}
	}
	return keys
}

func sharesKey(v models.Value, keys map[string]bool) bool {
	for _, k := range v.Keys() {
		if keys[k] {
			return true
		}
	}
	return false
}

// EventPatterns reports how event types repeat in a game session: per-type counts with
// their latest occurrences, and runs of three consecutive types that happened more than once.
func (r *Recaller) EventPatterns(ctx context.Context, sessionID uuid.UUID) (*models.EventPatterns, error) {
	newest, err := r.store.ListGameEvents(ctx, sessionID, "", patternScan)
	if err != nil {
		return nil, err
	}
	return BuildPatterns(sessionID, newest), nil
}

// BuildPatterns computes EventPatterns from events ordered newest first.
func BuildPatterns(sessionID uuid.UUID, newest []models.GameEvent) *models.EventPatterns {
	out := &models.EventPatterns{SessionID: sessionID, Types: []models.EventTypePattern{}, Sequences: []models.EventSequence{}}

	byType := map[string]int{}
	for _, e := range newest {
		i, ok := byType[e.EventType]
		if !ok {
			i = len(out.Types)
			byType[e.EventType] = i
			out.Types = append(out.Types, models.EventTypePattern{EventType: e.EventType, LastAt: e.Timestamp, Recent: []models.GameEvent{}})
		}
		p := &out.Types[i]
		p.Count++
		if len(p.Recent) < recentPerType {
			p.Recent = append(p.Recent, e)
		}
	}
	sort.SliceStable(out.Types, func(i, j int) bool { return out.Types[i].Count > out.Types[j].Count })

	seqs := map[string]int{}
	for i := len(newest) - sequenceLength; i >= 0; i-- {
		// newest[i] is the last event of the run newest[i+2], newest[i+1], newest[i]
		types := make([]string, sequenceLength)
		for k := 0; k < sequenceLength; k++ {
			types[k] = newest[i+sequenceLength-1-k].EventType
		}
		key := strings.Join(types, "\x00")
		j, ok := seqs[key]
		if !ok {
			j = len(out.Sequences)
			seqs[key] = j
			out.Sequences = append(out.Sequences, models.EventSequence{Types: types})
		}
		out.Sequences[j].Count++
		out.Sequences[j].LastAt = newest[i].Timestamp
	}
	repeated := out.Sequences[:0]
	for _, s := range out.Sequences {
		if s.Count > 1 {
			repeated = append(repeated, s)
		}
	}
	out.Sequences = repeated
	sort.SliceStable(out.Sequences, func(i, j int) bool {
		if out.Sequences[i].Count != out.Sequences[j].Count {
			return out.Sequences[i].Count > out.Sequences[j].Count
		}
		return out.Sequences[i].LastAt.After(out.Sequences[j].LastAt)
	})
	return out
}

// Importance rates how urgently an interaction wants an answer, in [0, 1]: a base weight
// per type, up to 0.2 for an established viewer, 0.2 for a question, 0.3 for mentioning
// the agent and 0.2 each for game_related and strategy tags.
func Importance(in models.AttributedInteraction) float64 {
	w, ok := typeImportance[strings.ToLower(in.InteractionType)]
	if !ok {
		w = 0.3
	}
	w += math.Min(float64(in.RelationshipLevel), trustLevels) / trustLevels * 0.2
	if in.Message != nil {
		msg := strings.ToLower(*in.Message)
		if strings.Contains(msg, "?") {
			w += 0.2
		}
		if strings.Contains(msg, agentMention) {
			w += 0.3
		}
	}
	for _, t := range in.ContextTags {
		if t == "game_related" || t == "strategy" {
			w += 0.2
		}
	}
	return math.Min(1, w)
}

// PriorityInteractions returns the stream's recent interactions with importance above 0.7,
// newest first.
func (r *Recaller) PriorityInteractions(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.PriorityInteraction, error) {
	if limit <= 0 {
		limit = priorityLimit
	}
	list, err := r.store.AttributedInteractions(ctx, sessionID, time.Time{}, priorityScan)
	if err != nil {
		return nil, err
	}
	out := []models.PriorityInteraction{}
	for _, in := range list {
		if imp := Importance(in); imp > priorityThreshold {
			out = append(out, models.PriorityInteraction{AttributedInteraction: in, Importance: imp})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ActiveConversations groups the interactions of the last window (ConversationWindow when
// zero) by viewer, most recently active viewer first.
func (r *Recaller) ActiveConversations(ctx context.Context, sessionID uuid.UUID, window time.Duration) ([]models.Conversation, error) {
	if window < 0 {
		return nil, memerr.Validation("recall.ActiveConversations", "window must not be negative")
	}
	if window == 0 {
		window = ConversationWindow
	}
	since := r.now().Add(-window)
	list, err := r.store.AttributedInteractions(ctx, sessionID, since, conversationScan)
	if err != nil {
		return nil, err
	}
	out := []models.Conversation{}
	index := map[uuid.UUID]int{}
	for _, in := range list {
		if in.ViewerID == nil {
			continue
		}
		i, ok := index[*in.ViewerID]
		if !ok {
			i = len(out)
			index[*in.ViewerID] = i
			out = append(out, models.Conversation{ViewerID: *in.ViewerID, Username: in.Username, LastAt: in.Timestamp})
		}
		out[i].Interactions = append(out[i].Interactions, in.ViewerInteraction)
	}
	return out, nil
}
