package interactions

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// RelationshipPolicy controls how relationship_level grows.
type RelationshipPolicy struct {
	Cap            int     // highest level
	PointsPerLevel float64 // accumulated points worth one extra level
}

// FoldProfile applies one interaction to a profile. Each interaction earns
// (1 + impact/10) / (1 + earlier interactions of the viewer in the same session) points,
// where a missing impact falls back to the interaction type's weight,
// so repeated chatter in one session decays. The level is the number of distinct
// sessions plus one per PointsPerLevel points, capped, and never decreases.
// Preferences carry the viewer's favorite topics and active hours.
func FoldProfile(p *models.ViewerProfile, in *models.ViewerInteraction, pol RelationshipPolicy) {
	s := &p.InteractionSummary
	if s.ByType == nil {
		s.ByType = map[string]int{}
	}
	if s.Tags == nil {
		s.Tags = map[string]int{}
	}

	prior := 0
	if s.LastSessionID != nil && *s.LastSessionID == in.SessionID {
		prior = s.LastSessionCount
	} else {
		sid := in.SessionID
		s.LastSessionID = &sid
		s.LastSessionCount = 0
		s.Sessions++
	}
	s.LastSessionCount++
	s.Total++
	s.ByType[in.InteractionType]++
	for _, tag := range in.ContextTags {
		s.Tags[tag]++
	}

	e := &p.EngagementMetrics
	if in.SentimentScore != nil {
		e.SentimentSum += *in.SentimentScore
		e.SentimentCount++
	}
	impact := 0.0
	if in.ImpactLevel != nil {
		impact = float64(*in.ImpactLevel)
		e.ImpactSum += impact
		e.ImpactCount++
	} else if d, ok := DefaultImpact(in.InteractionType); ok {
		impact = float64(d)
	}
	e.RelationshipPoints += (1 + impact/10) / float64(1+prior)

	level := s.Sessions
	if pol.PointsPerLevel > 0 {
		level += int(math.Floor(e.RelationshipPoints / pol.PointsPerLevel))
	}
	if pol.Cap > 0 && level > pol.Cap {
		level = pol.Cap
	}
	if level > p.RelationshipLevel {
		p.RelationshipLevel = level
	}

	if in.Timestamp.After(p.LastSeen) {
		p.LastSeen = in.Timestamp
	}
	if p.FirstSeen.IsZero() || in.Timestamp.Before(p.FirstSeen) {
		p.FirstSeen = in.Timestamp
	}
	p.Preferences = foldPreferences(p.Preferences, s.Tags, in.Timestamp)
}

const favoriteTopics = 5

// foldPreferences refreshes favorite_topics, the most used tags, and counts the
// interaction in interaction_times under its UTC hour ("00" to "23"). Other keys are kept.
func foldPreferences(prefs models.Value, tags map[string]int, at time.Time) models.Value {
	if prefs.Kind() != models.KindMapping {
		prefs = models.EmptyMapping()
	}
	topics := make([]string, 0, len(tags))
	for t := range tags {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if tags[topics[i]] != tags[topics[j]] {
			return tags[topics[i]] > tags[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > favoriteTopics {
		topics = topics[:favoriteTopics]
	}
	list := make([]models.Value, 0, len(topics))
	for _, t := range topics {
		list = append(list, models.String(t))
	}
	prefs = prefs.With("favorite_topics", models.List(list...))

	if !at.IsZero() {
		hours := prefs.Get("interaction_times")
		if hours.Kind() != models.KindMapping {
			hours = models.EmptyMapping()
		}
		hour := fmt.Sprintf("%02d", at.UTC().Hour())
		n, _ := hours.Get(hour).AsNumber()
		prefs = prefs.With("interaction_times", hours.With(hour, models.Number(n+1)))
	}
	return prefs
}

// Interaction type weights, on the 0-10 impact scale.
var typeImpact = map[string]int{
	"donation":     8,
	"subscription": 7,
	"question":     6,
	"suggestion":   5,
	"strategy":     5,
	"chat":         3,
	"reaction":     2,
}

// DefaultImpact returns the impact level implied by an interaction type, if any.
func DefaultImpact(interactionType string) (int, bool) {
	v, ok := typeImpact[interactionType]
	return v, ok
}

var (
	gameWords     = []string{"game", "play", "level", "boss", "quest", "build", "item"}
	strategyWords = []string{"strategy", "tactic", "should", "try", "how to", "tip"}
	emotionWords  = []string{"love", "hate", "amazing", "sad", "happy", "wow", "lol"}
)

// NormalizeTags lowercases, trims and deduplicates caller tags, adds the tags derived
// from the message text and returns them sorted.
func NormalizeTags(tags []string, message *string) []string {
	set := make(map[string]struct{}, len(tags)+4)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	if message != nil {
		m := strings.ToLower(*message)
		if strings.Contains(m, "?") {
			set["question"] = struct{}{}
		}
		if containsAny(m, gameWords) {
			set["game_related"] = struct{}{}
		}
		if containsAny(m, strategyWords) {
			set["strategy"] = struct{}{}
		}
		if containsAny(m, emotionWords) {
			set["emotional"] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
