package events

import "github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"

// priorityKey is the event_data entry carrying the classified priority.
const priorityKey = "_priority"

// Priority ranks how strongly an event should be remembered.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "low"
	}
}

var basePriority = map[string]Priority{
	"boss_fight":  PriorityCritical,
	"boss_death":  PriorityHigh,
	"achievement": PriorityHigh,
	"death":       PriorityHigh,
	"discovery":   PriorityMedium,
	"combat":      PriorityMedium,
	"interaction": PriorityMedium,
	"mining":      PriorityLow,
	"crafting":    PriorityLow,
	"movement":    PriorityLow,
}

// Classify ranks an event by type (falling back to category), raised one step each for
// difficulty above 0.7, rare rarity, a first-time flag, a critical moment and goal relevance.
func Classify(eventType, category string, data models.Value) Priority {
	p, ok := basePriority[eventType]
	if !ok {
		if p, ok = basePriority[category]; !ok {
			p = PriorityLow
		}
	}
	bump := func() {
		if p < PriorityCritical {
			p++
		}
	}
	if d, ok := data.Get("difficulty").AsNumber(); ok && d > 0.7 {
		bump()
	}
	if r, ok := data.Get("rarity").AsString(); ok && r == "rare" {
		bump()
	}
	for _, flag := range []string{"first_time", "critical_moment", "goal_related"} {
		if b, ok := data.Get(flag).AsBool(); ok && b {
			bump()
		}
	}
	return p
}
