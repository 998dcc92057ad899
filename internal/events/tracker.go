// Package events records game events against the active game session.
package events

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// Store appends events. AppendGameEvent must re-check inside its unit of work that the
// parent session is still active (memerr.ErrNoActiveSession otherwise); when fold is
// non-nil it replaces the session's notable_events with fold(current) in the same unit.
type Store interface {
	AppendGameEvent(ctx context.Context, ev *models.GameEvent, fold func([]models.NotableEvent) []models.NotableEvent) error
	ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error)
}

// SessionGate hands out the active game session under a shared lock.
type SessionGate interface {
	WithActive(ctx context.Context, fn func(s *models.GameSession) error) error
}

// HighlightEvaluator turns candidates into highlights of the active stream.
type HighlightEvaluator interface {
	Evaluate(ctx context.Context, c models.HighlightCandidate) (*models.StreamHighlight, error)
}

// Config holds the notable-event policy.
type Config struct {
	NotableThreshold float64
	NotableRetention int
}

// RecordParams are the inputs of Record.
type RecordParams struct {
	EventType   string       `json:"event_type"`
	Category    string       `json:"category"`
	Data        models.Value `json:"data"`
	ImpactScore *float64     `json:"impact_score,omitempty"`
}

// Tracker validates and appends game events.
type Tracker struct {
	store      Store
	gate       SessionGate
	highlights HighlightEvaluator
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewTracker creates an event tracker. highlights may be nil.
func NewTracker(store Store, gate SessionGate, highlights HighlightEvaluator, cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NotableRetention < 1 {
		cfg.NotableRetention = 50
	}
	return &Tracker{store: store, gate: gate, highlights: highlights, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Record appends an event to the active game session. Events whose impact exceeds the
// notable threshold are also folded into the session's notable_events.
func (t *Tracker) Record(ctx context.Context, p RecordParams) (*models.GameEvent, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	data := p.Data
	if data.IsNull() {
		data = models.EmptyMapping()
	}
	if data.Kind() == models.KindMapping && !data.Has(priorityKey) {
		data = data.With(priorityKey, models.String(Classify(p.EventType, p.Category, data).String()))
	}

	var ev *models.GameEvent
	err := t.gate.WithActive(ctx, func(s *models.GameSession) error {
		ev = &models.GameEvent{
			ID:            uuid.New(),
			SessionID:     s.ID,
			Timestamp:     t.now(),
			EventType:     strings.TrimSpace(p.EventType),
			EventCategory: strings.TrimSpace(p.Category),
			EventData:     data,
			ImpactScore:   p.ImpactScore,
		}
		var fold func([]models.NotableEvent) []models.NotableEvent
		if t.notable(ev) {
			entry := toNotable(ev)
			fold = func(cur []models.NotableEvent) []models.NotableEvent {
				return FoldNotable(cur, entry, t.cfg.NotableRetention)
			}
		}
		return t.store.AppendGameEvent(ctx, ev, fold)
	})
	if err != nil {
		return nil, err
	}

	if t.highlights != nil {
		sid := ev.SessionID
		_, herr := t.highlights.Evaluate(ctx, models.HighlightCandidate{
			Source:        models.SourceGameEvent,
			SourceID:      ev.ID,
			GameSessionID: &sid,
			Timestamp:     ev.Timestamp,
			Type:          ev.EventType,
			Category:      ev.EventCategory,
			Impact:        ev.ImpactScore,
			Data:          ev.EventData,
		})
		if herr != nil && !memerr.IsNoActiveSession(herr) {
			t.logger.Warn("highlight evaluation failed", zap.String("event_id", ev.ID.String()), zap.Error(herr))
		}
	}
	return ev, nil
}

func (t *Tracker) notable(ev *models.GameEvent) bool {
	return ev.ImpactScore != nil && *ev.ImpactScore > t.cfg.NotableThreshold
}

// List returns a session's events newest first, optionally filtered by category.
func (t *Tracker) List(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return t.store.ListGameEvents(ctx, sessionID, category, limit)
}

func validate(p RecordParams) error {
	const op = "events.Record"
	if strings.TrimSpace(p.EventType) == "" {
		return memerr.Validation(op, "event_type is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return memerr.Validation(op, "category is required")
	}
	if p.ImpactScore != nil && (math.IsNaN(*p.ImpactScore) || math.IsInf(*p.ImpactScore, 0)) {
		return memerr.Validation(op, "impact_score must be finite")
	}
	return nil
}

func toNotable(ev *models.GameEvent) models.NotableEvent {
	return models.NotableEvent{
		EventID:     ev.ID,
		Timestamp:   ev.Timestamp,
		EventType:   ev.EventType,
		Category:    ev.EventCategory,
		ImpactScore: *ev.ImpactScore,
		Data:        ev.EventData,
	}
}

// FoldNotable inserts e into list keeping timestamp order (ties keep arrival order) and
// evicts the oldest entries beyond retention. list is not modified.
func FoldNotable(list []models.NotableEvent, e models.NotableEvent, retention int) []models.NotableEvent {
	out := make([]models.NotableEvent, 0, len(list)+1)
	inserted := false
	for _, cur := range list {
		if !inserted && e.Timestamp.Before(cur.Timestamp) {
			out = append(out, e)
			inserted = true
		}
		out = append(out, cur)
	}
	if !inserted {
		out = append(out, e)
	}
	if retention > 0 && len(out) > retention {
		out = out[len(out)-retention:]
	}
	return out
}
