// Package highlights scores candidate moments of the active stream session and keeps the
// ones that stand out.
package highlights

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// Store persists highlights. CreateStreamHighlight must fail with
// memerr.ErrNoActiveSession unless the session is still active.
type Store interface {
	CreateStreamHighlight(ctx context.Context, h *models.StreamHighlight) error
	RecentHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error)
	TopHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error)
	SessionHighlights(ctx context.Context, sessionID uuid.UUID) ([]models.StreamHighlight, error)
}

// SessionGate hands out the active stream session under a shared lock.
type SessionGate interface {
	WithActive(ctx context.Context, fn func(s *models.StreamSession) error) error
}

// Publisher pushes live updates to stream session listeners.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// Config is the scoring policy.
type Config struct {
	Threshold       float64
	Window          int // baseline samples kept per session
	MinSamples      int // samples needed before rarity departs from neutral
	Keywords        []string
	DonationTrigger float64
}

// Tracker evaluates highlight candidates against a per-session rolling baseline.
type Tracker struct {
	store     Store
	gate      SessionGate
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	baselines map[uuid.UUID]*window
}

// NewTracker creates a highlight tracker. publisher may be nil.
func NewTracker(store Store, gate SessionGate, publisher Publisher, cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window < 1 {
		cfg.Window = 50
	}
	return &Tracker{
		store:     store,
		gate:      gate,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		baselines: make(map[uuid.UUID]*window),
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Evaluate scores c against the active stream session. It returns the created highlight,
// or nil when the score stays below the threshold. Game event candidates only count while
// the stream is attached to their game session.
func (t *Tracker) Evaluate(ctx context.Context, c models.HighlightCandidate) (*models.StreamHighlight, error) {
	var h *models.StreamHighlight
	err := t.gate.WithActive(ctx, func(s *models.StreamSession) error {
		if c.Source == models.SourceGameEvent && (c.GameSessionID == nil || !s.AttachedTo(*c.GameSessionID)) {
			return nil
		}
		b := t.observe(s.ID, c)
		res := Score(c, b, t.cfg)
		if res.Score < t.cfg.Threshold {
			return nil
		}
		ts := c.Timestamp
		if ts.IsZero() {
			ts = t.now()
		}
		h = &models.StreamHighlight{
			ID:                uuid.New(),
			SessionID:         s.ID,
			Timestamp:         ts,
			HighlightType:     Classify(c, res.Score),
			Description:       Describe(c),
			ViewerImpact:      viewerImpact(c, res),
			SignificanceScore: res.Score,
		}
		return t.store.CreateStreamHighlight(ctx, h)
	})
	if err != nil || h == nil {
		return nil, err
	}
	t.logger.Info("highlight recorded",
		zap.String("session_id", h.SessionID.String()),
		zap.String("highlight_type", h.HighlightType),
		zap.Float64("significance", h.SignificanceScore))
	if t.publisher != nil {
		t.publisher.Publish(h.SessionID, "highlight", h)
	}
	return h, nil
}

func viewerImpact(c models.HighlightCandidate, res Breakdown) models.Value {
	v := models.Mapping(map[string]models.Value{
		"source":    models.String(string(c.Source)),
		"source_id": models.String(c.SourceID.String()),
		"rarity":    models.Number(res.Rarity),
		"donation":  models.Bool(res.Donation),
	})
	if res.Magnitude != nil {
		v = v.With("magnitude", models.Number(*res.Magnitude))
	}
	if res.Keyword != "" {
		v = v.With("keyword", models.String(res.Keyword))
	}
	if c.Username != "" {
		v = v.With("username", models.String(c.Username))
	}
	if c.GameSessionID != nil {
		v = v.With("game_session_id", models.String(c.GameSessionID.String()))
	}
	if c.Impact != nil {
		v = v.With("impact", models.Number(*c.Impact))
	}
	if c.Sentiment != nil {
		v = v.With("sentiment", models.Number(*c.Sentiment))
	}
	return v
}

// observe returns the baseline before c and then adds c's magnitude to it.
func (t *Tracker) observe(sessionID uuid.UUID, c models.HighlightCandidate) Baseline {
	m, ok := Magnitude(c)
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.baselines[sessionID]
	if w == nil {
		w = &window{size: t.cfg.Window}
		t.baselines[sessionID] = w
	}
	b := w.stats()
	if ok {
		w.add(m)
	}
	return b
}

// Forget drops the baseline of a session that ended.
func (t *Tracker) Forget(sessionID uuid.UUID) {
	t.mu.Lock()
	delete(t.baselines, sessionID)
	t.mu.Unlock()
}

// Recent returns a session's newest highlights.
func (t *Tracker) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	if limit <= 0 {
		limit = 5
	}
	return t.store.RecentHighlights(ctx, sessionID, limit)
}

// Top returns a session's most significant highlights.
func (t *Tracker) Top(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	if limit <= 0 {
		limit = 5
	}
	return t.store.TopHighlights(ctx, sessionID, limit)
}

// TypeCount is one row of a highlight type distribution.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// HourCount is the number of highlights in one hour of the day (UTC).
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// TrendReport summarizes a session's highlights.
type TrendReport struct {
	SessionID       uuid.UUID   `json:"session_id"`
	Total           int         `json:"total_highlights"`
	PopularTypes    []TypeCount `json:"popular_types"`
	AvgSignificance *float64    `json:"avg_significance,omitempty"`
	PerHour         *float64    `json:"highlights_per_hour,omitempty"`
	PeakHours       []HourCount `json:"peak_hours"`
}

// Trends reports the type distribution, average significance and frequency of a
// session's highlights.
func (t *Tracker) Trends(ctx context.Context, sessionID uuid.UUID) (*TrendReport, error) {
	list, err := t.store.SessionHighlights(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return BuildTrends(sessionID, list), nil
}

// BuildTrends computes a TrendReport from highlights in timestamp order.
func BuildTrends(sessionID uuid.UUID, list []models.StreamHighlight) *TrendReport {
	r := &TrendReport{SessionID: sessionID, Total: len(list), PopularTypes: []TypeCount{}, PeakHours: []HourCount{}}
	if len(list) == 0 {
		return r
	}
	types := map[string]int{}
	hours := map[int]int{}
	sum := 0.0
	first, last := list[0].Timestamp, list[0].Timestamp
	for _, h := range list {
		types[h.HighlightType]++
		hours[h.Timestamp.UTC().Hour()]++
		sum += h.SignificanceScore
		if h.Timestamp.Before(first) {
			first = h.Timestamp
		}
		if h.Timestamp.After(last) {
			last = h.Timestamp
		}
	}
	avg := sum / float64(len(list))
	r.AvgSignificance = &avg
	if span := last.Sub(first).Hours(); span > 0 {
		per := float64(len(list)) / span
		r.PerHour = &per
	}
	for k, n := range types {
		r.PopularTypes = append(r.PopularTypes, TypeCount{Type: k, Count: n})
	}
	sort.Slice(r.PopularTypes, func(i, j int) bool {
		a, b := r.PopularTypes[i], r.PopularTypes[j]
		return a.Count > b.Count || (a.Count == b.Count && a.Type < b.Type)
	})
	for h, n := range hours {
		r.PeakHours = append(r.PeakHours, HourCount{Hour: h, Count: n})
	}
	sort.Slice(r.PeakHours, func(i, j int) bool {
		a, b := r.PeakHours[i], r.PeakHours[j]
		return a.Count > b.Count || (a.Count == b.Count && a.Hour < b.Hour)
	})
	if len(r.PeakHours) > 3 {
		r.PeakHours = r.PeakHours[:3]
	}
	return r
}

// Baseline is the summary of recent magnitudes in one session.
type Baseline struct {
	N    int
	Mean float64
	Std  float64
}

// window is a fixed size ring of magnitudes.
type window struct {
	size    int
	samples []float64
	next    int
}

func (w *window) add(v float64) {
	if len(w.samples) < w.size {
		w.samples = append(w.samples, v)
		return
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % w.size
}

func (w *window) stats() Baseline {
	n := len(w.samples)
	if n == 0 {
		return Baseline{}
	}
	var mean, m2 float64
	for i, v := range w.samples {
		d := v - mean
		mean += d / float64(i+1)
		m2 += d * (v - mean)
	}
	b := Baseline{N: n, Mean: mean}
	if n > 1 {
		b.Std = math.Sqrt(m2 / float64(n-1))
	}
	return b
}
