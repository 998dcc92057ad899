// Package analytics aggregates events and interactions over time windows and keeps the
// learning history.
package analytics

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// Store is the persistence the engine needs. Window reads cover [start, end).
// UpsertPerformanceAnalytic replaces the record of the same (metric type, start, end)
// in a single statement and returns the stored row.
type Store interface {
	WindowGameEvents(ctx context.Context, start, end time.Time) ([]models.EventSample, error)
	WindowInteractions(ctx context.Context, start, end time.Time) ([]models.InteractionSample, error)
	WindowHighlights(ctx context.Context, start, end time.Time) ([]models.HighlightSample, error)
	UpsertPerformanceAnalytic(ctx context.Context, a *models.PerformanceAnalytic) (*models.PerformanceAnalytic, error)
	ListPerformanceAnalytics(ctx context.Context, f models.AnalyticsFilter) ([]models.PerformanceAnalytic, error)

	CreateLearning(ctx context.Context, e *models.LearningHistoryEntry) error
	UpdateLearningResult(ctx context.Context, id uuid.UUID, results models.Value, effectiveness *float64) (*models.LearningHistoryEntry, error)
	ListLearning(ctx context.Context, category string, limit int) ([]models.LearningHistoryEntry, error)
}

// SessionReader reads stream sessions for SessionReport.
type SessionReader interface {
	GetStreamSession(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
	StreamSessionStats(ctx context.Context, id uuid.UUID) (*models.SessionStats, error)
}

// Config is the aggregation policy.
type Config struct {
	TopK             int
	NotableThreshold float64 // impact above which a game event counts as notable
	Parallelism      int     // metrics aggregated at once by AggregateWindow
}

// Engine computes PerformanceAnalytic records.
type Engine struct {
	store    Store
	sessions SessionReader
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an analytics engine.
func NewEngine(store Store, sessions SessionReader, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Engine{store: store, sessions: sessions, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ValidMetric reports whether metricType is supported.
func ValidMetric(metricType string) bool {
	for _, t := range models.MetricTypes {
		if t == metricType {
			return true
		}
	}
	return false
}

// Aggregate computes metricType over [start, end) and writes one PerformanceAnalytic.
// Re-running a window overwrites its record. Nothing is written unless the whole
// aggregate was computed.
func (e *Engine) Aggregate(ctx context.Context, metricType string, start, end time.Time) (*models.PerformanceAnalytic, error) {
	const op = "analytics.Aggregate"
	if !ValidMetric(metricType) {
		return nil, memerr.Validation(op, "unknown metric type "+metricType)
	}
	if !end.After(start) {
		return nil, memerr.Validation(op, "window end must be after start")
	}
	start, end = start.UTC(), end.UTC()

	var data, insights models.Value
	var err error
	switch metricType {
	case models.MetricGameEvents:
		data, insights, err = e.gameEvents(ctx, start, end)
	case models.MetricViewerInteractions:
		data, insights, err = e.viewerInteractions(ctx, start, end)
	case models.MetricEngagement:
		data, insights, err = e.engagement(ctx, start, end)
	case models.MetricRetention:
		data, insights, err = e.retention(ctx, start, end)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := e.store.UpsertPerformanceAnalytic(ctx, &models.PerformanceAnalytic{
		ID:          uuid.New(),
		Timestamp:   e.now(),
		MetricType:  metricType,
		PeriodStart: start,
		PeriodEnd:   end,
		MetricData:  data,
		Insights:    insights,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("window aggregated", zap.String("metric_type", metricType), zap.Time("start", start), zap.Time("end", end))
	return a, nil
}

// WindowResult is the outcome of AggregateWindow. Failed maps metric types to errors.
type WindowResult struct {
	Analytics []*models.PerformanceAnalytic
	Failed    map[string]error
}

// Err joins the failures, or nil.
func (r *WindowResult) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, err := range r.Failed {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AggregateWindow runs Aggregate for every metric type concurrently. A failing metric does
// not stop the others.
func (e *Engine) AggregateWindow(ctx context.Context, metricTypes []string, start, end time.Time) *WindowResult {
	res := &WindowResult{Failed: map[string]error{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for _, mt := range metricTypes {
		mt := mt
		g.Go(func() error {
			a, err := e.Aggregate(gctx, mt, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[mt] = err
				return nil
			}
			res.Analytics = append(res.Analytics, a)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// List returns stored aggregates newest window first.
func (e *Engine) List(ctx context.Context, f models.AnalyticsFilter) ([]models.PerformanceAnalytic, error) {
	if f.MetricType != "" && !ValidMetric(f.MetricType) {
		return nil, memerr.Validation("analytics.List", "unknown metric type "+f.MetricType)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	return e.store.ListPerformanceAnalytics(ctx, f)
}

// position maps t onto [0, 1] across the window.
func position(t, start, end time.Time) float64 {
	return t.Sub(start).Seconds() / end.Sub(start).Seconds()
}

func direction(slope float64, ok bool) string {
	switch {
	case !ok || math.Abs(slope) < 1e-9:
		return "flat"
	case slope > 0:
		return "rising"
	default:
		return "falling"
	}
}

func withTrend(v models.Value, key string, t *Trend) (models.Value, string) {
	slope, ok := t.Slope()
	if ok {
		v = v.With(key, models.Number(slope))
	}
	return v, direction(slope, ok)
}

func (e *Engine) gameEvents(ctx context.Context, start, end time.Time) (models.Value, models.Value, error) {
	events, err := e.store.WindowGameEvents(ctx, start, end)
	if err != nil {
		return models.Null(), models.Null(), err
	}
	types, cats := Counter{}, Counter{}
	sessions := map[uuid.UUID]struct{}{}
	var impact Running
	var trend Trend
	notable := 0
	for _, ev := range events {
		types[ev.EventType]++
		cats[ev.Category]++
		sessions[ev.SessionID] = struct{}{}
		if ev.ImpactScore != nil {
			impact.Add(*ev.ImpactScore)
			trend.Add(position(ev.Timestamp, start, end), *ev.ImpactScore)
			if *ev.ImpactScore > e.cfg.NotableThreshold {
				notable++
			}
		}
	}
	data := models.Mapping(map[string]models.Value{
		"total_events":   models.Int(len(events)),
		"game_sessions":  models.Int(len(sessions)),
		"notable_events": models.Int(notable),
		"by_type":        types.Value(),
		"by_category":    cats.Value(),
		"top_types":      types.TopKValue(e.cfg.TopK),
		"top_categories": cats.TopKValue(e.cfg.TopK),
		"impact":         impact.Value(),
	})
	data, dir := withTrend(data, "impact_trend", &trend)

	insights := models.Mapping(map[string]models.Value{"impact_direction": models.String(dir)})
	if top := types.TopK(1); len(top) > 0 {
		insights = insights.With("dominant_event_type", models.String(top[0]))
	}
	if top := cats.TopK(1); len(top) > 0 {
		insights = insights.With("dominant_category", models.String(top[0]))
	}
	if len(events) > 0 {
		insights = insights.With("notable_ratio", models.Number(float64(notable)/float64(len(events))))
	}
	return data, insights, nil
}

func (e *Engine) viewerInteractions(ctx context.Context, start, end time.Time) (models.Value, models.Value, error) {
	list, err := e.store.WindowInteractions(ctx, start, end)
	if err != nil {
		return models.Null(), models.Null(), err
	}
	types, tags := Counter{}, Counter{}
	viewers := map[uuid.UUID]struct{}{}
	var sentiment, impact Running
	var trend Trend
	for _, in := range list {
		types[in.InteractionType]++
		for _, t := range in.ContextTags {
			tags[t]++
		}
		if in.ViewerID != nil {
			viewers[*in.ViewerID] = struct{}{}
		}
		if in.SentimentScore != nil {
			sentiment.Add(*in.SentimentScore)
			trend.Add(position(in.Timestamp, start, end), *in.SentimentScore)
		}
		if in.ImpactLevel != nil {
			impact.Add(float64(*in.ImpactLevel))
		}
	}
	data := models.Mapping(map[string]models.Value{
		"total_interactions": models.Int(len(list)),
		"unique_viewers":     models.Int(len(viewers)),
		"by_type":            types.Value(),
		"top_types":          types.TopKValue(e.cfg.TopK),
		"top_tags":           tags.TopKValue(e.cfg.TopK),
		"sentiment":          sentiment.Value(),
		"impact_level":       impact.Value(),
	})
	data, dir := withTrend(data, "sentiment_trend", &trend)

	insights := models.Mapping(map[string]models.Value{"sentiment_direction": models.String(dir)})
	if m := sentiment.Mean(); m != nil {
		insights = insights.With("mood", models.String(mood(*m)))
	}
	if top := types.TopK(1); len(top) > 0 {
		insights = insights.With("dominant_interaction_type", models.String(top[0]))
	}
	if top := tags.TopK(1); len(top) > 0 {
		insights = insights.With("dominant_tag", models.String(top[0]))
	}
	return data, insights, nil
}

func mood(avg float64) string {
	switch {
	case avg >= 0.3:
		return "positive"
	case avg <= -0.3:
		return "negative"
	default:
		return "neutral"
	}
}

// Viewer engagement segments by interactions in the window.
const (
	highlyEngagedMin     = 10
	moderatelyEngagedMin = 3
)

func (e *Engine) engagement(ctx context.Context, start, end time.Time) (models.Value, models.Value, error) {
	list, err := e.store.WindowInteractions(ctx, start, end)
	if err != nil {
		return models.Null(), models.Null(), err
	}
	hl, err := e.store.WindowHighlights(ctx, start, end)
	if err != nil {
		return models.Null(), models.Null(), err
	}
	perViewer := map[uuid.UUID]int{}
	sessions := map[uuid.UUID]struct{}{}
	for _, in := range list {
		sessions[in.SessionID] = struct{}{}
		if in.ViewerID != nil {
			perViewer[*in.ViewerID]++
		}
	}
	var perViewerStats Running
	segments := Counter{"highly_engaged": 0, "moderately_engaged": 0, "low_engagement": 0}
	for _, n := range perViewer {
		perViewerStats.Add(float64(n))
		switch {
		case n >= highlyEngagedMin:
			segments["highly_engaged"]++
		case n >= moderatelyEngagedMin:
			segments["moderately_engaged"]++
		default:
			segments["low_engagement"]++
		}
	}
	hTypes := Counter{}
	var significance Running
	for _, h := range hl {
		sessions[h.SessionID] = struct{}{}
		hTypes[h.HighlightType]++
		significance.Add(h.SignificanceScore)
	}
	minutes := end.Sub(start).Minutes()
	data := models.Mapping(map[string]models.Value{
		"stream_sessions":         models.Int(len(sessions)),
		"total_interactions":      models.Int(len(list)),
		"interactions_per_minute": models.Number(float64(len(list)) / minutes),
		"interactions_per_viewer": perViewerStats.Value(),
		"viewer_segments":         segments.Value(),
		"highlight_count":         models.Int(len(hl)),
		"highlights_per_hour":     models.Number(float64(len(hl)) / (minutes / 60)),
		"highlight_types":         hTypes.TopKValue(e.cfg.TopK),
		"highlight_significance":  significance.Value(),
	})
	insights := models.EmptyMapping()
	if len(perViewer) > 0 {
		insights = insights.With("highly_engaged_ratio", models.Number(float64(segments["highly_engaged"])/float64(len(perViewer))))
	}
	if top := hTypes.TopK(1); len(top) > 0 {
		insights = insights.With("dominant_highlight_type", models.String(top[0]))
	}
	return data, insights, nil
}

func (e *Engine) retention(ctx context.Context, start, end time.Time) (models.Value, models.Value, error) {
	list, err := e.store.WindowInteractions(ctx, start, end)
	if err != nil {
		return models.Null(), models.Null(), err
	}
	type seen struct {
		returning bool
		count     int
		sessions  map[uuid.UUID]struct{}
	}
	viewers := map[uuid.UUID]*seen{}
	for _, in := range list {
		if in.ViewerID == nil {
			continue
		}
		v := viewers[*in.ViewerID]
		if v == nil {
			v = &seen{sessions: map[uuid.UUID]struct{}{}}
			v.returning = in.ViewerFirstSeen != nil && in.ViewerFirstSeen.Before(start)
			viewers[*in.ViewerID] = v
		}
		v.count++
		v.sessions[in.SessionID] = struct{}{}
	}
	returning, multi := 0, 0
	var perViewer Running
	for _, v := range viewers {
		if v.returning {
			returning++
		}
		if len(v.sessions) > 1 {
			multi++
		}
		perViewer.Add(float64(v.count))
	}
	data := models.Mapping(map[string]models.Value{
		"unique_viewers":          models.Int(len(viewers)),
		"returning_viewers":       models.Int(returning),
		"new_viewers":             models.Int(len(viewers) - returning),
		"multi_session_viewers":   models.Int(multi),
		"interactions_per_viewer": perViewer.Value(),
	})
	insights := models.EmptyMapping()
	if len(viewers) > 0 {
		rate := float64(returning) / float64(len(viewers))
		data = data.With("retention_rate", models.Number(rate))
		insights = insights.With("audience", models.String(audience(rate)))
	}
	return data, insights, nil
}

func audience(retention float64) string {
	switch {
	case retention >= 0.6:
		return "loyal"
	case retention >= 0.3:
		return "mixed"
	default:
		return "mostly_new"
	}
}

// RecordLearning appends a learning history entry.
func (e *Engine) RecordLearning(ctx context.Context, category string, pattern models.Value, effectiveness *float64) (*models.LearningHistoryEntry, error) {
	const op = "analytics.RecordLearning"
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, memerr.Validation(op, "category is required")
	}
	if err := checkEffectiveness(op, effectiveness); err != nil {
		return nil, err
	}
	if pattern.IsNull() {
		pattern = models.EmptyMapping()
	}
	entry := &models.LearningHistoryEntry{
		ID:                 uuid.New(),
		Timestamp:          e.now(),
		Category:           category,
		LearnedPattern:     pattern,
		EffectivenessScore: effectiveness,
	}
	if err := e.store.CreateLearning(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyLearningResult back-fills the outcome of reusing a learned pattern.
func (e *Engine) ApplyLearningResult(ctx context.Context, id uuid.UUID, results models.Value, effectiveness *float64) (*models.LearningHistoryEntry, error) {
	const op = "analytics.ApplyLearningResult"
	if results.IsNull() && effectiveness == nil {
		return nil, memerr.Validation(op, "application_results or effectiveness_score required")
	}
	if err := checkEffectiveness(op, effectiveness); err != nil {
		return nil, err
	}
	return e.store.UpdateLearningResult(ctx, id, results, effectiveness)
}

func checkEffectiveness(op string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
		return memerr.Validation(op, "effectiveness_score must be within [0, 1]")
	}
	return nil
}

// ListLearning returns entries newest first; an empty category lists all.
func (e *Engine) ListLearning(ctx context.Context, category string, limit int) ([]models.LearningHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListLearning(ctx, strings.TrimSpace(category), limit)
}

// SessionReport is the per-stream summary served to the conversational layer.
type SessionReport struct {
	models.SessionStats
	Title           *string  `json:"title,omitempty"`
	Status          string   `json:"status"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// SessionReport summarizes one stream session's audience and highlights.
func (e *Engine) SessionReport(ctx context.Context, streamSessionID uuid.UUID) (*SessionReport, error) {
	s, err := e.sessions.GetStreamSession(ctx, streamSessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, memerr.NotFound("analytics.SessionReport", "stream session "+streamSessionID.String())
	}
	st, err := e.sessions.StreamSessionStats(ctx, streamSessionID)
	if err != nil {
		return nil, err
	}
	r := &SessionReport{SessionStats: *st, Title: s.Title, Status: string(s.Status)}
	end := e.now()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	d := end.Sub(s.StartTime).Seconds()
	r.DurationSeconds = &d
	return r, nil
}
