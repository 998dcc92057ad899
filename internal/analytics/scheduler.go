package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Window is one aggregation period [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AlignedWindow returns the last complete period before now, aligned to the period.
func AlignedWindow(now time.Time, period time.Duration) Window {
	end := now.UTC().Truncate(period)
	return Window{Start: end.Add(-period), End: end}
}

type pendingKey struct {
	metric string
	window Window
}

// Scheduler aggregates every completed window on a cron schedule. Windows that fail stay
// pending and are retried on the next run, never inline.
type Scheduler struct {
	engine  *Engine
	spec    string
	period  time.Duration
	metrics []string
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[pendingKey]struct{}
	running sync.Mutex
}

// NewScheduler creates a scheduler running spec (cron syntax or "@every 15m") over windows
// of period for the given metric types.
func NewScheduler(engine *Engine, spec string, period time.Duration, metrics []string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:  engine,
		spec:    spec,
		period:  period,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		pending: make(map[pendingKey]struct{}),
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Run schedules RunOnce and blocks until ctx is cancelled. A run in progress sees the
// cancellation through its context and writes nothing further.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	s.logger.Info("analytics scheduler started", zap.String("schedule", s.spec), zap.Duration("period", s.period))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("analytics scheduler stopped")
	return nil
}

// Enqueue marks a window for aggregation on the next run.
func (s *Scheduler) Enqueue(w Window, metrics ...string) {
	if len(metrics) == 0 {
		metrics = s.metrics
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metrics {
		s.pending[pendingKey{metric: m, window: w}] = struct{}{}
	}
}

// Pending lists windows still waiting for aggregation.
func (s *Scheduler) Pending() []Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[Window]struct{}{}
	out := []Window{}
	for k := range s.pending {
		if _, ok := seen[k.window]; !ok {
			seen[k.window] = struct{}{}
			out = append(out, k.window)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// RunOnce enqueues the latest complete window and aggregates everything pending. It
// returns the number of windows still pending afterwards.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.running.Lock()
	defer s.running.Unlock()

	s.Enqueue(AlignedWindow(s.now(), s.period))

	byWindow := map[Window][]string{}
	s.mu.Lock()
	for k := range s.pending {
		byWindow[k.window] = append(byWindow[k.window], k.metric)
	}
	s.mu.Unlock()

	for w, metrics := range byWindow {
		if ctx.Err() != nil {
			break
		}
		sort.Strings(metrics)
		res := s.engine.AggregateWindow(ctx, metrics, w.Start, w.End)
		s.mu.Lock()
		for _, m := range metrics {
			if _, failed := res.Failed[m]; !failed {
				delete(s.pending, pendingKey{metric: m, window: w})
			}
		}
		s.mu.Unlock()
		for m, err := range res.Failed {
			s.logger.Warn("window aggregation failed, retrying next run",
				zap.String("metric_type", m), zap.Time("start", w.Start), zap.Time("end", w.End), zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
