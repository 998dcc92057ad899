// Package worker processes background jobs: analytics windows and session archives.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/analytics"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/archive"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/queue"
)

// Source hands out jobs and takes back the failed ones.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Aggregator computes analytics for a window.
type Aggregator interface {
	AggregateWindow(ctx context.Context, metricTypes []string, start, end time.Time) *analytics.WindowResult
}

// Archiver snapshots an ended session.
type Archiver interface {
	Archive(ctx context.Context, kind queue.SessionKind, id uuid.UUID) (*archive.Result, error)
}

// Processor pulls jobs from a Source and runs them on a bounded goroutine pool.
type Processor struct {
	source     Source
	aggregator Aggregator
	archiver   Archiver
	metrics    []string
	pool       *ants.Pool
	backoff    time.Duration
	logger     *zap.Logger
}

// NewProcessor creates a processor running at most size jobs at once. metrics is the
// default metric list for analytics jobs that name none. archiver may be nil when no
// object storage is configured; archive jobs then fail and end up in the DLQ.
func NewProcessor(source Source, aggregator Aggregator, archiver Archiver, metrics []string, size int, logger *zap.Logger) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size < 1 {
		size = 4
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("job panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	return &Processor{
		source:     source,
		aggregator: aggregator,
		archiver:   archiver,
		metrics:    metrics,
		pool:       pool,
		backoff:    queue.RetryBackoff,
		logger:     logger,
	}, nil
}

// SetBackoff changes the pause after a dequeue error.
func (p *Processor) SetBackoff(d time.Duration) { p.backoff = d }

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent job failure")

// Process executes one job. The job's payload is rewritten to the still-failing part when
// only some metrics of an analytics window fail.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeAnalyticsWindow:
		var payload queue.AnalyticsWindowPayload
		if err := job.Decode(&payload); err != nil {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		metrics := payload.Metrics
		if len(metrics) == 0 {
			metrics = p.metrics
		}
		res := p.aggregator.AggregateWindow(ctx, metrics, payload.Start, payload.End)
		if len(res.Failed) == 0 {
			p.logger.Info("analytics window aggregated", zap.Time("start", payload.Start), zap.Time("end", payload.End),
				zap.Int("metrics", len(res.Analytics)))
			return nil
		}
		failed := make([]string, 0, len(res.Failed))
		retryable := false
		for mt, err := range res.Failed {
			failed = append(failed, mt)
			if !memerr.IsValidation(err) {
				retryable = true
			}
		}
		if !retryable {
			return fmt.Errorf("%w: %v", errPermanent, res.Err())
		}
		payload.Metrics = failed
		rewritten, err := queue.NewJob(job.Type, payload)
		if err == nil {
			job.Payload = rewritten.Payload
		}
		return res.Err()

	case queue.JobTypeSessionArchive:
		var payload queue.SessionArchivePayload
		if err := job.Decode(&payload); err != nil {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		if p.archiver == nil {
			return errors.New("archive storage is not configured")
		}
		_, err := p.archiver.Archive(ctx, payload.Kind, payload.SessionID)
		if err != nil && (memerr.IsNotFound(err) || memerr.IsValidation(err) || memerr.IsInvalidState(err)) {
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return err
	}
	return fmt.Errorf("%w: unknown job type %s", errPermanent, job.Type)
}

// handle runs a job and re-enqueues it on a retryable failure.
func (p *Processor) handle(ctx context.Context, job *queue.Job) {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		return
	}
	if errors.Is(err, errPermanent) {
		p.logger.Error("job dropped", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
		return
	}
	p.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if reErr := p.source.Retry(ctx, job); reErr != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
	}
}

// Run dequeues until ctx is done, then waits for running jobs and releases the pool.
func (p *Processor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		p.pool.Release()
		p.logger.Info("worker stopped")
	}()
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := p.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.backoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			p.handle(ctx, job)
		}); err != nil {
			wg.Done()
			p.logger.Error("submit job", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.source.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
		}
	}
}
