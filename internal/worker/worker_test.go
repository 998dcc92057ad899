package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/analytics"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/archive"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/queue"
)

type fakeSource struct {
	jobs    chan *queue.Job
	mu      sync.Mutex
	retried []*queue.Job
}

func (f *fakeSource) Dequeue(ctx context.Context) (*queue.Job, error) {
	select {
	case j := <-f.jobs:
		return j, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeSource) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Attempt++
	f.retried = append(f.retried, job)
	return nil
}

func (f *fakeSource) retries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retried)
}

type fakeAggregator struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]error
}

func (f *fakeAggregator) AggregateWindow(_ context.Context, metrics []string, start, end time.Time) *analytics.WindowResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, metrics)
	res := &analytics.WindowResult{Failed: map[string]error{}}
	for _, m := range metrics {
		if err := f.fail[m]; err != nil {
			res.Failed[m] = err
			continue
		}
		res.Analytics = append(res.Analytics, &models.PerformanceAnalytic{MetricType: m, PeriodStart: start, PeriodEnd: end})
	}
	return res
}

type fakeArchiver struct {
	err error
	ids []uuid.UUID
}

func (f *fakeArchiver) Archive(_ context.Context, kind queue.SessionKind, id uuid.UUID) (*archive.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ids = append(f.ids, id)
	return &archive.Result{Kind: kind, SessionID: id}, nil
}

func job(t *testing.T, typ queue.JobType, payload interface{}) *queue.Job {
	t.Helper()
	j, err := queue.NewJob(typ, payload)
	require.NoError(t, err)
	return j
}

func TestProcessAnalyticsUsesDefaultMetrics(t *testing.T) {
	agg := &fakeAggregator{}
	p, err := NewProcessor(&fakeSource{}, agg, nil, models.MetricTypes, 2, nil)
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err = p.Process(context.Background(), job(t, queue.JobTypeAnalyticsWindow, queue.AnalyticsWindowPayload{Start: start, End: start.Add(15 * time.Minute)}))
	require.NoError(t, err)
	require.Len(t, agg.calls, 1)
	assert.Equal(t, models.MetricTypes, agg.calls[0])
}

func TestProcessAnalyticsNarrowsRetryToFailedMetrics(t *testing.T) {
	agg := &fakeAggregator{fail: map[string]error{models.MetricRetention: memerr.Store("analytics.Upsert", errors.New("down"))}}
	p, err := NewProcessor(&fakeSource{}, agg, nil, models.MetricTypes, 2, nil)
	require.NoError(t, err)

	j := job(t, queue.JobTypeAnalyticsWindow, queue.AnalyticsWindowPayload{})
	err = p.Process(context.Background(), j)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errPermanent)

	var payload queue.AnalyticsWindowPayload
	require.NoError(t, j.Decode(&payload))
	assert.Equal(t, []string{models.MetricRetention}, payload.Metrics)
}

func TestProcessArchiveClassifiesFailures(t *testing.T) {
	arch := &fakeArchiver{}
	p, err := NewProcessor(&fakeSource{}, &fakeAggregator{}, arch, nil, 1, nil)
	require.NoError(t, err)
	id := uuid.New()
	j := job(t, queue.JobTypeSessionArchive, queue.SessionArchivePayload{Kind: queue.KindStreamSession, SessionID: id})

	require.NoError(t, p.Process(context.Background(), j))
	assert.Equal(t, []uuid.UUID{id}, arch.ids)

	arch.err = memerr.InvalidState("archive.Archive", "stream session is active")
	assert.ErrorIs(t, p.Process(context.Background(), j), errPermanent)

	arch.err = memerr.Store("archive.Archive", errors.New("s3 down"))
	err = p.Process(context.Background(), j)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errPermanent)
}

func TestProcessRejectsUnknownJobs(t *testing.T) {
	p, err := NewProcessor(&fakeSource{}, &fakeAggregator{}, nil, nil, 1, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Process(context.Background(), &queue.Job{Type: "email"}), errPermanent)
}

func TestRunRetriesTransientFailuresOnly(t *testing.T) {
	src := &fakeSource{jobs: make(chan *queue.Job, 4)}
	arch := &fakeArchiver{err: memerr.Store("archive.Archive", errors.New("s3 down"))}
	p, err := NewProcessor(src, &fakeAggregator{}, arch, nil, 2, nil)
	require.NoError(t, err)
	p.SetBackoff(time.Millisecond)

	src.jobs <- job(t, queue.JobTypeSessionArchive, queue.SessionArchivePayload{Kind: queue.KindGameSession, SessionID: uuid.New()})
	src.jobs <- &queue.Job{ID: "bad", Type: "email"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.retries() == 1 && len(src.jobs) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, src.retries())
}
