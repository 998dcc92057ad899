package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueAnalytics is the Redis list key for analytics window jobs.
	QueueAnalytics = "memory:analytics"
	// QueueArchive is the Redis list key for ended-session archive jobs.
	QueueArchive = "memory:archive"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "memory:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// DefaultPollTimeout bounds each blocking pop so cancellation is noticed.
	DefaultPollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeAnalyticsWindow JobType = "analytics_window"
	JobTypeSessionArchive  JobType = "session_archive"
)

// SessionKind names which kind of session an archive job snapshots.
type SessionKind string

const (
	KindGameSession   SessionKind = "game"
	KindStreamSession SessionKind = "stream"
)

// AnalyticsWindowPayload asks for the given metrics over [Start, End). No metrics means all.
type AnalyticsWindowPayload struct {
	Metrics []string  `json:"metrics,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// SessionArchivePayload asks for a snapshot of an ended session.
type SessionArchivePayload struct {
	Kind      SessionKind `json:"kind"`
	SessionID uuid.UUID   `json:"session_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	return nil
}

// NewJob wraps payload in a fresh envelope.
func NewJob(t JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{ID: uuid.New().String(), Type: t, Payload: body, CreatedAt: time.Now().UTC()}, nil
}

// KeyFor returns the list a job type is queued on.
func KeyFor(t JobType) (string, error) {
	switch t {
	case JobTypeAnalyticsWindow:
		return QueueAnalytics, nil
	case JobTypeSessionArchive:
		return QueueArchive, nil
	}
	return "", fmt.Errorf("unknown job type: %s", t)
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client      *redis.Client
	pollTimeout time.Duration
	logger      *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, pollTimeout: DefaultPollTimeout, logger: logger}
}

// SetPollTimeout changes how long Dequeue blocks before returning empty-handed.
func (q *Queue) SetPollTimeout(d time.Duration) {
	if d > 0 {
		q.pollTimeout = d
	}
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	key, err := KeyFor(job.Type)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// EnqueueAnalyticsWindow enqueues an aggregation job.
func (q *Queue) EnqueueAnalyticsWindow(ctx context.Context, payload AnalyticsWindowPayload) error {
	job, err := NewJob(JobTypeAnalyticsWindow, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued analytics job", zap.String("job_id", job.ID), zap.Time("start", payload.Start), zap.Time("end", payload.End))
	return nil
}

// EnqueueSessionArchive enqueues an archive job.
func (q *Queue) EnqueueSessionArchive(ctx context.Context, payload SessionArchivePayload) error {
	job, err := NewJob(JobTypeSessionArchive, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued archive job", zap.String("job_id", job.ID), zap.String("session_id", payload.SessionID.String()))
	return nil
}

// Dequeue blocks until a job is available or the poll times out. It returns nil, nil on
// timeout and on malformed jobs.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, q.pollTimeout, QueueAnalytics, QueueArchive).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		raw, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
