// Package app wires the memory engine's components for the server, the worker and memctl.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/config"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/analytics"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/archive"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/auth"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/events"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/gamesessions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/highlights"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/interactions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/realtime"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/recall"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/store"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/streamsessions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/queue"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/redis"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/retry"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/storage"
)

// App holds every component of one process. Redis, Queue, Objects and Archive are nil
// when their backing service is not configured.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Stores *store.Set

	Redis   *redis.Client
	Queue   *queue.Queue
	Objects *storage.S3
	Archive *archive.Service
	Hub     *realtime.Hub
	JWT     *auth.JWTService
	Retry   *retry.Runner

	Games        *gamesessions.Manager
	Streams      *streamsessions.Manager
	Events       *events.Tracker
	Highlights   *highlights.Tracker
	Interactions *interactions.Manager
	Analytics    *analytics.Engine
	Scheduler    *analytics.Scheduler
	Recall       *recall.Recaller
}

// New connects the configured backends and builds the components over them. The session
// managers are restored from the store before New returns.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	stores, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Stores: stores}
	a.connectRedis(ctx)
	a.connectS3(ctx)
	a.build()
	if err := a.Games.Restore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.Streams.Restore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStores builds an App over stores without Redis or S3.
func NewWithStores(cfg *config.Config, stores *store.Set, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Stores: stores}
	a.build()
	return a
}

func (a *App) connectRedis(ctx context.Context) {
	if a.Config.Redis.Addr == "" {
		return
	}
	rdb, err := redis.NewClient(ctx, a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB, a.Logger)
	if err != nil {
		a.Logger.Warn("redis disabled; realtime stays local and jobs are not queued", zap.Error(err))
		return
	}
	a.Redis = rdb
	a.Queue = queue.NewQueue(rdb.Client, a.Logger)
	a.Queue.SetPollTimeout(a.Config.Worker.PollTimeout)
}

func (a *App) connectS3(ctx context.Context) {
	aws := a.Config.AWS
	if aws.Region == "" {
		return
	}
	s3, err := storage.NewS3(ctx, storage.S3Config{
		Region:               aws.Region,
		AccessKeyID:          aws.AccessKeyID,
		SecretAccessKey:      aws.SecretAccessKey,
		ArchiveBucket:        aws.ArchiveBucket,
		PresignExpireMinutes: aws.PresignExpireMinutes,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn("s3 disabled; sessions are not archived", zap.Error(err))
		return
	}
	a.Objects = s3
}

func (a *App) build() {
	cfg, logger, st := a.Config, a.Logger, a.Stores
	m := cfg.Memory

	if a.Redis != nil {
		ps := realtime.NewRedisPubSub(a.Redis.Client, logger)
		a.Hub = realtime.NewHub(logger, ps, ps)
	} else {
		a.Hub = realtime.NewHub(logger, nil, nil)
	}
	a.JWT = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	a.Retry = retry.NewRunner(retry.Policy{
		Attempts:    m.StoreRetryAttempts,
		Initial:     m.StoreRetryInitial,
		MaxInterval: m.StoreRetryMaxInterval,
	}, logger)

	a.Games = gamesessions.NewManager(st.Games, logger)
	a.Streams = streamsessions.NewManager(st.Streams, logger)
	a.Highlights = highlights.NewTracker(st.Highlights, a.Streams, a.Hub, highlights.Config{
		Threshold:       m.HighlightThreshold,
		Window:          m.BaselineWindow,
		MinSamples:      m.BaselineMinSamples,
		Keywords:        m.HighlightKeywords,
		DonationTrigger: m.DonationTrigger,
	}, logger)
	a.Events = events.NewTracker(st.Events, a.Games, a.Highlights, events.Config{
		NotableThreshold: m.NotableThreshold,
		NotableRetention: m.NotableRetention,
	}, logger)
	a.Interactions = interactions.NewManager(st.Interactions, a.Streams, a.Highlights, a.Hub, interactions.RelationshipPolicy{
		Cap:            m.RelationshipCap,
		PointsPerLevel: m.PointsPerLevel,
	}, logger)
	a.Analytics = analytics.NewEngine(st.Analytics, st.Sessions, analytics.Config{
		TopK:             cfg.Analytics.TopK,
		NotableThreshold: m.NotableThreshold,
		Parallelism:      cfg.Analytics.Parallelism,
	}, logger)
	a.Scheduler = analytics.NewScheduler(a.Analytics, cfg.Analytics.Schedule, cfg.Analytics.Period, cfg.Analytics.MetricTypes, logger)
	a.Recall = recall.New(st.Recall, m.RecallLimit, m.NotableThreshold)
	if a.Objects != nil {
		a.Archive = archive.NewService(st.ArchiveGames, st.ArchiveStreams, a.Objects, logger)
	}

	a.Games.OnDelete(func(ctx context.Context, id uuid.UUID) {
		a.Streams.ClearGameSession(id)
		a.removeArchive(ctx, queue.KindGameSession, id)
	})
	a.Streams.OnDelete(func(ctx context.Context, id uuid.UUID) {
		a.removeArchive(ctx, queue.KindStreamSession, id)
	})
	a.Games.OnClose(func(ctx context.Context, s *models.GameSession) {
		a.enqueueWindow(ctx, s.StartTime, s.EndTime)
		a.enqueueArchive(ctx, queue.KindGameSession, s.ID)
	})
	a.Streams.OnClose(func(ctx context.Context, s *models.StreamSession) {
		a.Highlights.Forget(s.ID)
		a.Hub.Publish(s.ID, "session_closed", s)
		a.enqueueWindow(ctx, s.StartTime, s.EndTime)
		a.enqueueArchive(ctx, queue.KindStreamSession, s.ID)
	})
}

// enqueueWindow asks for aggregation over a closed session's span. Without a queue the
// scheduler picks the window up on its next run.
func (a *App) enqueueWindow(ctx context.Context, start time.Time, end *time.Time) {
	if end == nil || !end.After(start) {
		return
	}
	if a.Queue != nil {
		err := a.Queue.EnqueueAnalyticsWindow(ctx, queue.AnalyticsWindowPayload{Start: start, End: *end})
		if err == nil {
			return
		}
		a.Logger.Warn("enqueue analytics window, deferring to scheduler", zap.Error(err))
	}
	a.Scheduler.Enqueue(analytics.Window{Start: start, End: *end})
}

// enqueueArchive hands an ended session to the worker, or archives it inline without a
// queue. Nothing is archived unless object storage is configured.
func (a *App) enqueueArchive(ctx context.Context, kind queue.SessionKind, id uuid.UUID) {
	if a.Archive == nil {
		return
	}
	log := a.Logger.With(zap.String("kind", string(kind)), zap.String("session_id", id.String()))
	if a.Queue != nil {
		if err := a.Queue.EnqueueSessionArchive(ctx, queue.SessionArchivePayload{Kind: kind, SessionID: id}); err != nil {
			log.Warn("enqueue session archive", zap.Error(err))
		}
		return
	}
	if _, err := a.Archive.Archive(ctx, kind, id); err != nil {
		log.Warn("archive session", zap.Error(err))
	}
}

// removeArchive drops the snapshot of a deleted session.
func (a *App) removeArchive(ctx context.Context, kind queue.SessionKind, id uuid.UUID) {
	if a.Archive == nil {
		return
	}
	if err := a.Archive.Remove(ctx, kind, id); err != nil {
		a.Logger.Warn("remove session archive", zap.String("kind", string(kind)),
			zap.String("session_id", id.String()), zap.Error(err))
	}
}

// Healthy reports whether the configured backends answer.
func (a *App) Healthy(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	if a.Stores.Pool != nil {
		out["postgres"] = a.Stores.Pool.Ping(ctx) == nil
	}
	if a.Redis != nil {
		out["redis"] = a.Redis.Healthy(ctx)
	}
	return out
}

// Close releases every connection.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.Stores.Close()
}
