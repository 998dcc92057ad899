// Package main runs the memory engine HTTP server with its WebSocket feed, the analytics
// scheduler and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MasterOfDiablo/Ruby-Vtuber/config"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/analytics"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/app"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/archive"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/auth"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/events"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/gamesessions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/highlights"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/interactions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/middleware"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/realtime"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/recall"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/streamsessions"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/logging"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Must(logging.Options{}).Fatal("load config", zap.Error(err))
	}
	logger := logging.Must(cfg.Log.Options())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(a),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Server.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func newRouter(a *app.App) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(a.Config.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(a.Logger))

	router.GET("/health", func(c *gin.Context) {
		deps := a.Healthy(c.Request.Context())
		for _, ok := range deps {
			if !ok {
				response.ServiceUnavailable(c, "dependency unavailable")
				return
			}
		}
		response.OK(c, gin.H{"status": "ok", "dependencies": deps})
	})

	ingest, read, admin := middleware.Ingest(), middleware.Reader(), middleware.Admin()

	api := router.Group("/api/v1")
	api.Use(middleware.JWT(a.JWT))
	auth.NewHandler(a.JWT, a.Logger).Register(api, admin)
	gamesessions.NewHandler(a.Games).Register(api, ingest, read, admin)
	streamsessions.NewHandler(a.Streams).Register(api, ingest, read, admin)
	events.NewHandler(a.Events, a.Retry).Register(api, ingest, read)
	interactions.NewHandler(a.Interactions, a.Retry).Register(api, ingest, read, admin)
	highlights.NewHandler(a.Highlights).Register(api, read)
	recall.NewHandler(a.Recall).Register(api, read)
	analytics.NewHandler(a.Analytics, a.Config.Analytics.MetricTypes).Register(api, ingest, read, admin)
	if a.Archive != nil {
		archive.NewHandler(a.Archive).Register(api, read, admin)
	}

	// token in query; browsers cannot set headers on a WebSocket handshake
	router.GET("/ws", realtime.ServeWs(a.Hub, a.Logger, a.JWT.Role))
	return router
}
