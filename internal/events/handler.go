package events

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/retry"
)

// Handler ingests game events over HTTP.
type Handler struct {
	tracker *Tracker
	retry   *retry.Runner
}

// NewHandler creates an events handler. Store failures are retried by runner.
func NewHandler(tracker *Tracker, runner *retry.Runner) *Handler {
	return &Handler{tracker: tracker, retry: runner}
}

// Record handles POST /events.
func (h *Handler) Record(c *gin.Context) {
	var req RecordParams
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var ev *models.GameEvent
	err := h.retry.Do(c.Request.Context(), "events.Record", req, func(ctx context.Context) error {
		var err error
		ev, err = h.tracker.Record(ctx, req)
		return err
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ev)
}

// List handles GET /game-sessions/:id/events?category=combat&limit=50.
func (h *Handler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid game session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.tracker.List(c.Request.Context(), id, c.Query("category"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"events": list})
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, write, read gin.HandlerFunc) {
	g.POST("/events", write, h.Record)
	g.GET("/game-sessions/:id/events", read, h.List)
}
