package interactions

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/retry"
)

// Handler ingests viewer interactions over HTTP.
type Handler struct {
	manager *Manager
	retry   *retry.Runner
}

// NewHandler creates an interactions handler.
func NewHandler(manager *Manager, runner *retry.Runner) *Handler {
	return &Handler{manager: manager, retry: runner}
}

// Record handles POST /interactions.
func (h *Handler) Record(c *gin.Context) {
	var req RecordParams
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var res *Result
	err := h.retry.Do(c.Request.Context(), "interactions.Record", req, func(ctx context.Context) error {
		var err error
		res, err = h.manager.Record(ctx, req)
		return err
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// List handles GET /stream-sessions/:id/interactions?type=chat&limit=50.
func (h *Handler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.manager.List(c.Request.Context(), id, c.Query("type"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"interactions": list})
}

// Forget handles DELETE /viewers/:username.
func (h *Handler) Forget(c *gin.Context) {
	if err := h.manager.Forget(c.Request.Context(), c.Param("username")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, write, read, admin gin.HandlerFunc) {
	g.POST("/interactions", write, h.Record)
	g.GET("/stream-sessions/:id/interactions", read, h.List)
	g.DELETE("/viewers/:username", admin, h.Forget)
}
