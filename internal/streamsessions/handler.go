package streamsessions

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// AttachRequest is the body for POST /stream-sessions/current/attach.
type AttachRequest struct {
	GameSessionID uuid.UUID `json:"game_session_id" binding:"required"`
}

// Handler exposes stream session control over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates a stream sessions handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Open handles POST /stream-sessions.
func (h *Handler) Open(c *gin.Context) {
	var req OpenParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	s, err := h.manager.Open(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, s)
}

// Current handles GET /stream-sessions/current.
func (h *Handler) Current(c *gin.Context) {
	s := h.manager.Current()
	if s == nil {
		response.NotFound(c, "no active stream session")
		return
	}
	response.OK(c, s)
}

// Attach handles POST /stream-sessions/current/attach.
func (h *Handler) Attach(c *gin.Context) {
	var req AttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.manager.Attach(c.Request.Context(), req.GameSessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Detach handles POST /stream-sessions/current/detach.
func (h *Handler) Detach(c *gin.Context) {
	s, err := h.manager.Detach(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Close handles POST /stream-sessions/current/close.
func (h *Handler) Close(c *gin.Context) {
	var req CloseParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	s, err := h.manager.Close(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// List handles GET /stream-sessions?status=ended.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.manager.List(c.Request.Context(), models.StreamSessionStatus(c.Query("status")), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"stream_sessions": list})
}

// Get handles GET /stream-sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream session id")
		return
	}
	s, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Delete handles DELETE /stream-sessions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream session id")
		return
	}
	if err := h.manager.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, write, read, admin gin.HandlerFunc) {
	g.POST("/stream-sessions", write, h.Open)
	g.GET("/stream-sessions", read, h.List)
	g.GET("/stream-sessions/current", read, h.Current)
	g.POST("/stream-sessions/current/attach", write, h.Attach)
	g.POST("/stream-sessions/current/detach", write, h.Detach)
	g.POST("/stream-sessions/current/close", write, h.Close)
	g.GET("/stream-sessions/:id", read, h.Get)
	g.DELETE("/stream-sessions/:id", admin, h.Delete)
}
