package gamesessions

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// Handler exposes game session control over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates a game sessions handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Open handles POST /game-sessions.
func (h *Handler) Open(c *gin.Context) {
	var req OpenParams
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.manager.Open(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, s)
}

// Current handles GET /game-sessions/current.
func (h *Handler) Current(c *gin.Context) {
	s := h.manager.Current()
	if s == nil {
		response.NotFound(c, "no game session is open")
		return
	}
	response.OK(c, s)
}

// Pause handles POST /game-sessions/current/pause.
func (h *Handler) Pause(c *gin.Context) {
	s, err := h.manager.Pause(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Resume handles POST /game-sessions/current/resume.
func (h *Handler) Resume(c *gin.Context) {
	s, err := h.manager.Resume(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Close handles POST /game-sessions/current/close. The body is optional.
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

// List handles GET /game-sessions?status=active&limit=20.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.manager.List(c.Request.Context(), models.GameSessionStatus(c.Query("status")), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"game_sessions": list})
}

// Get handles GET /game-sessions/:id?category=combat (session with its events).
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid game session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	summary, err := h.manager.Summary(c.Request.Context(), id, c.Query("category"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Correct handles PATCH /game-sessions/:id on an ended session.
func (h *Handler) Correct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid game session id")
		return
	}
	var req CloseParams
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.manager.Correct(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Delete handles DELETE /game-sessions/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid game session id")
		return
	}
	if err := h.manager.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Statistics handles GET /games/:name/statistics.
func (h *Handler) Statistics(c *gin.Context) {
	st, err := h.manager.Statistics(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, write, read, admin gin.HandlerFunc) {
	g.POST("/game-sessions", write, h.Open)
	g.GET("/game-sessions", read, h.List)
	g.GET("/game-sessions/current", read, h.Current)
	g.POST("/game-sessions/current/pause", write, h.Pause)
	g.POST("/game-sessions/current/resume", write, h.Resume)
	g.POST("/game-sessions/current/close", write, h.Close)
	g.GET("/game-sessions/:id", read, h.Get)
	g.PATCH("/game-sessions/:id", admin, h.Correct)
	g.DELETE("/game-sessions/:id", admin, h.Delete)
	g.GET("/games/:name/statistics", read, h.Statistics)
}
