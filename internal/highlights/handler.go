package highlights

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// Handler exposes a session's highlights over HTTP.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a highlights handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream session id")
		return uuid.Nil, false
	}
	return id, true
}

// Top handles GET /stream-sessions/:id/highlights/top?limit=5.
func (h *Handler) Top(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.tracker.Top(c.Request.Context(), id, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"highlights": list})
}

// Trends handles GET /stream-sessions/:id/highlights/trends.
func (h *Handler) Trends(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	report, err := h.tracker.Trends(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// Register mounts the routes on g. Recent highlights are served by the recall layer.
func (h *Handler) Register(g *gin.RouterGroup, read gin.HandlerFunc) {
	g.GET("/stream-sessions/:id/highlights/top", read, h.Top)
	g.GET("/stream-sessions/:id/highlights/trends", read, h.Trends)
}
