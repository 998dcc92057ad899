package recall

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// Handler exposes the recall API to the conversational layer.
type Handler struct {
	recaller *Recaller
}

// NewHandler creates a recall handler.
func NewHandler(recaller *Recaller) *Handler {
	return &Handler{recaller: recaller}
}

func queryLimit(c *gin.Context) int {
	n, _ := strconv.Atoi(c.Query("limit"))
	return n
}

// Viewer handles GET /recall/viewers/:username?limit=20.
func (h *Handler) Viewer(c *gin.Context) {
	r, err := h.recaller.RecallViewer(c.Request.Context(), c.Param("username"), queryLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// ViewerHistory handles GET /recall/viewers/:username/history?limit=20.
func (h *Handler) ViewerHistory(c *gin.Context) {
	list, err := h.recaller.ViewerHistory(c.Request.Context(), c.Param("username"), queryLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"history": list})
}

// Moments handles GET /recall/moments?event_type=&highlight_type=&from=&to=&text=&min_impact=&limit=.
func (h *Handler) Moments(c *gin.Context) {
	q := models.MomentQuery{
		EventType:     c.Query("event_type"),
		HighlightType: c.Query("highlight_type"),
		Text:          c.Query("text"),
		Limit:         queryLimit(c),
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(c, "invalid "+p.key+": expected RFC3339")
			return
		}
		*p.dst = &t
	}
	if raw := c.Query("min_impact"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			response.BadRequest(c, "invalid min_impact")
			return
		}
		q.MinImpact = &v
	}
	r, err := h.recaller.RecallGameMoment(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// RecentHighlights handles GET /stream-sessions/:id/highlights?limit=5.
func (h *Handler) RecentHighlights(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream session id")
		return
	}
	list, err := h.recaller.RecentHighlights(c.Request.Context(), id, queryLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"highlights": list})
}

// Messages handles GET /recall/messages?text=boss&limit=20.
func (h *Handler) Messages(c *gin.Context) {
	list, err := h.recaller.SearchMessages(c.Request.Context(), c.Query("text"), queryLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"interactions": list})
}

func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// RelatedEvents handles GET /recall/events/:id/related?limit=5.
func (h *Handler) RelatedEvents(c *gin.Context) {
	id, ok := pathID(c, "game event")
	if !ok {
		return
	}
	r, err := h.recaller.RelatedEvents(c.Request.Context(), id, queryLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// Patterns handles GET /game-sessions/:id/patterns.
func (h *Handler) Patterns(c *gin.Context) {
	id, ok := pathID(c, "game session")
	if !ok {
		return
	}
	r, err := h.recaller.EventPatterns(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// PriorityInteractions handles GET /stream-sessions/:id/priority-interactions?limit=10.
func (h *Handler) PriorityInteractions(c *gin.Context) {
	id, ok := pathID(c, "stream session")
	if !ok {
		return
	}
	list, err := h.recaller.PriorityInteractions(c.Request.Context(), id, queryLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"interactions": list})
}

// Conversations handles GET /stream-sessions/:id/conversations?window=5m.
func (h *Handler) Conversations(c *gin.Context) {
	id, ok := pathID(c, "stream session")
	if !ok {
		return
	}
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			response.BadRequest(c, "invalid window: expected a duration such as 5m")
			return
		}
		window = d
	}
	list, err := h.recaller.ActiveConversations(c.Request.Context(), id, window)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"conversations": list})
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, read gin.HandlerFunc) {
	g.GET("/recall/viewers/:username", read, h.Viewer)
	g.GET("/recall/viewers/:username/history", read, h.ViewerHistory)
	g.GET("/recall/moments", read, h.Moments)
	g.GET("/recall/messages", read, h.Messages)
	g.GET("/recall/events/:id/related", read, h.RelatedEvents)
	g.GET("/game-sessions/:id/patterns", read, h.Patterns)
	g.GET("/stream-sessions/:id/highlights", read, h.RecentHighlights)
	g.GET("/stream-sessions/:id/priority-interactions", read, h.PriorityInteractions)
	g.GET("/stream-sessions/:id/conversations", read, h.Conversations)
}
