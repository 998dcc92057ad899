package archive

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/queue"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// Handler exposes archives over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates an archive handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func params(c *gin.Context) (queue.SessionKind, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return "", uuid.Nil, false
	}
	return queue.SessionKind(c.Param("kind")), id, true
}

// Create handles POST /archives/:kind/:id.
func (h *Handler) Create(c *gin.Context) {
	kind, id, ok := params(c)
	if !ok {
		return
	}
	res, err := h.service.Archive(c.Request.Context(), kind, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Link handles GET /archives/:kind/:id.
func (h *Handler) Link(c *gin.Context) {
	kind, id, ok := params(c)
	if !ok {
		return
	}
	url, err := h.service.Link(c.Request.Context(), kind, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"url": url, "key": Key(kind, id)})
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, read, admin gin.HandlerFunc) {
	g.POST("/archives/:kind/:id", admin, h.Create)
	g.GET("/archives/:kind/:id", read, h.Link)
}
