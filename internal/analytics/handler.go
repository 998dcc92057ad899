package analytics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// Handler exposes aggregates, session reports and the learning history.
type Handler struct {
	engine  *Engine
	metrics []string
}

// NewHandler creates an analytics handler. metrics are aggregated when a request names none.
func NewHandler(engine *Engine, metrics []string) *Handler {
	return &Handler{engine: engine, metrics: metrics}
}

// AggregateRequest is the body for POST /analytics/aggregate.
type AggregateRequest struct {
	MetricType string    `json:"metric_type"`
	Start      time.Time `json:"time_period_start" binding:"required"`
	End        time.Time `json:"time_period_end" binding:"required"`
}

// Aggregate handles POST /analytics/aggregate. Without metric_type every configured
// metric is aggregated.
func (h *Handler) Aggregate(c *gin.Context) {
	var req AggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	if req.MetricType != "" {
		a, err := h.engine.Aggregate(ctx, req.MetricType, req.Start, req.End)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, a)
		return
	}
	res := h.engine.AggregateWindow(ctx, h.metrics, req.Start, req.End)
	if err := res.Err(); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"analytics": res.Analytics})
}

// List handles GET /analytics?metric_type=engagement&from=...&to=...&limit=20.
func (h *Handler) List(c *gin.Context) {
	f := models.AnalyticsFilter{MetricType: c.Query("metric_type")}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	var ok bool
	if f.From, ok = queryTime(c, "from"); !ok {
		return
	}
	if f.To, ok = queryTime(c, "to"); !ok {
		return
	}
	list, err := h.engine.List(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"analytics": list})
}

func queryTime(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.BadRequest(c, "invalid "+key+": expected RFC3339")
		return nil, false
	}
	return &t, true
}

// Report handles GET /stream-sessions/:id/report.
func (h *Handler) Report(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream session id")
		return
	}
	r, err := h.engine.SessionReport(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// LearningRequest is the body for POST /learning.
type LearningRequest struct {
	Category           string       `json:"category" binding:"required"`
	LearnedPattern     models.Value `json:"learned_pattern"`
	EffectivenessScore *float64     `json:"effectiveness_score,omitempty"`
}

// RecordLearning handles POST /learning.
func (h *Handler) RecordLearning(c *gin.Context) {
	var req LearningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	e, err := h.engine.RecordLearning(c.Request.Context(), req.Category, req.LearnedPattern, req.EffectivenessScore)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, e)
}

// ResultRequest is the body for PATCH /learning/:id.
type ResultRequest struct {
	ApplicationResults models.Value `json:"application_results"`
	EffectivenessScore *float64     `json:"effectiveness_score,omitempty"`
}

// ApplyResult handles PATCH /learning/:id.
func (h *Handler) ApplyResult(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid learning entry id")
		return
	}
	var req ResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	e, err := h.engine.ApplyLearningResult(c.Request.Context(), id, req.ApplicationResults, req.EffectivenessScore)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, e)
}

// ListLearning handles GET /learning?category=strategy&limit=20.
func (h *Handler) ListLearning(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.engine.ListLearning(c.Request.Context(), c.Query("category"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"learning": list})
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, write, read, admin gin.HandlerFunc) {
	g.POST("/analytics/aggregate", admin, h.Aggregate)
	g.GET("/analytics", read, h.List)
	g.GET("/stream-sessions/:id/report", read, h.Report)
	g.POST("/learning", write, h.RecordLearning)
	g.PATCH("/learning/:id", write, h.ApplyResult)
	g.GET("/learning", read, h.ListLearning)
}
