package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// TokenRequest is the body for POST /auth/tokens.
type TokenRequest struct {
	Service string `json:"service" binding:"required"`
	Role    string `json:"role" binding:"required"`
}

// TokenResponse carries a freshly signed service token.
type TokenResponse struct {
	Token   string `json:"token"`
	Service string `json:"service"`
	Role    string `json:"role"`
}

// Handler lets an admin mint tokens for collaborating services.
type Handler struct {
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{jwt: jwt, logger: logger}
}

// Issue handles POST /auth/tokens.
func (h *Handler) Issue(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req.Service = strings.TrimSpace(req.Service)
	if req.Service == "" {
		response.BadRequest(c, "service is required")
		return
	}
	token, err := h.jwt.Generate(req.Service, req.Role)
	if err != nil {
		response.BadRequest(c, "role must be one of ingest, reader, admin")
		return
	}
	h.logger.Info("service token issued", zap.String("service", req.Service), zap.String("role", req.Role))
	response.Created(c, TokenResponse{Token: token, Service: req.Service, Role: req.Role})
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup, admin gin.HandlerFunc) {
	g.POST("/auth/tokens", admin, h.Issue)
}
