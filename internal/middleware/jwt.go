package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/auth"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

const (
	// ContextService is the key for the calling service's name in gin context.
	ContextService = "service"
	// ContextRole is the key for the caller's role in gin context.
	ContextRole = "role"
)

// JWT returns a middleware that validates the bearer service token and stores its claims.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextService, claims.Service)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}
