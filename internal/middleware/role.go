package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/auth"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles. Admins pass every check.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{auth.RoleAdmin: {}}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextRole)
		if !ok {
			response.Unauthorized(c, "missing caller context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Ingest admits services that write memory.
func Ingest() gin.HandlerFunc { return RequireRole(auth.RoleIngest) }

// Reader admits services that read memory. Ingest clients may read what they wrote.
func Reader() gin.HandlerFunc { return RequireRole(auth.RoleReader, auth.RoleIngest) }

// Admin admits only admins.
func Admin() gin.HandlerFunc { return RequireRole() }
