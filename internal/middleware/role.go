package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/funnel/pkg/response"
)

// Role returns the role set by JWT, if any.
func Role(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserRole)
	if !ok {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}

// RequireRole aborts unless JWT ran and the caller holds one of roles. Mount it after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := Role(c)
		if !ok {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}
		if !slices.Contains(roles, role) {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
