package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/internal/service"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/response"
)

// RequirePermission enforces that the caller's token carries at least one of
// the given permissions. Scoped tokens carry none, so they never pass.
func RequirePermission(perms ...models.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.AccessClaims)

		held := make(map[string]struct{})
		for _, name := range service.PermissionNames(claims) {
			held[name] = struct{}{}
		}
		for _, perm := range perms {
			if _, ok := held[string(perm)]; ok {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
