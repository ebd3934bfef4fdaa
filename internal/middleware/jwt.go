package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/service"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/response"
)

// ContextUserKey is the gin context key storing access token claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token. Both full and
// scoped tokens pass; EnforceMFA decides what scoped tokens may reach.
func JWT(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateAccessToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}
