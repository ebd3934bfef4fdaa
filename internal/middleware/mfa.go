package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/models"
)

// MFAGateConfig lists the paths the access gate treats specially.
// Matching is case-insensitive; prefix lists use prefix semantics so
// sub-paths and query strings inherit the entry.
type MFAGateConfig struct {
	// ExemptPrefixes are paths full tokens may reach regardless of the
	// user's MFA state (token refresh, confirmation resend, the MFA
	// endpoints themselves so a user can enroll).
	ExemptPrefixes []string
	// ScopedPaths and ScopedPrefixes together form the allow-list for
	// restricted tokens: exact matches for the enrollment root, prefixes
	// for the setup and verify operations. Everything else is forbidden
	// to a scoped token, exempt or not.
	ScopedPaths    []string
	ScopedPrefixes []string
}

type mfaStatusChecker interface {
	Status(ctx context.Context, userID string) (bool, error)
}

// EnforceMFA blocks scoped tokens from reaching anything beyond the MFA
// operations, and holders of full tokens whose MFA has since been disabled
// from reaching anything beyond the exempt paths. The scoped restriction is
// evaluated first: a restricted token gets no benefit from the exemption
// list. Requests without claims pass through; route protection is the JWT
// middleware's job. The 403 body carries requiresMfa so clients can route
// the user to the challenge screen instead of a generic error page.
func EnforceMFA(cfg MFAGateConfig, status mfaStatusChecker) gin.HandlerFunc {
	exempt := lowerAll(cfg.ExemptPrefixes)
	scopedPaths := lowerAll(cfg.ScopedPaths)
	scopedPrefixes := lowerAll(cfg.ScopedPrefixes)

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			c.Next()
			return
		}
		claims := claimsValue.(*models.AccessClaims)
		path := strings.ToLower(c.Request.URL.Path)

		if claims.Restricted() {
			if containsPath(path, scopedPaths) || hasAnyPrefix(path, scopedPrefixes) {
				c.Next()
				return
			}
			rejectWithMFARequired(c)
			return
		}

		if hasAnyPrefix(path, exempt) {
			c.Next()
			return
		}

		if status != nil {
			enabled, err := status.Status(c.Request.Context(), claims.UserID)
			if err == nil && !enabled {
				rejectWithMFARequired(c)
				return
			}
		}
		c.Next()
	}
}

func rejectWithMFARequired(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":       "multi-factor verification is required",
		"requiresMfa": true,
	})
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	return out
}

func containsPath(path string, paths []string) bool {
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	return false
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
