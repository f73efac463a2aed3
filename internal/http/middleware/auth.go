// README: Auth middleware: bearer-token or gateway-header identity, caller accessors and role guard.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridematch/internal/infra"
)

const (
	ctxCallerUID  = "caller_uid"
	ctxCallerRole = "caller_role"

	// UsernameHeader is set by the API gateway after it authenticated the caller.
	UsernameHeader = "username"
	RoleHeader     = "X-User-Role"
)

// Auth verifies the bearer token with verifier and stores the caller's uid
// and role. Websocket clients that cannot set headers may pass the token in
// the access_token query parameter.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxCallerUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxCallerRole, role)
		}
		c.Next()
	}
}

// HeaderAuth trusts identity headers injected by an upstream gateway.
func HeaderAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(UsernameHeader))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing username header"})
			return
		}
		c.Set(ctxCallerUID, uid)
		if role := strings.TrimSpace(c.GetHeader(RoleHeader)); role != "" {
			c.Set(ctxCallerRole, role)
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return c.Query("access_token")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

// CallerRole is empty when the identity carries no role.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxCallerRole)
}

// RejectRole aborts with 403 when the caller has the given role. Callers
// without a role pass.
func RejectRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) == role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden for role " + role})
			return
		}
		c.Next()
	}
}
