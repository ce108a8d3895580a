package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"minoj/internal/user/repository"
	"minoj/internal/user/service"
	pkgerrors "minoj/pkg/errors"
	"minoj/pkg/utils/contextkey"
	"minoj/pkg/utils/response"
)

const (
	userIDKey   = "user_id"
	userRoleKey = "user_role"
)

// AuthRequired validates the bearer token and stores the authenticated
// identity in the gin context and the request context.
func AuthRequired(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		claims, err := auth.ParseToken(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		// A ban issued after the token was signed is caught at the next
		// login; the token role is authoritative until then.
		if claims.Role == repository.UserRoleBanned {
			response.AbortWithErrorCode(c, pkgerrors.AccountSuspended, "")
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userRoleKey, string(claims.Role))
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, claims.UserID)
		ctx = context.WithValue(ctx, contextkey.UserRole, string(claims.Role))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminOnly rejects requests whose authenticated role is not admin. Must
// run after AuthRequired.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, ok := CurrentUser(c)
		if !ok {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "")
			return
		}
		if role != repository.UserRoleAdmin {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "")
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity stored by AuthRequired.
func CurrentUser(c *gin.Context) (int64, repository.UserRole, bool) {
	rawID, ok := c.Get(userIDKey)
	if !ok {
		return 0, "", false
	}
	userID, ok := rawID.(int64)
	if !ok || userID <= 0 {
		return 0, "", false
	}
	return userID, repository.UserRole(c.GetString(userRoleKey)), true
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
