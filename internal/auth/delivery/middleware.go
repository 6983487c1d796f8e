package delivery

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	authdomain "kyra-backend/internal/auth/domain"
	"kyra-backend/internal/auth/usecase"
)

const (
	ctxUser   = "user"
	ctxUserID = "userID"
	ctxAuth   = "auth"
)

// AuthMiddleware validates the bearer token and stores the user and its AuthContext
func AuthMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		token := parts[1]
		user, err := authUsecase.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		auth, err := authUsecase.BuildAuthContext(c.Request.Context(), user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(ctxUser, user)
		c.Set(ctxUserID, user.ID)
		c.Set(ctxAuth, auth)
		c.Next()
	}
}

// RequirePermission rejects callers lacking perm. The organization comes from the
// orgParam route parameter when given.
func RequirePermission(perm authdomain.Permission, orgParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := ""
		if orgParam != "" {
			orgID = c.Param(orgParam)
		}
		if !CurrentAuth(c).Can(orgID, perm) {
			c.JSON(http.StatusForbidden, gin.H{"error": "You don't have permission to " + string(perm)})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentAuth returns the AuthContext stored by AuthMiddleware
func CurrentAuth(c *gin.Context) *authdomain.AuthContext {
	if v, ok := c.Get(ctxAuth); ok {
		if auth, ok := v.(*authdomain.AuthContext); ok {
			return auth
		}
	}
	return nil
}

func CurrentUser(c *gin.Context) *authdomain.User {
	if v, ok := c.Get(ctxUser); ok {
		if user, ok := v.(*authdomain.User); ok {
			return user
		}
	}
	return nil
}
