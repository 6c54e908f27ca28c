package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"incidentdesk/internal/models"
)

const claimsContextKey = "auth_claims"

// Middleware validates bearer tokens and stores the caller claims in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.ParseToken(c.Request.Context(), s.extractToken(c))
		if err != nil {
			status := http.StatusUnauthorized
			msg := "authorization required"
			switch {
			case errors.Is(err, ErrTokenRevoked):
				msg = "token revoked"
			case errors.Is(err, ErrInvalidToken):
				msg = "invalid token"
			case !errors.Is(err, ErrTokenRequired):
				status = http.StatusInternalServerError
				msg = "could not verify token"
			}
			c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed. It must run after Middleware.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authorization required"})
			return
		}
		for _, r := range roles {
			if caller.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "role not allowed"})
	}
}

// ClaimsFromContext retrieves the claims captured by the middleware.
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	val, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*Claims)
	return claims, ok
}

// CallerFromContext returns the authenticated participant.
func CallerFromContext(c *gin.Context) (models.Ref, bool) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		return models.Ref{}, false
	}
	return claims.Caller(), true
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
