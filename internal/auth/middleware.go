package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyOperator is the gin context key holding the authenticated
// subject.
const ContextKeyOperator = "operator"

// Middleware rejects requests that lack a valid operator bearer token.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   true,
				"message": "authorization header required",
			})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   true,
				"message": "authorization header must be 'Bearer <token>'",
			})
			return
		}

		claims, err := svc.Validate(parts[1])
		if err != nil {
			message := "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				message = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   true,
				"message": message,
			})
			return
		}

		c.Set(ContextKeyOperator, claims.Subject)
		c.Next()
	}
}
