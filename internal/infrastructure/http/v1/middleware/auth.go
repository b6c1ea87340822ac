package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"unitcast/internal/core/apperror"
)

// TokenValidator validates ingest tokens and returns the producer subject.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// Auth middleware guards the ingest surface. Producers present a bearer
// token carrying the ingest scope; the validated subject lands in the gin
// context for request logging.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		producer, err := validator.ValidateToken(parts[1])
		if err != nil {
			_ = c.Error(apperror.NewUnauthorized("invalid token"))
			c.Abort()
			return
		}

		c.Set("producer", producer)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
