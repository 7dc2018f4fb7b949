package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"

	ServiceKeyHeader = "X-Service-Key"
)

type AuthMiddleware struct {
	gate *Gate
}

func NewAuthMiddleware(gate *Gate) *AuthMiddleware {
	return &AuthMiddleware{gate: gate}
}

// RequireAuth admits requests carrying a valid user token and stores the
// identity in the gin context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := am.gate.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": RefusalMessage(err)})
			return
		}

		c.Set(ContextUserID, identity.UserID)
		c.Set(ContextUsername, identity.Username)

		c.Next()
	}
}

// RequireServiceKey guards endpoints called by the REST layer. The key is
// compared against a bcrypt hash so the plain key never sits in config.
func RequireServiceKey(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(ServiceKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Service key is missing"})
			return
		}

		if !VerifyServiceKey(key, keyHash) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid service key"})
			return
		}

		c.Next()
	}
}

// RefusalMessage maps a gate error to the text shown to the client.
func RefusalMessage(err error) string {
	if errors.Is(err, ErrNoCredential) {
		return ErrNoCredential.Error()
	}
	return ErrInvalidCredential.Error()
}
