package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const clientIDContextKey = "auth_client_id"

// Middleware validates bearer API keys and stores the authenticated client in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.extractKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		clientID, err := s.ValidateKey(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(clientIDContextKey, clientID)
		c.Next()
	}
}

// ClientIDFromContext retrieves the authenticated client id from the gin context.
func ClientIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(clientIDContextKey)
	if !ok {
		return "", false
	}
	clientID, ok := val.(string)
	return clientID, ok
}

func (s *Service) extractKey(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
