package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chorus/presence-engine/services"
)

// Auth validates the bearer credential and stores the verified identity on
// the request context.
func Auth(verifier *services.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.Request)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization token",
			})
			return
		}

		identity, err := verifier.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Set("userID", identity.UserID)
		c.Set("tenantID", identity.TenantID)
		c.Next()
	}
}

// ExtractToken pulls the credential from the Authorization header or, for
// WebSocket handshakes that cannot set headers, the token query parameter.
func ExtractToken(r *http.Request) string {
	bearerToken := r.Header.Get("Authorization")
	if strings.HasPrefix(bearerToken, "Bearer ") {
		return strings.TrimPrefix(bearerToken, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
