package middleware

import (
	"net/http"
	"strings"

	"medicall/models"
	"medicall/utils"

	"github.com/gin-gonic/gin"
)

// IdentityKey is the gin context key holding the verified models.Identity.
const IdentityKey = "identity"

// Authenticator verifies a handshake token.
type Authenticator interface {
	Authenticate(token string) (models.Identity, error)
}

// SocketAuthMiddleware refuses the upgrade unless the handshake carries a
// valid token. Browsers cannot set headers on a websocket handshake, so the
// token is also read from the query string.
func SocketAuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := handshakeToken(c)
		if token == "" {
			utils.JSONError(c, http.StatusUnauthorized, "Insufficient authorization", "missing token")
			return
		}

		identity, err := auth.Authenticate(token)
		if err != nil {
			utils.JSONError(c, http.StatusUnauthorized, "Insufficient authorization", err.Error())
			return
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

func handshakeToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); token != "" {
			return token
		}
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	return c.Query("auth_token")
}

// GetIdentity returns the identity set by SocketAuthMiddleware.
func GetIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}
