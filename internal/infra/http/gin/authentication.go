package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"ncpwheels/internal/app/identity"
)

const actorContextKey = "ncpwheels.actor"

// TokenVerifier resolves a bearer token to the caller.
type TokenVerifier interface {
	Verify(token string) (identity.Actor, error)
}

// AuthMiddleware attaches the caller to both the gin and the request context. Requests
// without a valid token continue anonymously; handlers that need a caller reject them.
type AuthMiddleware struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" && websocketUpgrade(c.Request) {
		// Browsers cannot set headers on a WebSocket handshake.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" || m.Verifier == nil {
		c.Next()
		return
	}
	actor, err := m.Verifier.Verify(token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	c.Set(actorContextKey, actor)
	c.Request = c.Request.WithContext(identity.WithActor(c.Request.Context(), actor))
	c.Next()
}

func currentActor(c *gin.Context) (identity.Actor, bool) {
	val, exists := c.Get(actorContextKey)
	if !exists {
		return identity.Actor{}, false
	}
	actor, ok := val.(identity.Actor)
	return actor, ok
}

func requireActor(c *gin.Context) (identity.Actor, bool) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return identity.Actor{}, false
	}
	return actor, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
