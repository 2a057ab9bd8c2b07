package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the "token" header (or an Authorization bearer) to a
// session and injects it into the request context. Requests without a token pass
// through anonymously; a token that does not resolve is rejected.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c.Request)
		if token == "" {
			c.Next()
			return
		}
		session, err := models.LoadSession(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, models.ErrNoSession) {
				config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "Loading session", nil, err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Request = c.Request.WithContext(models.WithSession(c.Request.Context(), session))
		c.Next()
	}
}

// RequireSession rejects anonymous requests.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := models.SessionFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("token")); token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	const bearer = "Bearer "
	if len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		return strings.TrimSpace(auth[len(bearer):])
	}
	return ""
}
