package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthzMiddleware checks the session roles against the casbin policy.
// In shadow mode denials are only logged.
func AuthzMiddleware(authorizer *config.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := models.SessionFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		path := c.Request.URL.Path
		allowed, enforced, err := authorizer.Authorize(session.Roles, path, c.Request.Method)
		if err != nil {
			config.LogError(config.GetLogger(), "middlewares", "AuthzMiddleware", "Enforcing policy", path, err)
			if enforced {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
		if !allowed {
			config.GetLogger().WithFields(logrus.Fields{
				"field":    "authz",
				"username": session.Username,
				"roles":    session.Roles,
				"method":   c.Request.Method,
				"path":     path,
				"enforced": enforced,
			}).Warn("request denied by policy")
			if enforced {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
		c.Next()
	}
}
