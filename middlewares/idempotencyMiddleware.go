package middlewares

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/gin-gonic/gin"
)

const IdempotencyHeader = "Idempotency-Key"

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the first response of a POST that carries an
// Idempotency-Key header, so a resubmitted form does not create a second record.
// Keys are scoped to the user, the method and the request path.
func IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		session, ok := models.SessionFromContext(c.Request.Context())
		if c.Request.Method != http.MethodPost || key == "" || !ok {
			c.Next()
			return
		}
		if len(key) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": IdempotencyHeader + " is too long"})
			return
		}

		ctx := c.Request.Context()
		scope := models.IdempotencyScope{Username: session.Username, Method: c.Request.Method, Path: c.Request.URL.Path}
		prev, err := models.ClaimIdempotencyKey(ctx, scope, key)
		if errors.Is(err, models.ErrIdempotencyInProgress) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			// fail open
			config.LogError(config.GetLogger(), "middlewares", "IdempotencyMiddleware", "Claiming key", key, err)
			c.Next()
			return
		}
		if prev != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(prev.StatusCode, prev.ContentType, prev.Body)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		defer func() {
			if r := recover(); r != nil {
				if err := models.ReleaseIdempotencyKey(context.WithoutCancel(ctx), scope, key); err != nil {
					config.LogError(config.GetLogger(), "middlewares", "IdempotencyMiddleware", "Releasing key", key, err)
				}
				panic(r)
			}
		}()
		c.Next()

		resp := models.IdempotentResponse{
			StatusCode:  recorder.Status(),
			ContentType: recorder.Header().Get("Content-Type"),
			Body:        recorder.body.Bytes(),
		}
		if err := models.CompleteIdempotencyKey(context.WithoutCancel(ctx), scope, key, resp); err != nil {
			config.LogError(config.GetLogger(), "middlewares", "IdempotencyMiddleware", "Storing response", key, err)
		}
	}
}
