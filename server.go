package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/middlewares"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production only CORS_ALLOWED_ORIGINS may call; an empty list denies all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader, middlewares.IdempotencyHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

// rateLimiter is enabled with RATE_LIMIT_ENABLED=true. It counts in Redis, so it
// only starts limiting once Redis is connected.
func rateLimiter() gin.HandlerFunc {
	if !config.BoolFromEnv("RATE_LIMIT_ENABLED") {
		return nil
	}
	limit := int64(config.IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600))
	window := time.Duration(config.IntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second

	var handler atomic.Value // gin.HandlerFunc
	return func(c *gin.Context) {
		h, _ := handler.Load().(gin.HandlerFunc)
		if h == nil {
			rdb := config.GetRedisDB()
			if rdb == nil {
				c.Next()
				return
			}
			h = middlewares.NewRateLimiter(rdb, limit, window).Middleware()
			handler.Store(h)
		}
		h(c)
	}
}

// newRouter builds the full route table. authorizer may be nil in tests.
func newRouter(logger *logrus.Logger, authorizer *config.Authorizer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.ReadinessMiddleware())
	r.Use(middlewares.SessionMiddleware())
	if limit := rateLimiter(); limit != nil {
		r.Use(limit)
	}
	r.Use(middlewares.ErrorLogger(logger))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	auth := r.Group("/auth")
	auth.POST("/login", loginHandler())
	auth.POST("/register", registerHandler())
	auth.POST("/logout", middlewares.RequireSession(), logoutHandler())
	auth.GET("/session", middlewares.RequireSession(), sessionHandler())

	api := r.Group("/api", middlewares.RequireSession())
	if authorizer != nil {
		api.Use(middlewares.AuthzMiddleware(authorizer))
	}
	api.Use(middlewares.IdempotencyMiddleware(), middlewares.LoaderMiddleware())
	registerHandLoanRoutes(api)
	registerResourceRoutes(api)
	registerJobRoutes(api)

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	authorizer, err := config.GetAuthorizer()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "authz"}).Fatal(err.Error())
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start listening immediately; until Redis is ready app routes answer 503.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger, authorizer),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectRedisWithRetry(sigCtx)
	if config.DatabaseConfigured() {
		config.ConnectDatabaseWithRetry(sigCtx)
		if !config.BoolFromEnv("SKIP_MIGRATIONS") {
			models.MigrateTable()
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "database"}).Warn("DB_HOST not set; audit trail disabled")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("gateway listening on port ", port, " for ", config.UpstreamBaseURL())
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
