package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"live-ingest/repository"
	"live-ingest/service"
)

// Check reports whether one dependency is usable.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

type Dependencies struct {
	Gateway    service.Gateway
	Store      repository.SessionStore
	Transcoder service.TranscodeManager
	// History is nil when no database is configured.
	History repository.HistoryRepository
	// Readiness checks gate /readyz; Deep checks are added on top of them for /health/deep.
	Readiness []Check
	Deep      []Check
}

type Handler struct {
	deps Dependencies
}

func New(deps Dependencies) *Handler {
	return &Handler{deps: deps}
}

// Register mounts the hook, health and introspection routes.
func (h *Handler) Register(r *gin.Engine) {
	hooks := r.Group("/hooks")
	hooks.POST("/pre-publish", h.PrePublish)
	hooks.POST("/post-publish", h.PostPublish)
	hooks.POST("/done-publish", h.DonePublish)
	// SRS sends on_publish / on_unpublish with an "action" field.
	hooks.POST("/srs", h.SRSCallback)

	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/health/deep", h.DeepHealth)

	api := r.Group("/api/v1")
	api.GET("/streams", h.ListStreams)
	api.GET("/streams/:key", h.GetStream)
	api.GET("/history/:sessionID", h.GetHistory)
}

// RequestLogger puts a request-scoped logger into the request context.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		reqLogger := logger.With().Str("request_id", requestID).Str("path", c.FullPath()).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))
		c.Header("X-Request-Id", requestID)

		c.Next()

		reqLogger.Debug().Int("status", c.Writer.Status()).Dur("latency", time.Since(start)).Msg("request served")
	}
}
