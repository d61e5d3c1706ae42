package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"live-ingest/repository"
)

const checkTimeout = 30 * time.Second

func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Readiness(c *gin.Context) {
	h.runChecks(c, h.deps.Readiness)
}

func (h *Handler) DeepHealth(c *gin.Context) {
	checks := append(append([]Check{}, h.deps.Readiness...), h.deps.Deep...)
	h.runChecks(c, checks)
}

func (h *Handler) runChecks(c *gin.Context, checks []Check) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	results, healthy := RunChecks(ctx, checks)
	status := http.StatusOK
	label := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		label = "unavailable"
	}
	c.JSON(status, gin.H{"status": label, "checks": results})
}

// RunChecks runs every check and reports per-check results plus the overall verdict.
func RunChecks(ctx context.Context, checks []Check) (map[string]string, bool) {
	results := make(map[string]string, len(checks))
	healthy := true
	for _, check := range checks {
		if err := check.Run(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("check", check.Name).Msg("health check failed")
			results[check.Name] = err.Error()
			healthy = false
			continue
		}
		results[check.Name] = "ok"
	}
	return results, healthy
}

func (h *Handler) ListStreams(c *gin.Context) {
	owners := h.deps.Transcoder.ListActive()
	c.JSON(http.StatusOK, gin.H{"owners": owners, "count": len(owners)})
}

func (h *Handler) GetStream(c *gin.Context) {
	session, err := h.deps.Store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to read session")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) GetHistory(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream history disabled"})
		return
	}
	row, err := h.deps.History.FindBySessionID(c.Request.Context(), c.Param("sessionID"))
	if errors.Is(err, repository.ErrHistoryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to read stream history")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream history unavailable"})
		return
	}
	c.JSON(http.StatusOK, row)
}
