package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"

	"live-ingest/dto"
	"live-ingest/service"
)

// bindHook accepts SRS style JSON bodies and nginx-rtmp style form posts.
func bindHook(c *gin.Context) (dto.PublishHook, error) {
	var hook dto.PublishHook
	var err error
	if strings.HasPrefix(c.ContentType(), binding.MIMEJSON) {
		err = c.ShouldBindJSON(&hook)
	} else {
		err = c.ShouldBindWith(&hook, binding.Form)
	}
	if hook.ClientIP == "" {
		hook.ClientIP = c.ClientIP()
	}
	return hook, err
}

func statusFor(code service.RejectionCode) int {
	switch code {
	case service.CodeInvalidPath:
		return http.StatusBadRequest
	case service.CodeInvalidCredential, service.CodeOverCapacity:
		return http.StatusForbidden
	case service.CodeRateLimited:
		return http.StatusTooManyRequests
	case service.CodeSessionNotFound:
		return http.StatusNotFound
	case service.CodeStreamAlreadyLive:
		return http.StatusConflict
	case service.CodeIdentityUnavailable, service.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respond answers in a shape both media servers understand: any non-2xx rejects the
// connection, and SRS additionally requires "code":0 to accept.
func respond(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"code": 0})
		return
	}
	var rejection *service.RejectionError
	if !errors.As(err, &rejection) {
		rejection = &service.RejectionError{Code: service.CodeInternal, Reason: err.Error()}
	}
	status := statusFor(rejection.Code)
	c.JSON(status, gin.H{"code": status, "error": rejection.Code, "reason": rejection.Reason})
}

func (h *Handler) PrePublish(c *gin.Context) {
	hook, err := bindHook(c)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("unreadable pre-publish hook")
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "invalid hook payload"})
		return
	}
	respond(c, h.deps.Gateway.PrePublish(c.Request.Context(), hook))
}

func (h *Handler) PostPublish(c *gin.Context) {
	hook, err := bindHook(c)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("unreadable post-publish hook")
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "invalid hook payload"})
		return
	}
	respond(c, h.deps.Gateway.PostPublish(c.Request.Context(), hook))
}

// DonePublish always acknowledges: the publisher is already gone and retries would only
// repeat the cleanup.
func (h *Handler) DonePublish(c *gin.Context) {
	hook, err := bindHook(c)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("unreadable done-publish hook")
		c.JSON(http.StatusOK, gin.H{"code": 0})
		return
	}
	if err := h.deps.Gateway.DonePublish(c.Request.Context(), hook); err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("done-publish cleanup incomplete")
	}
	c.JSON(http.StatusOK, gin.H{"code": 0})
}

// SRSCallback dispatches SRS http_hooks. SRS only reports on_publish, and media does not
// flow until the hook answers, so the post-publish step runs after the response.
func (h *Handler) SRSCallback(c *gin.Context) {
	hook, err := bindHook(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "invalid hook payload"})
		return
	}
	ctx := c.Request.Context()
	switch hook.Action {
	case "on_publish":
		if err := h.deps.Gateway.PrePublish(ctx, hook); err != nil {
			respond(c, err)
			return
		}
		respond(c, nil)
		go func(ctx context.Context) {
			if err := h.deps.Gateway.PostPublish(ctx, hook); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("on_publish activation failed")
			}
		}(context.WithoutCancel(ctx))
	case "on_unpublish":
		if err := h.deps.Gateway.DonePublish(ctx, hook); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("on_unpublish cleanup incomplete")
		}
		c.JSON(http.StatusOK, gin.H{"code": 0})
	default:
		c.JSON(http.StatusOK, gin.H{"code": 0})
	}
}
