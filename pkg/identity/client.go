// Package identity is a thin client for the external service that owns stream keys.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"live-ingest/dto"
)

var (
	// ErrRejected marks a credential the identity service refused. It is final for the attempt.
	ErrRejected = errors.New("stream key rejected")
	// ErrUnavailable marks a transport failure or timeout. Callers may retry on their own terms.
	ErrUnavailable = errors.New("identity service unavailable")
)

const validatePath = "/v1/stream-keys/validate"

type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return ErrRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrRejected.Error(), e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

type Identity struct {
	OwnerID   string
	OwnerName string
}

type Validator interface {
	Validate(ctx context.Context, streamKey string) (Identity, error)
}

// Client validates stream keys over HTTP. Results are never cached: a key can be
// revoked between two publish attempts.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetLogger(restyLogger{})
	return &Client{client: client}
}

func (c *Client) Validate(ctx context.Context, streamKey string) (Identity, error) {
	if strings.TrimSpace(streamKey) == "" {
		return Identity{}, &RejectedError{Reason: "empty stream key"}
	}

	var result dto.ValidateStreamKeyResponse
	var failure dto.ValidateStreamKeyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(dto.ValidateStreamKeyRequest{StreamKey: streamKey}).
		SetResult(&result).
		SetError(&failure).
		ForceContentType("application/json").
		Post(validatePath)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("identity service call failed")
		return Identity{}, errors.Join(ErrUnavailable, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		reason := failure.Reason
		if reason == "" {
			reason = http.StatusText(resp.StatusCode())
		}
		return Identity{}, &RejectedError{Reason: reason}
	default:
		return Identity{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode())
	}

	if !result.Valid {
		return Identity{}, &RejectedError{Reason: result.Reason}
	}
	if result.OwnerID == "" {
		return Identity{}, fmt.Errorf("%w: response missing owner_id", ErrUnavailable)
	}
	return Identity{OwnerID: result.OwnerID, OwnerName: result.OwnerName}, nil
}

// restyLogger routes resty's internal messages to the global logger.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Error().Msgf(strings.TrimSpace(format), v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Msgf(strings.TrimSpace(format), v...)
}
