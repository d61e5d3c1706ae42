package dto

import (
	"strings"
	"time"
)

// PublishHook is a lifecycle signal delivered by the media server. SRS posts JSON with
// app/stream, nginx-rtmp posts a form with app/name, others send the full stream path.
type PublishHook struct {
	Action     string `json:"action" form:"call"`
	ClientID   string `json:"client_id" form:"clientid"`
	ClientIP   string `json:"ip" form:"addr"`
	App        string `json:"app" form:"app"`
	Stream     string `json:"stream" form:"-"`
	Name       string `json:"name" form:"name"`
	StreamPath string `json:"stream_path" form:"stream_path"`
}

// Path returns the normalised publish path, e.g. "/live/<streamKey>".
func (h PublishHook) Path() string {
	if p := strings.TrimSpace(h.StreamPath); p != "" {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		return p
	}
	stream := strings.TrimSpace(h.Stream)
	if stream == "" {
		stream = strings.TrimSpace(h.Name)
	}
	// nginx-rtmp and SRS may append the query string to the stream name.
	if idx := strings.IndexByte(stream, '?'); idx >= 0 {
		stream = stream[:idx]
	}
	app := strings.Trim(strings.TrimSpace(h.App), "/")
	if app == "" {
		return "/" + stream
	}
	return "/" + app + "/" + stream
}

type StreamStartedEvent struct {
	SessionID  string    `json:"sessionId"`
	OwnerID    string    `json:"ownerId"`
	OwnerName  string    `json:"ownerName"`
	Bitrate    *int      `json:"bitrate,omitempty"`
	Resolution *string   `json:"resolution,omitempty"`
	FrameRate  *float64  `json:"frameRate,omitempty"`
	Codec      *string   `json:"codec,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
}

type StreamEndedEvent struct {
	SessionID       string    `json:"sessionId"`
	OwnerID         string    `json:"ownerId"`
	DurationSeconds float64   `json:"durationSeconds"`
	EndedAt         time.Time `json:"endedAt"`
}

type ValidateStreamKeyRequest struct {
	StreamKey string `json:"stream_key"`
}

type ValidateStreamKeyResponse struct {
	Valid     bool   `json:"valid"`
	OwnerID   string `json:"owner_id"`
	OwnerName string `json:"owner_name"`
	Reason    string `json:"reason,omitempty"`
}
