package entities

import (
	"fmt"
	"time"

	"live-ingest/constant"
)

// StreamSession tracks one admitted publish from admission to teardown.
type StreamSession struct {
	SessionID      string                 `json:"session_id"`
	StreamKey      string                 `json:"stream_key"`
	OwnerID        string                 `json:"owner_id"`
	OwnerName      string                 `json:"owner_name"`
	Protocol       constant.Protocol      `json:"protocol"`
	Status         constant.SessionStatus `json:"status"`
	ClientIP       string                 `json:"client_ip,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`

	// Populated once the input has been probed.
	Bitrate    *int     `json:"bitrate,omitempty"`
	Resolution *string  `json:"resolution,omitempty"`
	FrameRate  *float64 `json:"frame_rate,omitempty"`
	Codec      *string  `json:"codec,omitempty"`
}

var allowedTransitions = map[constant.SessionStatus][]constant.SessionStatus{
	constant.SessionStatusConnecting: {constant.SessionStatusActive, constant.SessionStatusInactive, constant.SessionStatusError},
	constant.SessionStatusActive:     {constant.SessionStatusInactive, constant.SessionStatusError},
}

// Transition moves the session to next. Leaving active is terminal.
func (s *StreamSession) Transition(next constant.SessionStatus, at time.Time) error {
	if s.Status == next {
		s.LastActivityAt = at
		return nil
	}
	for _, allowed := range allowedTransitions[s.Status] {
		if allowed == next {
			s.Status = next
			s.LastActivityAt = at
			return nil
		}
	}
	return fmt.Errorf("session %s: illegal transition %s -> %s", s.SessionID, s.Status, next)
}

// ApplyMetrics folds probed metrics into the session.
func (s *StreamSession) ApplyMetrics(m *QualityMetrics) {
	if m == nil {
		return
	}
	bitrate := m.Bitrate
	resolution := m.Resolution
	frameRate := m.FrameRate
	codec := m.Codec
	s.Bitrate = &bitrate
	s.Resolution = &resolution
	s.FrameRate = &frameRate
	s.Codec = &codec
}

// Duration is the elapsed time since StartedAt.
func (s *StreamSession) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() || now.Before(s.StartedAt) {
		return 0
	}
	return now.Sub(s.StartedAt)
}
