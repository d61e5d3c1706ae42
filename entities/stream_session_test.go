package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"live-ingest/constant"
)

func TestTransitionLifecycle(t *testing.T) {
	now := time.Now()
	s := &StreamSession{SessionID: "s1", Status: constant.SessionStatusConnecting}

	require.NoError(t, s.Transition(constant.SessionStatusActive, now))
	require.Equal(t, constant.SessionStatusActive, s.Status)
	require.Equal(t, now, s.LastActivityAt)

	require.NoError(t, s.Transition(constant.SessionStatusInactive, now))
	require.Error(t, s.Transition(constant.SessionStatusActive, now))
	require.Error(t, s.Transition(constant.SessionStatusConnecting, now))
	require.Equal(t, constant.SessionStatusInactive, s.Status)
}

func TestTransitionActiveCannotReturnToConnecting(t *testing.T) {
	s := &StreamSession{Status: constant.SessionStatusActive}
	require.Error(t, s.Transition(constant.SessionStatusConnecting, time.Now()))
}

func TestApplyMetricsAndDuration(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	s := &StreamSession{StartedAt: start}
	s.ApplyMetrics(&QualityMetrics{Bitrate: 2000, Resolution: "1280x720", FrameRate: 30, Codec: "h264"})

	require.Equal(t, 2000, *s.Bitrate)
	require.Equal(t, "1280x720", *s.Resolution)
	require.Equal(t, 30.0, *s.FrameRate)
	require.Equal(t, "h264", *s.Codec)
	require.GreaterOrEqual(t, s.Duration(time.Now()), 90*time.Second)
	require.Zero(t, (&StreamSession{}).Duration(time.Now()))
}
