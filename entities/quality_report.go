package entities

import "time"

type QualityMetrics struct {
	Bitrate    int           `json:"bitrate"` // kbps
	Resolution string        `json:"resolution"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	FrameRate  float64       `json:"frame_rate"`
	Codec      string        `json:"codec"`
	Duration   time.Duration `json:"duration"`
	HasAudio   bool          `json:"has_audio"`
	AudioCodec string        `json:"audio_codec,omitempty"`
}

// QualityReport is the outcome of probing a live input. It is never persisted.
type QualityReport struct {
	Valid    bool            `json:"valid"`
	Reasons  []string        `json:"reasons"`
	Warnings []string        `json:"warnings,omitempty"`
	Metrics  *QualityMetrics `json:"metrics,omitempty"`
}
