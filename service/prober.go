package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"live-ingest/config"
	"live-ingest/entities"
)

// Prober inspects a live input once and judges it against the quality policy.
type Prober interface {
	Probe(ctx context.Context, inputURL string) entities.QualityReport
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, err
	}
	return out, nil
}

type prober struct {
	bin        string
	timeout    time.Duration
	thresholds config.Quality
	run        commandRunner
}

func NewProber(bin string, timeout time.Duration, thresholds config.Quality) Prober {
	if strings.TrimSpace(bin) == "" {
		bin = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &prober{
		bin:        bin,
		timeout:    timeout,
		thresholds: thresholds,
		run:        runCommand,
	}
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	BitRate      string `json:"bit_rate"`
}

type probeFormat struct {
	BitRate  string `json:"bit_rate"`
	Duration string `json:"duration"`
}

func (p *prober) Probe(ctx context.Context, inputURL string) (report entities.QualityReport) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Str("input", inputURL).Msg("probe panicked")
			report = invalidReport(fmt.Sprintf("probe failed: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.run(ctx, p.bin,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		inputURL,
	)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("input", inputURL).Msg("ffprobe failed")
		return invalidReport(fmt.Sprintf("probe failed: %v", err))
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return invalidReport(fmt.Sprintf("unparseable probe output: %v", err))
	}
	return p.evaluate(parsed)
}

func invalidReport(reason string) entities.QualityReport {
	return entities.QualityReport{Valid: false, Reasons: []string{reason}}
}

// evaluate collects every threshold violation instead of stopping at the first.
func (p *prober) evaluate(out probeOutput) entities.QualityReport {
	var video, audio *probeStream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}

	report := entities.QualityReport{Reasons: []string{}}
	if video == nil {
		report.Reasons = append(report.Reasons, "no video track")
		if audio == nil {
			report.Warnings = append(report.Warnings, "no audio track")
		}
		return report
	}

	bitrate := parseKbps(video.BitRate)
	if bitrate == 0 {
		bitrate = parseKbps(out.Format.BitRate)
	}
	frameRate := parseFrameRate(video.RFrameRate)
	if frameRate == 0 {
		frameRate = parseFrameRate(video.AvgFrameRate)
	}
	metrics := &entities.QualityMetrics{
		Bitrate:    bitrate,
		Resolution: fmt.Sprintf("%dx%d", video.Width, video.Height),
		Width:      video.Width,
		Height:     video.Height,
		FrameRate:  frameRate,
		Codec:      video.CodecName,
		Duration:   parseSeconds(out.Format.Duration),
		HasAudio:   audio != nil,
	}
	if audio != nil {
		metrics.AudioCodec = audio.CodecName
	} else {
		report.Warnings = append(report.Warnings, "no audio track")
	}
	report.Metrics = metrics

	t := p.thresholds
	if bitrate < t.MinBitrate {
		report.Reasons = append(report.Reasons, fmt.Sprintf("bitrate too low: %d kbps (minimum %d kbps)", bitrate, t.MinBitrate))
	} else if t.MaxBitrate > 0 && bitrate > t.MaxBitrate {
		report.Reasons = append(report.Reasons, fmt.Sprintf("bitrate too high: %d kbps (maximum %d kbps)", bitrate, t.MaxBitrate))
	}
	if video.Width < t.MinWidth || video.Height < t.MinHeight {
		report.Reasons = append(report.Reasons, fmt.Sprintf("resolution too low: %s (minimum %dx%d)", metrics.Resolution, t.MinWidth, t.MinHeight))
	}
	if frameRate < t.MinFrameRate {
		report.Reasons = append(report.Reasons, fmt.Sprintf("frame rate too low: %.2f fps (minimum %.2f fps)", frameRate, t.MinFrameRate))
	} else if t.MaxFrameRate > 0 && frameRate > t.MaxFrameRate {
		report.Reasons = append(report.Reasons, fmt.Sprintf("frame rate too high: %.2f fps (maximum %.2f fps)", frameRate, t.MaxFrameRate))
	}

	report.Valid = len(report.Reasons) == 0
	return report
}

func parseKbps(bps string) int {
	v, err := strconv.ParseFloat(strings.TrimSpace(bps), 64)
	if err != nil || v <= 0 {
		return 0
	}
	return int(math.Round(v / 1000))
}

// parseFrameRate accepts "num/den" or a plain number; "0/0" yields 0.
func parseFrameRate(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	num, den, found := strings.Cut(raw, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return math.Round(n/d*100) / 100
}

func parseSeconds(raw string) time.Duration {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
