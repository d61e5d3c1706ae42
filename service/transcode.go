package service

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

type Resolution struct {
	Width     int
	Height    int
	Bitrate   string // e.g., "800k"
	AudioRate string // e.g., "96k"
}

// Ladder of HLS rungs, highest first. All rungs share one audio rendition.
var resolutions = []Resolution{
	{Width: 1920, Height: 1080, Bitrate: "5000k", AudioRate: "192k"},
	{Width: 1280, Height: 720, Bitrate: "3000k", AudioRate: "192k"},
	{Width: 854, Height: 480, Bitrate: "1500k", AudioRate: "128k"},
	{Width: 640, Height: 360, Bitrate: "800k", AudioRate: "96k"},
	{Width: 256, Height: 144, Bitrate: "200k", AudioRate: "64k"},
}

const (
	masterPlaylistName = "master.m3u8"
	audioPlaylistName  = "audio.m3u8"
	hlsSegmentSeconds  = "4"
	hlsListSize        = "6"
	hlsFlags           = "delete_segments+independent_segments+program_date_time"
)

func rungPlaylistName(r Resolution) string {
	return fmt.Sprintf("%dp.m3u8", r.Height)
}

// buildLiveTranscodeArgs returns the ffmpeg arguments that read a live input and write a
// rolling HLS window per rung plus a shared audio rendition into outputDir.
func buildLiveTranscodeArgs(inputURL, outputDir string) []string {
	var filterComplexBuilder strings.Builder
	filterComplexBuilder.WriteString(fmt.Sprintf("[0:v]split=%d", len(resolutions)))
	for i := range resolutions {
		filterComplexBuilder.WriteString(fmt.Sprintf("[s%d]", i))
	}
	filterComplexBuilder.WriteString("; ")
	for i, r := range resolutions {
		filterComplexBuilder.WriteString(
			fmt.Sprintf("[s%d]scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2[v%d]; ",
				i, r.Width, r.Height, r.Width, r.Height, r.Height))
	}

	ffmpegArgs := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", inputURL,
		"-filter_complex", strings.TrimSuffix(filterComplexBuilder.String(), "; "),
	}

	for _, r := range resolutions {
		segmentName := fmt.Sprintf("%dp_%%05d.ts", r.Height)

		ffmpegArgs = append(ffmpegArgs,
			"-map", fmt.Sprintf("[v%d]", r.Height),

			"-c:v", "libx264",
			"-preset", "veryfast",
			"-tune", "zerolatency",
			"-g", "60",
			"-sc_threshold", "0",
			"-b:v", r.Bitrate,
			"-maxrate", r.Bitrate,
			"-bufsize", r.Bitrate,

			"-f", "hls",
			"-hls_time", hlsSegmentSeconds,
			"-hls_list_size", hlsListSize,
			"-hls_flags", hlsFlags,
			"-hls_segment_filename", filepath.Join(outputDir, segmentName),
			filepath.Join(outputDir, rungPlaylistName(r)),
		)
	}

	ffmpegArgs = append(ffmpegArgs,
		"-map", "0:a:0?",
		"-c:a", "aac",
		"-b:a", resolutions[0].AudioRate,
		"-f", "hls",
		"-hls_time", hlsSegmentSeconds,
		"-hls_list_size", hlsListSize,
		"-hls_flags", hlsFlags,
		"-hls_segment_filename", filepath.Join(outputDir, "audio_%05d.ts"),
		filepath.Join(outputDir, audioPlaylistName))

	return ffmpegArgs
}

func buildMasterPlaylist() string {
	var contentBuilder strings.Builder
	contentBuilder.WriteString("#EXTM3U\n")
	contentBuilder.WriteString("#EXT-X-VERSION:3\n\n")

	contentBuilder.WriteString(`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="Main",DEFAULT=YES,AUTOSELECT=YES,URI="` + audioPlaylistName + `"` + "\n\n")

	for _, r := range resolutions {
		var videoKbps, audioKbps int
		fmt.Sscanf(r.Bitrate, "%dk", &videoKbps)
		fmt.Sscanf(resolutions[0].AudioRate, "%dk", &audioKbps)

		totalBandwidth := (videoKbps + audioKbps) * 1000

		contentBuilder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"avc1.640028,mp4a.40.2\",AUDIO=\"audio\"\n", totalBandwidth, r.Width, r.Height))
		contentBuilder.WriteString(rungPlaylistName(r) + "\n")
	}
	return contentBuilder.String()
}

func writeMasterPlaylist(outputDir string) error {
	tmp := filepath.Join(outputDir, masterPlaylistName+".tmp")
	if err := os.WriteFile(tmp, []byte(buildMasterPlaylist()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(outputDir, masterPlaylistName))
}

// validOwner reports whether owner is safe to use as a single path component.
func validOwner(owner string) bool {
	if owner == "" || owner == "." || owner == ".." {
		return false
	}
	return !strings.ContainsAny(owner, `/\`) && !strings.ContainsRune(owner, 0)
}

// logWriter forwards ffmpeg output line by line to the structured logger.
type logWriter struct {
	logger zerolog.Logger
}

func newLogWriter(logger *zerolog.Logger, owner, stream string) *logWriter {
	return &logWriter{logger: logger.With().Str("owner_id", owner).Str("stream", stream).Logger()}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug().Msg(string(line))
	}
	return total, nil
}
