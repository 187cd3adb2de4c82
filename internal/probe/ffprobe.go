package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sticker-convert/internal/toolchain"
)

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

type ffprobeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	PixFmt       string            `json:"pix_fmt"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	NbFrames     string            `json:"nb_frames"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
}

// runFFprobe asks ffprobe for stream and container information.
func runFFprobe(ctx context.Context, runner toolchain.Runner, path string) (*Info, error) {
	out, err := runner.Run(ctx, toolchain.FFprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseFFprobe(out)
}

// parseFFprobe converts ffprobe's JSON into an Info.
func parseFFprobe(out []byte) (*Info, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var video *ffprobeStream
	for i := range parsed.Streams {
		if parsed.Streams[i].CodecType == "video" {
			video = &parsed.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("no video stream")
	}

	info := &Info{
		Codec:  video.CodecName,
		Width:  video.Width,
		Height: video.Height,
		Alpha:  hasAlpha(video),
	}

	info.FPS = parseRate(video.AvgFrameRate)
	if info.FPS == 0 {
		info.FPS = parseRate(video.RFrameRate)
	}

	duration := parseSeconds(video.Duration)
	if duration == 0 {
		duration = parseSeconds(parsed.Format.Duration)
	}
	info.DurationMS = int64(math.Round(duration * 1000))

	if n, err := strconv.Atoi(video.NbFrames); err == nil {
		info.Frames = n
	} else if info.FPS > 0 && duration > 0 {
		// Matroska/WebM does not store a frame count.
		info.Frames = int(math.Round(info.FPS * duration))
	}

	info.Animated = info.Frames > 1 || (info.Frames == 0 && info.DurationMS > 0)
	return info, nil
}

// hasAlpha recognizes alpha from the pixel format, or from the alpha_mode tag
// that WebM muxers write for VP8/VP9 streams decoded without alpha by ffprobe.
func hasAlpha(s *ffprobeStream) bool {
	for _, prefix := range alphaPixFmts {
		if strings.HasPrefix(s.PixFmt, prefix) {
			return true
		}
	}
	for k, v := range s.Tags {
		if strings.EqualFold(k, "alpha_mode") && v == "1" {
			return true
		}
	}
	return false
}

var alphaPixFmts = []string{"yuva", "rgba", "argb", "bgra", "abgr", "ya8", "ya16", "gbrap"}

// parseRate parses an ffprobe rational such as "30000/1001".
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
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
	return n / d
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
