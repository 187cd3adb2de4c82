package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/toolchain"
)

var (
	// ErrNotFound is returned when the probed path does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrUnsupported is returned when neither a container parser nor
	// ffprobe could read the file.
	ErrUnsupported = errors.New("unsupported file")
	// errMalformed marks container parse failures that should fall back to ffprobe.
	errMalformed = errors.New("malformed container")
)

// Info describes a sticker file.
type Info struct {
	Path       string  `json:"path"`
	Format     string  `json:"format"`
	Codec      string  `json:"codec"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Frames     int     `json:"frames"`
	DurationMS int64   `json:"durationMs"`
	Animated   bool    `json:"animated"`
	Alpha      bool    `json:"alpha"`
	Size       int64   `json:"size"`
	Method     string  `json:"method"`
}

// Duration returns the play time as a time.Duration.
func (i *Info) Duration() time.Duration {
	return time.Duration(i.DurationMS) * time.Millisecond
}

// Prober extracts Info from files. Container formats that can be read in
// pure Go (PNG/APNG, WebP, GIF, TGS and static rasters) never touch an
// external tool; everything else goes through ffprobe.
type Prober struct {
	runner toolchain.Runner
}

// New creates a prober. runner may be nil, in which case only container
// parsing is available.
func New(runner toolchain.Runner) *Prober {
	return &Prober{runner: runner}
}

// Probe reads the metadata of the file at path.
func (p *Prober) Probe(ctx context.Context, path string) (*Info, error) {
	start := time.Now()
	format := formats.FromPath(path)

	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, ErrUnsupported)
	}

	info, err := probeContainer(path, format)
	method := "container"
	if err != nil {
		logging.Debug("Container probe of %s failed (%v), falling back to ffprobe", path, err)
		method = "ffprobe"
		info, err = p.probeFFprobe(ctx, path, err)
	}

	metrics.ProbeDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProbesTotal.WithLabelValues(format, method, "error").Inc()
		return nil, err
	}
	metrics.ProbesTotal.WithLabelValues(format, method, "success").Inc()

	info.Path = path
	info.Format = format
	info.Size = st.Size()
	info.Method = method
	finalize(info)
	return info, nil
}

// probeContainer dispatches to the pure Go parsers.
func probeContainer(path, format string) (*Info, error) {
	switch format {
	case formats.PNG, formats.APNG:
		return probePNG(path)
	case formats.WebP:
		return probeWebP(path)
	case formats.GIF:
		return probeGIF(path)
	case formats.TGS:
		return probeTGS(path)
	}
	if formats.GetKind(format) == formats.KindStatic {
		return probeStatic(path)
	}
	return nil, fmt.Errorf("no container parser for %q: %w", format, errMalformed)
}

func (p *Prober) probeFFprobe(ctx context.Context, path string, containerErr error) (*Info, error) {
	if p.runner == nil || !p.runner.Available(toolchain.FFprobe) {
		return nil, fmt.Errorf("%s: %w (container: %v; ffprobe: %v)", path, ErrUnsupported, containerErr, toolchain.ErrToolNotFound)
	}
	info, err := runFFprobe(ctx, p.runner, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w (container: %v; ffprobe: %v)", path, ErrUnsupported, containerErr, err)
	}
	return info, nil
}

// finalize derives the fields a parser may have left empty.
func finalize(info *Info) {
	if info.Frames > 1 {
		info.Animated = true
	}
	if info.Animated && info.FPS == 0 && info.Frames > 0 && info.DurationMS > 0 {
		info.FPS = float64(info.Frames) * 1000 / float64(info.DurationMS)
	}
	if info.Animated && info.Frames == 0 && info.FPS > 0 && info.DurationMS > 0 {
		info.Frames = int(math.Round(info.FPS * float64(info.DurationMS) / 1000))
	}
	if !info.Animated {
		info.FPS = 0
		info.DurationMS = 0
		if info.Frames == 0 {
			info.Frames = 1
		}
	}
	info.FPS = math.Round(info.FPS*1000) / 1000
}

// IsAnimated reports whether the file has more than one frame.
func (p *Prober) IsAnimated(ctx context.Context, path string) (bool, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return false, err
	}
	return info.Animated, nil
}

// FPS returns the frame rate of an animated file, or 0 for a static one.
func (p *Prober) FPS(ctx context.Context, path string) (float64, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.FPS, nil
}

// Frames returns the number of frames.
func (p *Prober) Frames(ctx context.Context, path string) (int, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Frames, nil
}

// Duration returns the play time of an animated file.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration(), nil
}

// Resolution returns width and height in pixels.
func (p *Prober) Resolution(ctx context.Context, path string) (int, int, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	return info.Width, info.Height, nil
}

// Codec returns the codec or container name of the file.
func (p *Prober) Codec(ctx context.Context, path string) (string, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return "", err
	}
	return info.Codec, nil
}
