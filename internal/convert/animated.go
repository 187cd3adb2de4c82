package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/probe"
	"sticker-convert/internal/toolchain"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/disintegration/imaging"
)

var ffmpegBase = []string{"-hide_banner", "-v", "error", "-y"}

// decoderArgs selects libvpx for VP8/VP9 input; the native decoders drop
// the alpha channel.
func decoderArgs(info *probe.Info) []string {
	if info == nil {
		return nil
	}
	switch info.Codec {
	case "vp9":
		return []string{"-c:v", "libvpx-vp9"}
	case "vp8":
		return []string{"-c:v", "libvpx"}
	}
	return nil
}

// inputArgs returns the ffmpeg input arguments for src, preparing
// intermediate files in the work directory on first use.
func (c *Converter) inputArgs(ctx context.Context, src *source) ([]string, error) {
	if src.input != nil {
		return src.input, nil
	}
	if !c.has(toolchain.FFmpeg) {
		return nil, fmt.Errorf("animated output needs ffmpeg: %w", ErrNoEncoder)
	}

	switch {
	case !src.info.Animated:
		// Static input played as a short clip.
		img, err := c.staticFrame(ctx, src)
		if err != nil {
			return nil, err
		}
		still := filepath.Join(src.workDir, "still.png")
		if err := imaging.Save(img, still); err != nil {
			return nil, err
		}
		src.input = []string{"-loop", "1", "-framerate", "25", "-t", strconv.FormatFloat(fakeVideoSeconds, 'f', 3, 64), "-i", still}

	case src.info.Format == formats.WebP && c.has(toolchain.Magick):
		// ffmpeg cannot decode animated WebP; coalesce to frames first.
		pattern := filepath.Join(src.workDir, "src%05d.png")
		if _, err := c.run(ctx, toolchain.Magick, src.path, "-coalesce", pattern); err != nil {
			return nil, fmt.Errorf("failed to extract webp frames: %w", err)
		}
		fps := src.info.FPS
		if fps <= 0 {
			fps = 25
		}
		src.input = []string{"-framerate", strconv.FormatFloat(fps, 'f', 3, 64), "-i", pattern}

	default:
		src.input = append(decoderArgs(src.info), "-i", src.path)
	}
	return src.input, nil
}

func (c *Converter) ffmpeg(ctx context.Context, src *source, output ...string) error {
	in, err := c.inputArgs(ctx, src)
	if err != nil {
		return err
	}
	args := make([]string, 0, len(ffmpegBase)+len(in)+len(output))
	args = append(args, ffmpegBase...)
	args = append(args, in...)
	args = append(args, output...)
	_, err = c.run(ctx, toolchain.FFmpeg, args...)
	return err
}

func (c *Converter) encodeWebM(ctx context.Context, src *source, p params, dst string) error {
	return c.ffmpeg(ctx, src,
		"-vf", p.videoFilter(),
		"-c:v", "libvpx-vp9",
		"-pix_fmt", "yuva420p",
		"-crf", strconv.Itoa(p.crf()),
		"-b:v", "0",
		"-deadline", "good",
		"-cpu-used", "2",
		"-row-mt", "1",
		"-auto-alt-ref", "0",
		"-an",
		"-f", "webm", dst)
}

// paletteFilter appends a generated palette limited to colors entries.
func paletteFilter(p params) string {
	colors := min(max(p.Colors, 2), 256)
	return p.videoFilter() + fmt.Sprintf(
		",split[a][b];[a]palettegen=max_colors=%d:reserve_transparent=1:stats_mode=diff[pal];[b][pal]paletteuse=dither=bayer:bayer_scale=3:alpha_threshold=128",
		colors)
}

func (c *Converter) encodeGIF(ctx context.Context, src *source, p params, dst string) error {
	return c.ffmpeg(ctx, src,
		"-filter_complex", paletteFilter(p),
		"-loop", "0",
		"-an",
		"-f", "gif", dst)
}

func (c *Converter) encodeAnimatedWebP(ctx context.Context, src *source, p params, dst string) error {
	return c.ffmpeg(ctx, src,
		"-vf", p.videoFilter(),
		"-c:v", "libwebp_anim",
		"-pix_fmt", "yuva420p",
		"-quality", strconv.Itoa(p.Quality),
		"-lossless", "0",
		"-compression_level", "6",
		"-loop", "0",
		"-an",
		"-f", "webp", dst)
}

// encodeAPNG prefers apngasm over per-frame quantized PNGs and falls back
// to ffmpeg's own APNG muxer.
func (c *Converter) encodeAPNG(ctx context.Context, src *source, p params, dst string) error {
	if c.has(toolchain.Apngasm) {
		err := c.assembleAPNG(ctx, src, p, dst)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn("apngasm pipeline failed for %s, using ffmpeg: %v", filepath.Base(src.path), err)
	}

	vf := []string{"-vf", p.videoFilter()}
	if p.quantize() {
		vf = []string{"-filter_complex", paletteFilter(p)}
	}
	return c.ffmpeg(ctx, src, append(vf,
		"-plays", "0",
		"-an",
		"-f", "apng", dst)...)
}

func (c *Converter) assembleAPNG(ctx context.Context, src *source, p params, dst string) error {
	dir := dst + ".frames"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := c.ffmpeg(ctx, src,
		"-vf", p.videoFilter(),
		"-pix_fmt", "rgba",
		"-start_number", "0",
		filepath.Join(dir, "%05d.png")); err != nil {
		return err
	}

	frames, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("ffmpeg produced no frames")
	}
	sort.Strings(frames)

	for _, f := range frames {
		if err := normalizeFrame(f); err != nil {
			return err
		}
		if p.quantize() {
			c.quantizePNG(ctx, f, p.Colors)
		}
	}

	args := []string{"-F", "-d", strconv.Itoa(p.frameDelayMS()), "-o", dst}
	_, err = c.run(ctx, toolchain.Apngasm, append(args, frames...)...)
	return err
}

// normalizeFrame rewrites a frame as 8-bit NRGBA so every frame shares one
// color type.
func normalizeFrame(path string) error {
	img, err := imgio.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read frame %s: %w", filepath.Base(path), err)
	}
	return imgio.Save(path, imaging.Clone(img), imgio.PNGEncoder())
}
