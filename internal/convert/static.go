package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/probe"
	"sticker-convert/internal/toolchain"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// source is a probed input plus lazily decoded state shared across steps.
type source struct {
	path    string
	info    *probe.Info
	workDir string

	frame    image.Image
	frameErr error
	decoded  bool

	// input overrides the ffmpeg input arguments, e.g. for pre-extracted frames.
	input []string
}

// encoder writes one compression step of src to dst.
type encoder func(ctx context.Context, src *source, p params, dst string) error

func (c *Converter) encoderFor(ext string, animated bool) (encoder, error) {
	if animated {
		switch ext {
		case formats.WebM:
			return c.encodeWebM, nil
		case formats.GIF:
			return c.encodeGIF, nil
		case formats.WebP:
			return c.encodeAnimatedWebP, nil
		case formats.PNG, formats.APNG:
			return c.encodeAPNG, nil
		}
		return nil, fmt.Errorf("animated %s: %w", ext, ErrNoEncoder)
	}
	switch ext {
	case formats.PNG, formats.APNG:
		return c.encodeStaticPNG, nil
	case formats.WebP:
		return c.encodeStaticWebP, nil
	case formats.JPEG, ".jpeg":
		return c.encodeStaticJPEG, nil
	case formats.GIF:
		return c.encodeStaticGIF, nil
	}
	return nil, fmt.Errorf("static %s: %w", ext, ErrNoEncoder)
}

// staticFrame returns the first frame of src, decoding it once.
func (c *Converter) staticFrame(ctx context.Context, src *source) (image.Image, error) {
	if !src.decoded {
		src.frame, src.frameErr = c.decodeFirstFrame(ctx, src.path, src.info)
		src.decoded = true
	}
	return src.frame, src.frameErr
}

// decodeFirstFrame tries imaging, libvips, ImageMagick and ffmpeg in turn.
func (c *Converter) decodeFirstFrame(ctx context.Context, path string, info *probe.Info) (image.Image, error) {
	var errs []error

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	errs = append(errs, fmt.Errorf("imaging: %w", err))

	if IsVipsAvailable() {
		img, err := loadWithVips(path)
		if err == nil {
			return img, nil
		}
		errs = append(errs, err)
	}

	if c.has(toolchain.Magick) {
		img, err := decodePNG(c.run(ctx, toolchain.Magick, path+"[0]", "png:-"))
		if err == nil {
			return img, nil
		}
		errs = append(errs, fmt.Errorf("magick: %w", err))
	}

	if c.has(toolchain.FFmpeg) {
		args := append(decoderArgs(info), "-i", path, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")
		img, err := decodePNG(c.run(ctx, toolchain.FFmpeg, append([]string{"-hide_banner", "-v", "error"}, args...)...))
		if err == nil {
			return img, nil
		}
		errs = append(errs, fmt.Errorf("ffmpeg: %w", err))
	}

	return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), errors.Join(errs...))
}

func decodePNG(data []byte, err error) (image.Image, error) {
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(data))
}

// render fits img inside the step's box, scaling up or down, and centers
// it on a transparent canvas when the step asks for one.
func render(img image.Image, p params) *image.NRGBA {
	b := img.Bounds()
	scale := math.Min(float64(p.Width)/float64(b.Dx()), float64(p.Height)/float64(b.Dy()))
	w := max(int(math.Round(float64(b.Dx())*scale)), 1)
	h := max(int(math.Round(float64(b.Dy())*scale)), 1)

	resized := imaging.Resize(img, min(w, p.Width), min(h, p.Height), imaging.Lanczos)
	if p.CanvasW == 0 {
		return resized
	}
	canvas := imaging.New(p.CanvasW, p.CanvasH, color.NRGBA{})
	return imaging.PasteCenter(canvas, resized)
}

func (c *Converter) renderStep(ctx context.Context, src *source, p params) (*image.NRGBA, error) {
	img, err := c.staticFrame(ctx, src)
	if err != nil {
		return nil, err
	}
	return render(img, p), nil
}

func (c *Converter) encodeStaticPNG(ctx context.Context, src *source, p params, dst string) error {
	img, err := c.renderStep(ctx, src, p)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, dst, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	if p.quantize() {
		c.quantizePNG(ctx, dst, p.Colors)
	}
	c.optimizePNG(ctx, dst)
	return nil
}

// quantizePNG reduces path to a palette of colors in place. Without
// pngquant the full color file is kept.
func (c *Converter) quantizePNG(ctx context.Context, path string, colors int) {
	if !c.has(toolchain.Pngquant) {
		logging.Debug("pngquant not available, keeping %s at full color", filepath.Base(path))
		return
	}
	colors = min(max(colors, 2), 256)
	_, err := c.run(ctx, toolchain.Pngquant,
		"--force", "--ext", ".png", "--speed", "3", "--strip", strconv.Itoa(colors), "--", path)
	if err != nil {
		logging.Warn("pngquant failed on %s: %v", filepath.Base(path), err)
	}
}

func (c *Converter) optimizePNG(ctx context.Context, path string) {
	if !c.has(toolchain.Optipng) {
		return
	}
	if _, err := c.run(ctx, toolchain.Optipng, "-quiet", "-o2", path); err != nil {
		logging.Warn("optipng failed on %s: %v", filepath.Base(path), err)
	}
}

func (c *Converter) encodeStaticWebP(ctx context.Context, src *source, p params, dst string) error {
	img, err := c.renderStep(ctx, src, p)
	if err != nil {
		return err
	}

	if IsVipsAvailable() {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return err
		}
		data, err := webpWithVips(buf.Bytes(), p.Quality)
		if err == nil {
			return os.WriteFile(dst, data, 0o644)
		}
		logging.Warn("libvips webp encode failed, trying ffmpeg: %v", err)
	}

	if !c.has(toolchain.FFmpeg) {
		return fmt.Errorf("static webp needs libvips or ffmpeg: %w", ErrNoEncoder)
	}
	tmp := dst + ".src.png"
	if err := imaging.Save(img, tmp); err != nil {
		return err
	}
	defer os.Remove(tmp)

	_, err = c.run(ctx, toolchain.FFmpeg, "-hide_banner", "-v", "error", "-y",
		"-i", tmp, "-frames:v", "1", "-c:v", "libwebp", "-quality", strconv.Itoa(p.Quality),
		"-lossless", "0", "-compression_level", "6", "-f", "webp", dst)
	return err
}

func (c *Converter) encodeStaticJPEG(ctx context.Context, src *source, p params, dst string) error {
	img, err := c.renderStep(ctx, src, p)
	if err != nil {
		return err
	}
	// JPEG has no alpha; flatten onto white
	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
	flat := imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	return imaging.Save(flat, dst, imaging.JPEGQuality(p.Quality))
}

func (c *Converter) encodeStaticGIF(ctx context.Context, src *source, p params, dst string) error {
	img, err := c.renderStep(ctx, src, p)
	if err != nil {
		return err
	}
	return imaging.Save(img, dst, imaging.GIFNumColors(min(max(p.Colors, 2), 256)))
}
