package convert

import (
	"fmt"
	"math"
	"strings"

	"sticker-convert/internal/platform"
	"sticker-convert/internal/probe"
)

const (
	defaultQualityMax = 90
	defaultQualityMin = 10
	fullColor         = 257
	defaultColorsMin  = 32
	// fakeVideoSeconds is how long a static image plays as an animation.
	fakeVideoSeconds = 1.0
	// durationMargin keeps sped up output under the limit after frame rounding.
	durationMargin = 0.98
)

// params are the encoder settings for one compression step.
type params struct {
	Width, Height int // fit box
	// Canvas is the padded output size; zero means no padding.
	CanvasW, CanvasH int
	FPS              float64
	Quality          int
	Colors           int
	Speed            float64
}

// paramsFor interpolates step settings from the preset maximum (step 0)
// towards its minimum (last step).
func paramsFor(info *probe.Info, spec *platform.Spec, step, steps int, animated bool) params {
	t := 0.0
	if steps > 1 {
		t = float64(step) / float64(steps-1)
	}

	maxW, maxH := spec.Width.Max, spec.Height.Max
	if maxW == 0 {
		maxW = info.Width
	}
	if maxH == 0 {
		maxH = info.Height
	}
	if spec.Square {
		side := min(maxW, maxH)
		maxW, maxH = side, side
	}
	minW := spec.Width.Min
	if minW == 0 || minW > maxW {
		minW = maxW * 3 / 4
	}
	minH := spec.Height.Min
	if minH == 0 || minH > maxH {
		minH = maxH * 3 / 4
	}
	if spec.SideAtMax {
		minW, minH = maxW, maxH
	}

	p := params{
		Width:   max(lerpInt(maxW, minW, t), 1),
		Height:  max(lerpInt(maxH, minH, t), 1),
		Quality: lerpInt(orInt(spec.Quality.Max, defaultQualityMax), orInt(spec.Quality.Min, defaultQualityMin), t),
		Colors:  lerpInt(orInt(spec.Colors.Max, fullColor), orInt(spec.Colors.Min, defaultColorsMin), t),
		Speed:   1,
	}
	if spec.Square {
		p.Height = p.Width
	}
	if spec.Square || exact(spec.Width) {
		p.CanvasW = p.Width
	}
	if spec.Square || exact(spec.Height) {
		p.CanvasH = p.Height
	}
	if p.CanvasW > 0 && p.CanvasH == 0 {
		p.CanvasH = p.Height
	}
	if p.CanvasH > 0 && p.CanvasW == 0 {
		p.CanvasW = p.Width
	}

	if !animated {
		return p
	}

	srcFPS := info.FPS
	durationMS := float64(info.DurationMS)
	if !info.Animated {
		srcFPS = 25
		durationMS = fakeVideoSeconds * 1000
	}
	if srcFPS <= 0 {
		srcFPS = 25
	}
	maxF := srcFPS
	if spec.FPS.Max > 0 && maxF > spec.FPS.Max {
		maxF = spec.FPS.Max
	}
	if spec.FPS.Min > 0 && maxF < spec.FPS.Min {
		maxF = spec.FPS.Min
	}
	minF := math.Max(spec.FPS.Min, maxF/2)
	if minF > maxF {
		minF = maxF
	}
	p.FPS = math.Round(lerp(maxF, minF, t)*1000) / 1000

	switch {
	case spec.Duration.Max > 0 && durationMS > float64(spec.Duration.Max):
		p.Speed = durationMS / (float64(spec.Duration.Max) * durationMargin)
	case spec.Duration.Min > 0 && durationMS > 0 && durationMS < float64(spec.Duration.Min):
		p.Speed = durationMS / float64(spec.Duration.Min)
	}
	return p
}

func exact(r platform.IntRange) bool {
	return r.Min > 0 && r.Min == r.Max
}

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}

func lerpInt(from, to int, t float64) int {
	return int(math.Round(lerp(float64(from), float64(to), t)))
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// quantize reports whether the step calls for a reduced palette.
func (p params) quantize() bool {
	return p.Colors > 0 && p.Colors <= 256
}

// crf maps quality 0-100 to a libvpx crf, 63 being the worst.
func (p params) crf() int {
	q := min(max(p.Quality, 0), 100)
	return int(math.Round(4 + float64(100-q)*0.59))
}

// videoFilter builds the ffmpeg filter chain shared by every animated encoder.
func (p params) videoFilter() string {
	var f []string
	if p.Speed > 0 && math.Abs(p.Speed-1) > 1e-3 {
		f = append(f, fmt.Sprintf("setpts=PTS/%.4f", p.Speed))
	}
	if p.FPS > 0 {
		f = append(f, fmt.Sprintf("fps=%g", p.FPS))
	}
	f = append(f,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2:flags=lanczos", p.Width, p.Height),
		"format=rgba",
	)
	if p.CanvasW > 0 {
		f = append(f, fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=0x00000000", p.CanvasW, p.CanvasH))
	}
	return strings.Join(f, ",")
}

// frameDelayMS is the per-frame delay matching the step's frame rate.
func (p params) frameDelayMS() int {
	if p.FPS <= 0 {
		return 100
	}
	return max(int(math.Round(1000/p.FPS)), 1)
}
