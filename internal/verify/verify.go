package verify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"
	"sticker-convert/internal/probe"
)

// Check names reported in a Violation.
const (
	CheckResolution = "resolution"
	CheckSquare     = "square"
	CheckSide       = "side"
	CheckFPS        = "fps"
	CheckDuration   = "duration"
	CheckSize       = "size"
	CheckAnimated   = "animated"
	CheckFormat     = "format"
	CheckCodec      = "codec"
)

// fpsTolerance absorbs rounding in rational frame rates such as 30000/1001.
const fpsTolerance = 0.01

// Violation is one failed constraint.
type Violation struct {
	Check string `json:"check"`
	Want  string `json:"want"`
	Got   string `json:"got"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: want %s, got %s", v.Check, v.Want, v.Got)
}

// Report is the outcome of checking one file.
type Report struct {
	Path       string      `json:"path"`
	Preset     string      `json:"preset"`
	Info       *probe.Info `json:"info"`
	Violations []Violation `json:"violations"`
}

// OK reports whether the file passed every check.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Failed returns the names of the checks that failed.
func (r *Report) Failed() []string {
	names := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		names[i] = v.Check
	}
	return names
}

// Prober is the subset of probe.Prober the verifier needs.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Info, error)
}

// Verifier checks files against platform specs.
type Verifier struct {
	prober Prober
}

// New creates a Verifier.
func New(prober Prober) *Verifier {
	return &Verifier{prober: prober}
}

// Check probes path and evaluates it against spec. Probe failures are
// returned as errors wrapping probe.ErrNotFound or probe.ErrUnsupported;
// constraint failures are reported in the Report.
func (v *Verifier) Check(ctx context.Context, path string, spec *platform.Spec) (*Report, error) {
	info, err := v.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", path, err)
	}

	report := &Report{
		Path:       path,
		Preset:     spec.Name,
		Info:       info,
		Violations: CheckInfo(info, spec),
	}

	result := "pass"
	if !report.OK() {
		result = "fail"
	}
	metrics.VerifyChecksTotal.WithLabelValues(spec.Name, result).Inc()
	for _, viol := range report.Violations {
		metrics.VerifyViolationsTotal.WithLabelValues(viol.Check).Inc()
	}
	return report, nil
}

// CheckInfo evaluates already probed file information against spec.
func CheckInfo(info *probe.Info, spec *platform.Spec) []Violation {
	var out []Violation
	add := func(check, want, got string) {
		out = append(out, Violation{Check: check, Want: want, Got: got})
	}

	if !spec.Width.Contains(info.Width) || !spec.Height.Contains(info.Height) {
		add(CheckResolution,
			fmt.Sprintf("%s x %s", describeInt(spec.Width), describeInt(spec.Height)),
			fmt.Sprintf("%dx%d", info.Width, info.Height))
	}
	if spec.Square && info.Width != info.Height {
		add(CheckSquare, "width == height", fmt.Sprintf("%dx%d", info.Width, info.Height))
	}
	if spec.SideAtMax && info.Width != spec.Width.Max && info.Height != spec.Height.Max {
		add(CheckSide, fmt.Sprintf("width == %d or height == %d", spec.Width.Max, spec.Height.Max),
			fmt.Sprintf("%dx%d", info.Width, info.Height))
	}

	if info.Animated {
		if !fpsInRange(info.FPS, spec.FPS) {
			add(CheckFPS, describeFloat(spec.FPS), fmt.Sprintf("%.3g", info.FPS))
		}
		if !spec.Duration.Contains(int(info.DurationMS)) {
			add(CheckDuration, describeInt(spec.Duration)+" ms", fmt.Sprintf("%d ms", info.DurationMS))
		}
	}

	if limit := spec.SizeMaxFor(info.Animated); limit > 0 && info.Size > limit {
		add(CheckSize, fmt.Sprintf("<= %d bytes", limit), fmt.Sprintf("%d bytes", info.Size))
	}

	if spec.Animated != nil && *spec.Animated != info.Animated {
		add(CheckAnimated, fmt.Sprintf("%v", *spec.Animated), fmt.Sprintf("%v", info.Animated))
	}

	if !spec.Accepts(info.Format, info.Animated) {
		list := spec.StaticFormats
		if info.Animated {
			list = spec.AnimatedFormats
		}
		add(CheckFormat, strings.Join(list, "|"), info.Format)
	}

	if info.Animated && len(spec.AnimatedCodecs) > 0 && !contains(spec.AnimatedCodecs, info.Codec) {
		add(CheckCodec, strings.Join(spec.AnimatedCodecs, "|"), info.Codec)
	}
	return out
}

func fpsInRange(fps float64, r platform.FloatRange) bool {
	if r.Min > 0 && fps < r.Min-fpsTolerance {
		return false
	}
	if r.Max > 0 && fps > r.Max+fpsTolerance {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func describeInt(r platform.IntRange) string {
	switch {
	case r.Min > 0 && r.Max > 0 && r.Min == r.Max:
		return fmt.Sprintf("%d", r.Min)
	case r.Min > 0 && r.Max > 0:
		return fmt.Sprintf("%d-%d", r.Min, r.Max)
	case r.Max > 0:
		return fmt.Sprintf("<= %d", r.Max)
	case r.Min > 0:
		return fmt.Sprintf(">= %d", r.Min)
	}
	return "any"
}

func describeFloat(r platform.FloatRange) string {
	trim := func(f float64) string {
		if f == math.Trunc(f) {
			return fmt.Sprintf("%d", int(f))
		}
		return fmt.Sprintf("%.3g", f)
	}
	switch {
	case r.Min > 0 && r.Max > 0:
		return trim(r.Min) + "-" + trim(r.Max)
	case r.Max > 0:
		return "<= " + trim(r.Max)
	case r.Min > 0:
		return ">= " + trim(r.Min)
	}
	return "any"
}
