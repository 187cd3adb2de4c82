package platform

import (
	"errors"
	"fmt"
	"sort"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/packer"
)

// ErrUnknownPreset is returned by Get for names without a preset.
var ErrUnknownPreset = errors.New("unknown preset")

// IntRange is an inclusive range. A zero bound is unbounded.
type IntRange struct {
	Min int `json:"min,omitempty" hcl:"min,optional"`
	Max int `json:"max,omitempty" hcl:"max,optional"`
}

// Contains reports whether v lies inside the range.
func (r IntRange) Contains(v int) bool {
	if r.Min > 0 && v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

// FloatRange is an inclusive range. A zero bound is unbounded.
type FloatRange struct {
	Min float64 `json:"min,omitempty" hcl:"min,optional"`
	Max float64 `json:"max,omitempty" hcl:"max,optional"`
}

// Contains reports whether v lies inside the range.
func (r FloatRange) Contains(v float64) bool {
	if r.Min > 0 && v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

// Spec holds the constraints a sticker must satisfy on one platform.
type Spec struct {
	Name string `json:"name"`

	// StaticFormats and AnimatedFormats list accepted extensions; the first
	// entry is the conversion target.
	StaticFormats   []string `json:"staticFormats"`
	AnimatedFormats []string `json:"animatedFormats"`

	// SizeMaxStatic and SizeMaxAnimated are byte limits; zero means none.
	SizeMaxStatic   int64 `json:"sizeMaxStatic,omitempty"`
	SizeMaxAnimated int64 `json:"sizeMaxAnimated,omitempty"`

	Width  IntRange `json:"width"`
	Height IntRange `json:"height"`
	Square bool     `json:"square,omitempty"`
	// SideAtMax requires the width or the height to equal its maximum.
	SideAtMax bool       `json:"sideAtMax,omitempty"`
	FPS       FloatRange `json:"fps"`
	Duration  IntRange   `json:"durationMs"`

	// Quality (0-100) and Colors bound the compression search. A color
	// count above 256 keeps full color and skips palette quantization.
	Quality IntRange `json:"quality"`
	Colors  IntRange `json:"colors"`
	// Steps is the number of compression steps tried between max and min.
	Steps int `json:"steps"`

	// Animated forces the output kind when set.
	Animated *bool `json:"animated,omitempty"`
	// AnimatedCodecs restricts the codec of animated output.
	AnimatedCodecs []string `json:"animatedCodecs,omitempty"`

	PerPack                int  `json:"perPack,omitempty"`
	PerStaticPack          int  `json:"perStaticPack,omitempty"`
	PerAnimatedPack        int  `json:"perAnimatedPack,omitempty"`
	SeparateStaticAnimated bool `json:"separateStaticAnimated,omitempty"`
}

// FormatFor returns the target extension for static or animated output.
func (s *Spec) FormatFor(animated bool) string {
	list := s.StaticFormats
	if animated {
		list = s.AnimatedFormats
	}
	if len(list) == 0 {
		if animated {
			return formats.WebM
		}
		return formats.PNG
	}
	return list[0]
}

// Accepts reports whether ext is an allowed output format for the kind.
func (s *Spec) Accepts(ext string, animated bool) bool {
	list := s.StaticFormats
	if animated {
		list = s.AnimatedFormats
	}
	if len(list) == 0 {
		return true
	}
	for _, f := range list {
		if formats.Equivalent(f, ext) {
			return true
		}
	}
	return false
}

// SizeMaxFor returns the byte limit for static or animated output.
func (s *Spec) SizeMaxFor(animated bool) int64 {
	if animated {
		return s.SizeMaxAnimated
	}
	return s.SizeMaxStatic
}

// PackOptions converts the pack caps into packer options.
func (s *Spec) PackOptions() packer.Options {
	return packer.Options{
		PerPack:                s.PerPack,
		PerStaticPack:          s.PerStaticPack,
		PerAnimatedPack:        s.PerAnimatedPack,
		SeparateStaticAnimated: s.SeparateStaticAnimated,
	}
}

// Clone returns a deep copy so callers can override fields of a preset.
func (s *Spec) Clone() *Spec {
	c := *s
	c.StaticFormats = append([]string(nil), s.StaticFormats...)
	c.AnimatedFormats = append([]string(nil), s.AnimatedFormats...)
	c.AnimatedCodecs = append([]string(nil), s.AnimatedCodecs...)
	if s.Animated != nil {
		v := *s.Animated
		c.Animated = &v
	}
	return &c
}

// Get returns a copy of the named preset.
func Get(name string) (*Spec, error) {
	s, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return s.Clone(), nil
}

// Names returns the preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const kb = 1024

var presets = map[string]*Spec{
	"telegram": {
		Name:            "telegram",
		StaticFormats:   []string{formats.PNG, formats.WebP},
		AnimatedFormats: []string{formats.WebM, formats.TGS},
		SizeMaxStatic:   512 * kb,
		SizeMaxAnimated: 256 * kb,
		Width:           IntRange{Max: 512},
		Height:          IntRange{Max: 512},
		SideAtMax:       true,
		FPS:             FloatRange{Max: 30},
		Duration:        IntRange{Max: 3000},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 256},
		Steps:           16,
		AnimatedCodecs:  []string{"vp9", "lottie"},
		PerStaticPack:   120,
		PerAnimatedPack: 120,
		// Telegram packs are either all static or all video.
		SeparateStaticAnimated: true,
	},
	"telegram_emoji": {
		Name:                   "telegram_emoji",
		StaticFormats:          []string{formats.PNG, formats.WebP},
		AnimatedFormats:        []string{formats.WebM, formats.TGS},
		SizeMaxStatic:          64 * kb,
		SizeMaxAnimated:        64 * kb,
		Width:                  IntRange{Min: 100, Max: 100},
		Height:                 IntRange{Min: 100, Max: 100},
		Square:                 true,
		FPS:                    FloatRange{Max: 30},
		Duration:               IntRange{Max: 3000},
		Quality:                IntRange{Min: 10, Max: 95},
		Colors:                 IntRange{Min: 32, Max: 256},
		Steps:                  16,
		AnimatedCodecs:         []string{"vp9", "lottie"},
		PerStaticPack:          200,
		PerAnimatedPack:        200,
		SeparateStaticAnimated: true,
	},
	"signal": {
		Name:            "signal",
		StaticFormats:   []string{formats.PNG, formats.WebP},
		AnimatedFormats: []string{formats.APNG},
		SizeMaxStatic:   300 * kb,
		SizeMaxAnimated: 300 * kb,
		Width:           IntRange{Max: 512},
		Height:          IntRange{Max: 512},
		Square:          true,
		FPS:             FloatRange{Max: 30},
		Duration:        IntRange{Max: 3000},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 257},
		Steps:           16,
		PerPack:         200,
	},
	"line": {
		Name:            "line",
		StaticFormats:   []string{formats.PNG},
		AnimatedFormats: []string{formats.APNG},
		SizeMaxStatic:   1024 * kb,
		SizeMaxAnimated: 300 * kb,
		Width:           IntRange{Max: 370},
		Height:          IntRange{Max: 320},
		FPS:             FloatRange{Min: 5, Max: 20},
		Duration:        IntRange{Max: 4000},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 257},
		Steps:           16,
		PerPack:         40,
	},
	"kakao": {
		Name:            "kakao",
		StaticFormats:   []string{formats.PNG},
		AnimatedFormats: []string{formats.GIF, formats.WebP},
		SizeMaxStatic:   300 * kb,
		SizeMaxAnimated: 650 * kb,
		Width:           IntRange{Max: 360},
		Height:          IntRange{Max: 360},
		Square:          true,
		FPS:             FloatRange{Max: 50},
		Duration:        IntRange{Max: 2000},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 256},
		Steps:           16,
		PerPack:         24,
	},
	"viber": {
		Name:            "viber",
		StaticFormats:   []string{formats.PNG},
		AnimatedFormats: []string{formats.APNG},
		SizeMaxStatic:   1024 * kb,
		SizeMaxAnimated: 1024 * kb,
		Width:           IntRange{Max: 490},
		Height:          IntRange{Max: 490},
		FPS:             FloatRange{Max: 30},
		Duration:        IntRange{Max: 5000},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 257},
		Steps:           16,
		PerPack:         24,
	},
	"discord": {
		Name:            "discord",
		StaticFormats:   []string{formats.PNG},
		AnimatedFormats: []string{formats.APNG},
		SizeMaxStatic:   512 * kb,
		SizeMaxAnimated: 512 * kb,
		Width:           IntRange{Max: 320},
		Height:          IntRange{Max: 320},
		Square:          true,
		FPS:             FloatRange{Max: 30},
		Duration:        IntRange{Max: 5000},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 257},
		Steps:           16,
		PerPack:         60,
	},
	"discord_emoji": {
		Name:                   "discord_emoji",
		StaticFormats:          []string{formats.PNG},
		AnimatedFormats:        []string{formats.GIF},
		SizeMaxStatic:          256 * kb,
		SizeMaxAnimated:        256 * kb,
		Width:                  IntRange{Max: 128},
		Height:                 IntRange{Max: 128},
		Square:                 true,
		FPS:                    FloatRange{Max: 30},
		Quality:                IntRange{Min: 10, Max: 95},
		Colors:                 IntRange{Min: 32, Max: 256},
		Steps:                  16,
		PerStaticPack:          50,
		PerAnimatedPack:        50,
		SeparateStaticAnimated: true,
	},
	"imessage_small": imessage("imessage_small", 300),
	"imessage_medium": imessage("imessage_medium", 408),
	"imessage_large": imessage("imessage_large", 618),
	"whatsapp": {
		Name:            "whatsapp",
		StaticFormats:   []string{formats.WebP},
		AnimatedFormats: []string{formats.WebP},
		SizeMaxStatic:   100 * kb,
		SizeMaxAnimated: 500 * kb,
		Width:           IntRange{Min: 512, Max: 512},
		Height:          IntRange{Min: 512, Max: 512},
		Square:          true,
		FPS:             FloatRange{Min: 8, Max: 30},
		Duration:        IntRange{Max: 10000},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 256},
		Steps:           16,
		PerStaticPack:   30,
		PerAnimatedPack: 30,
		// A WhatsApp pack cannot mix static and animated stickers.
		SeparateStaticAnimated: true,
	},
	"custom": {
		Name:    "custom",
		Quality: IntRange{Min: 10, Max: 95},
		Colors:  IntRange{Min: 32, Max: 257},
		Steps:   16,
		PerPack: 10000,
	},
}

func imessage(name string, side int) *Spec {
	return &Spec{
		Name:            name,
		StaticFormats:   []string{formats.PNG},
		AnimatedFormats: []string{formats.APNG},
		SizeMaxStatic:   500 * kb,
		SizeMaxAnimated: 500 * kb,
		Width:           IntRange{Min: side, Max: side},
		Height:          IntRange{Min: side, Max: side},
		Square:          true,
		FPS:             FloatRange{Max: 30},
		Quality:         IntRange{Min: 10, Max: 95},
		Colors:          IntRange{Min: 32, Max: 257},
		Steps:           16,
		PerPack:         100,
	}
}
