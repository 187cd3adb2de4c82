package platform

import (
	"errors"
	"sort"
	"testing"

	"sticker-convert/internal/formats"
)

func TestGet(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			s, err := Get(name)
			if err != nil {
				t.Fatalf("Get(%q) failed: %v", name, err)
			}
			if s.Name != name {
				t.Errorf("Name = %q", s.Name)
			}
			if err := s.PackOptions().Validate(); err != nil {
				t.Errorf("preset pack options invalid: %v", err)
			}
			if s.Steps <= 0 {
				t.Errorf("Steps = %d", s.Steps)
			}
		})
	}

	if _, err := Get("myspace"); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("error = %v, want ErrUnknownPreset", err)
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	if !sort.StringsAreSorted(names) {
		t.Errorf("Names not sorted: %v", names)
	}
	want := []string{"custom", "discord", "discord_emoji", "imessage_large", "imessage_medium",
		"imessage_small", "kakao", "line", "signal", "telegram", "telegram_emoji", "viber", "whatsapp"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	a, _ := Get("telegram")
	a.StaticFormats[0] = ".gif"
	a.SizeMaxStatic = 1

	b, _ := Get("telegram")
	if b.StaticFormats[0] != formats.PNG || b.SizeMaxStatic != 512*1024 {
		t.Errorf("preset was mutated through a copy: %+v", b)
	}
}

func TestFormatForAndSizeMax(t *testing.T) {
	tg, _ := Get("telegram")
	if got := tg.FormatFor(false); got != formats.PNG {
		t.Errorf("static format = %q", got)
	}
	if got := tg.FormatFor(true); got != formats.WebM {
		t.Errorf("animated format = %q", got)
	}
	if tg.SizeMaxFor(true) != 256*1024 || tg.SizeMaxFor(false) != 512*1024 {
		t.Errorf("size limits = %d/%d", tg.SizeMaxFor(false), tg.SizeMaxFor(true))
	}

	custom, _ := Get("custom")
	if custom.FormatFor(false) != formats.PNG || custom.FormatFor(true) != formats.WebM {
		t.Errorf("custom defaults = %q/%q", custom.FormatFor(false), custom.FormatFor(true))
	}
	if custom.SizeMaxFor(true) != 0 {
		t.Errorf("custom should be unbounded")
	}
}

func TestAccepts(t *testing.T) {
	signal, _ := Get("signal")
	tests := []struct {
		ext      string
		animated bool
		want     bool
	}{
		{".png", false, true},
		{".PNG", false, true},
		{".webp", false, true},
		{".png", true, true},
		{".apng", true, true},
		{".gif", true, false},
		{".webm", true, false},
	}
	for _, tt := range tests {
		if got := signal.Accepts(tt.ext, tt.animated); got != tt.want {
			t.Errorf("Accepts(%q, %v) = %v, want %v", tt.ext, tt.animated, got, tt.want)
		}
	}
}

func TestRanges(t *testing.T) {
	r := IntRange{Min: 10, Max: 20}
	for v, want := range map[int]bool{9: false, 10: true, 20: true, 21: false} {
		if got := r.Contains(v); got != want {
			t.Errorf("IntRange.Contains(%d) = %v", v, got)
		}
	}
	if !(IntRange{}).Contains(1 << 30) {
		t.Error("zero IntRange should be unbounded")
	}
	f := FloatRange{Max: 30}
	if !f.Contains(29.97) || f.Contains(30.01) || !f.Contains(0.5) {
		t.Error("FloatRange bounds wrong")
	}
}

func TestPackOptions(t *testing.T) {
	wa, _ := Get("whatsapp")
	opts := wa.PackOptions()
	if !opts.SeparateStaticAnimated || opts.PerStaticPack != 30 || opts.PerAnimatedPack != 30 {
		t.Errorf("whatsapp pack options = %+v", opts)
	}
	sig, _ := Get("signal")
	if o := sig.PackOptions(); o.SeparateStaticAnimated || o.PerPack != 200 {
		t.Errorf("signal pack options = %+v", o)
	}
}

func TestCredentialsRequire(t *testing.T) {
	c := Credentials{"token": "abc", "user_id": ""}
	vals, err := c.Require("token")
	if err != nil || vals[0] != "abc" {
		t.Errorf("Require(token) = %v, %v", vals, err)
	}
	if _, err := c.Require("token", "user_id", "zzz"); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("error = %v, want ErrMissingCredential", err)
	}
	if got := c.Get("user_id", "42"); got != "42" {
		t.Errorf("Get default = %q", got)
	}
}
