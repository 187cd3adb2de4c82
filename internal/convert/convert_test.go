package convert

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"sticker-convert/internal/platform"
	"sticker-convert/internal/probe"
	"sticker-convert/internal/toolchain"
)

// writePNG writes a w x h image with a color gradient so it compresses poorly.
func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8((x ^ y) * 3), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTGS(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"v":"5.5.2","fr":60,"ip":0,"op":120,"w":512,"h":512,"layers":[]}`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "anim.tgs")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("failed to decode %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}

func staticSpec() *platform.Spec {
	return &platform.Spec{
		Name:          "test",
		StaticFormats: []string{".png"},
		SizeMaxStatic: 1 << 20,
		Width:         platform.IntRange{Max: 512},
		Height:        platform.IntRange{Max: 512},
		Quality:       platform.IntRange{Min: 10, Max: 90},
		Steps:         4,
	}
}

type fakeCache struct {
	entries map[string]string
	puts    int
}

func (f *fakeCache) GetConversion(_ context.Context, key string) (string, bool, error) {
	p, ok := f.entries[key]
	return p, ok, nil
}

func (f *fakeCache) PutConversion(_ context.Context, key, path string, _ int64) error {
	if f.entries == nil {
		f.entries = make(map[string]string)
	}
	f.entries[key] = path
	f.puts++
	return nil
}

func TestParamsFor(t *testing.T) {
	spec := &platform.Spec{
		Width:    platform.IntRange{Max: 512},
		Height:   platform.IntRange{Max: 512},
		Square:   true,
		Quality:  platform.IntRange{Min: 10, Max: 90},
		Colors:   platform.IntRange{Min: 32, Max: 257},
		FPS:      platform.FloatRange{Max: 30},
		Duration: platform.IntRange{Max: 3000},
	}
	info := &probe.Info{Width: 600, Height: 400, FPS: 60, DurationMS: 6000, Animated: true}

	tests := []struct {
		step    int
		side    int
		quality int
		colors  int
		fps     float64
	}{
		{0, 512, 90, 257, 30},
		{2, 448, 50, 145, 22.5},
		{4, 384, 10, 32, 15},
	}

	for _, tt := range tests {
		p := paramsFor(info, spec, tt.step, 5, true)
		if p.Width != tt.side || p.Height != tt.side {
			t.Errorf("step %d: box = %dx%d, want %dx%d", tt.step, p.Width, p.Height, tt.side, tt.side)
		}
		if p.CanvasW != tt.side || p.CanvasH != tt.side {
			t.Errorf("step %d: canvas = %dx%d, want square %d", tt.step, p.CanvasW, p.CanvasH, tt.side)
		}
		if p.Quality != tt.quality {
			t.Errorf("step %d: quality = %d, want %d", tt.step, p.Quality, tt.quality)
		}
		if p.Colors != tt.colors {
			t.Errorf("step %d: colors = %d, want %d", tt.step, p.Colors, tt.colors)
		}
		if p.FPS != tt.fps {
			t.Errorf("step %d: fps = %v, want %v", tt.step, p.FPS, tt.fps)
		}
		if want := 6000 / (3000 * durationMargin); math.Abs(p.Speed-want) > 1e-9 {
			t.Errorf("step %d: speed = %v, want %v", tt.step, p.Speed, want)
		}
	}
}

func TestParamsForEdges(t *testing.T) {
	t.Run("exact dimensions never shrink", func(t *testing.T) {
		spec := &platform.Spec{
			Width:  platform.IntRange{Min: 512, Max: 512},
			Height: platform.IntRange{Min: 512, Max: 512},
		}
		p := paramsFor(&probe.Info{Width: 100, Height: 50}, spec, 7, 8, false)
		if p.Width != 512 || p.CanvasW != 512 || p.CanvasH != 512 {
			t.Errorf("got %+v, want 512 box on a 512 canvas", p)
		}
	})

	t.Run("side pinned to maximum never shrinks", func(t *testing.T) {
		spec := &platform.Spec{
			Width:     platform.IntRange{Max: 512},
			Height:    platform.IntRange{Max: 512},
			SideAtMax: true,
		}
		p := paramsFor(&probe.Info{Width: 300, Height: 200}, spec, 7, 8, false)
		if p.Width != 512 || p.Height != 512 {
			t.Errorf("box = %dx%d, want 512x512", p.Width, p.Height)
		}
		if p.CanvasW != 0 {
			t.Errorf("canvas = %d, want none", p.CanvasW)
		}
		got := render(image.NewNRGBA(image.Rect(0, 0, 300, 200)), p).Bounds()
		if got.Dx() != 512 || got.Dy() != 341 {
			t.Errorf("rendered %dx%d, want 512x341", got.Dx(), got.Dy())
		}
	})

	t.Run("static output has no timing", func(t *testing.T) {
		p := paramsFor(&probe.Info{Width: 100, Height: 100}, staticSpec(), 0, 4, false)
		if p.FPS != 0 || p.Speed != 1 {
			t.Errorf("got fps %v speed %v, want 0 and 1", p.FPS, p.Speed)
		}
		if p.CanvasW != 0 {
			t.Errorf("canvas = %d, want none", p.CanvasW)
		}
	})

	t.Run("slow source raised to minimum fps", func(t *testing.T) {
		spec := &platform.Spec{FPS: platform.FloatRange{Min: 5, Max: 20}}
		info := &probe.Info{Width: 10, Height: 10, FPS: 2, DurationMS: 1000, Animated: true}
		p := paramsFor(info, spec, 0, 1, true)
		if p.FPS != 5 {
			t.Errorf("fps = %v, want 5", p.FPS)
		}
	})

	t.Run("short source slowed to minimum duration", func(t *testing.T) {
		spec := &platform.Spec{Duration: platform.IntRange{Min: 1000}}
		info := &probe.Info{Width: 10, Height: 10, FPS: 10, DurationMS: 500, Animated: true}
		p := paramsFor(info, spec, 0, 1, true)
		if p.Speed != 0.5 {
			t.Errorf("speed = %v, want 0.5", p.Speed)
		}
	})

	t.Run("fake video uses one second clip", func(t *testing.T) {
		spec := &platform.Spec{FPS: platform.FloatRange{Max: 30}}
		p := paramsFor(&probe.Info{Width: 10, Height: 10}, spec, 0, 1, true)
		if p.FPS != 25 || p.Speed != 1 {
			t.Errorf("got fps %v speed %v, want 25 and 1", p.FPS, p.Speed)
		}
	})
}

func TestCRF(t *testing.T) {
	tests := map[int]int{100: 4, 0: 63, 50: 34, 150: 4, -5: 63}
	for q, want := range tests {
		if got := (params{Quality: q}).crf(); got != want {
			t.Errorf("crf(%d) = %d, want %d", q, got, want)
		}
	}
}

func TestVideoFilter(t *testing.T) {
	p := params{Width: 512, Height: 512, CanvasW: 512, CanvasH: 512, FPS: 30, Speed: 2}
	want := "setpts=PTS/2.0000,fps=30," +
		"scale=512:512:force_original_aspect_ratio=decrease:force_divisible_by=2:flags=lanczos," +
		"format=rgba,pad=512:512:(ow-iw)/2:(oh-ih)/2:color=0x00000000"
	if got := p.videoFilter(); got != want {
		t.Errorf("videoFilter() =\n%s\nwant\n%s", got, want)
	}

	p = params{Width: 100, Height: 80, FPS: 12.5, Speed: 1}
	want = "fps=12.5,scale=100:80:force_original_aspect_ratio=decrease:force_divisible_by=2:flags=lanczos,format=rgba"
	if got := p.videoFilter(); got != want {
		t.Errorf("videoFilter() = %s, want %s", got, want)
	}
}

func TestTargetFormat(t *testing.T) {
	raster := &probe.Info{Codec: "vp9", Animated: true}
	lottie := &probe.Info{Codec: "lottie", Animated: true}

	tests := []struct {
		name    string
		info    *probe.Info
		formats []string
		opts    Options
		want    string
		wantErr error
	}{
		{"first format", raster, []string{".webm", ".tgs"}, Options{}, ".webm", nil},
		{"tgs skipped for raster", raster, []string{".tgs", ".gif"}, Options{}, ".gif", nil},
		{"tgs only", raster, []string{".tgs"}, Options{}, "", ErrNoEncoder},
		{"lottie passthrough", lottie, []string{".webm", ".tgs"}, Options{}, ".tgs", nil},
		{"lottie rejected", lottie, []string{".webm"}, Options{}, "", ErrLottie},
		{"override", raster, []string{".webm"}, Options{Format: "WEBP"}, ".webp", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &platform.Spec{Name: "t", AnimatedFormats: tt.formats}
			got, err := targetFormat(tt.info, spec, tt.opts, true)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConvertStaticPNG(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "wide.png", 1024, 512)
	out := filepath.Join(dir, "out")

	res, err := New(nil, nil).Convert(context.Background(), in, out, staticSpec(), Options{})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if res.Copied || res.Oversize {
		t.Errorf("result = %+v, want a fresh encode", res)
	}
	if res.Output != filepath.Join(out, "wide.png") {
		t.Errorf("Output = %s", res.Output)
	}
	if res.Step != 0 || res.Attempts != 2 {
		t.Errorf("step %d after %d attempts, want step 0 after 2", res.Step, res.Attempts)
	}
	if w, h := imageSize(t, res.Output); w != 512 || h != 256 {
		t.Errorf("output is %dx%d, want 512x256", w, h)
	}
}

func TestConvertPadsSquare(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "tall.png", 100, 300)
	spec := staticSpec()
	spec.Square = true

	res, err := New(nil, nil).Convert(context.Background(), in, filepath.Join(dir, "out"), spec, Options{})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if w, h := imageSize(t, res.Output); w != 512 || h != 512 {
		t.Errorf("output is %dx%d, want 512x512", w, h)
	}
}

func TestConvertCopiesCompliantFile(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "ok.png", 256, 256)
	orig, _ := os.ReadFile(in)

	c := New(nil, nil)
	res, err := c.Convert(context.Background(), in, filepath.Join(dir, "out"), staticSpec(), Options{})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !res.Copied || res.Attempts != 0 {
		t.Errorf("result = %+v, want a copy", res)
	}
	got, _ := os.ReadFile(res.Output)
	if !bytes.Equal(got, orig) {
		t.Error("copied file differs from input")
	}

	res, err = c.Convert(context.Background(), in, filepath.Join(dir, "forced"), staticSpec(), Options{ForceRecompress: true})
	if err != nil {
		t.Fatalf("Convert(force) error = %v", err)
	}
	if res.Copied || res.Attempts == 0 {
		t.Errorf("forced result = %+v, want an encode", res)
	}
}

func TestConvertNoCompress(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "big.png", 1024, 1024)

	spec := staticSpec()
	spec.StaticFormats = []string{".webp"}
	res, err := New(nil, nil).Convert(context.Background(), in, filepath.Join(dir, "out"), spec, Options{NoCompress: true})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !res.Copied || filepath.Ext(res.Output) != ".png" {
		t.Errorf("result = %+v, want input copied unchanged", res)
	}
}

func TestConvertOversize(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "noisy.png", 600, 600)
	spec := staticSpec()
	spec.SizeMaxStatic = 10

	res, err := New(nil, nil).Convert(context.Background(), in, filepath.Join(dir, "out"), spec, Options{})
	if !errors.Is(err, ErrCannotFit) {
		t.Fatalf("err = %v, want ErrCannotFit", err)
	}
	if !res.Oversize || res.Attempts != 3 {
		t.Errorf("result = %+v, want oversize after 3 attempts", res)
	}
	if _, err := os.Stat(res.Output); err != nil {
		t.Errorf("smallest attempt not written: %v", err)
	}
	if res.Error == "" {
		t.Error("Result.Error is empty")
	}
}

func TestConvertCache(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "wide.png", 800, 400)
	cache := &fakeCache{}
	c := New(nil, cache)

	first, err := c.Convert(context.Background(), in, filepath.Join(dir, "a"), staticSpec(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached || cache.puts != 1 {
		t.Fatalf("first run cached=%v puts=%d", first.Cached, cache.puts)
	}

	second, err := c.Convert(context.Background(), in, filepath.Join(dir, "b"), staticSpec(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Attempts != 0 {
		t.Errorf("second result = %+v, want cache hit", second)
	}
	if second.Size != first.Size {
		t.Errorf("cached size = %d, want %d", second.Size, first.Size)
	}

	// Different settings miss the cache.
	spec := staticSpec()
	spec.Width.Max = 256
	third, err := c.Convert(context.Background(), in, filepath.Join(dir, "c"), spec, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if third.Cached {
		t.Error("changed spec hit the cache")
	}
}

func TestConvertLottie(t *testing.T) {
	dir := t.TempDir()
	in := writeTGS(t, dir)
	c := New(nil, nil)

	spec := &platform.Spec{Name: "t", AnimatedFormats: []string{".webm", ".tgs"}, SizeMaxAnimated: 64 * 1024}
	res, err := c.Convert(context.Background(), in, filepath.Join(dir, "out"), spec, Options{})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !res.Copied || res.Format != ".tgs" {
		t.Errorf("result = %+v, want tgs passthrough", res)
	}

	spec.AnimatedFormats = []string{".webm"}
	if _, err := c.Convert(context.Background(), in, filepath.Join(dir, "out2"), spec, Options{}); !errors.Is(err, ErrLottie) {
		t.Errorf("err = %v, want ErrLottie", err)
	}
}

func TestConvertWithoutEngines(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "wide.png", 1024, 512)
	c := New(nil, nil)

	webp := staticSpec()
	webp.StaticFormats = []string{".webp"}
	if _, err := c.Convert(context.Background(), in, filepath.Join(dir, "a"), webp, Options{}); !errors.Is(err, ErrNoEncoder) {
		t.Errorf("static webp err = %v, want ErrNoEncoder", err)
	}

	video := staticSpec()
	video.AnimatedFormats = []string{".webm"}
	if _, err := c.Convert(context.Background(), in, filepath.Join(dir, "b"), video, Options{FakeVideo: true}); !errors.Is(err, ErrNoEncoder) {
		t.Errorf("fake video err = %v, want ErrNoEncoder", err)
	}
}

func TestConvertAll(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		writePNG(t, dir, "a.png", 600, 300),
		filepath.Join(dir, "missing.png"),
		writePNG(t, dir, "b.png", 300, 600),
		writePNG(t, dir, "a.jpg.png", 64, 64),
	}

	results, err := New(nil, nil).ConvertAll(context.Background(), inputs, filepath.Join(dir, "out"), staticSpec(), Options{}, 3)
	if err != nil {
		t.Fatalf("ConvertAll() error = %v", err)
	}
	if len(results) != len(inputs) {
		t.Fatalf("got %d results, want %d", len(results), len(inputs))
	}
	for i, res := range results {
		if res.Input != inputs[i] {
			t.Errorf("results[%d].Input = %s, want %s", i, res.Input, inputs[i])
		}
	}
	if results[1].Error == "" {
		t.Error("missing file has no error")
	}
	for _, i := range []int{0, 2, 3} {
		if results[i].Error != "" {
			t.Errorf("results[%d] failed: %s", i, results[i].Error)
		}
	}
}

func TestConvertAllCancelled(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{writePNG(t, dir, "a.png", 600, 300)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(nil, nil).ConvertAll(ctx, inputs, filepath.Join(dir, "out"), staticSpec(), Options{}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if results[0] == nil || results[0].Error == "" {
		t.Errorf("results[0] = %+v, want cancellation error", results[0])
	}
}

func TestUniqueStems(t *testing.T) {
	got := uniqueStems([]string{"/x/a.png", "/y/a.gif", "/x/b.webp", "/z/a.webm"})
	want := []string{"a", "a-1", "b", "a-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("uniqueStems()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMakeIcon(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "cover.png", 300, 150)
	dst := filepath.Join(dir, "tray.png")

	if err := New(nil, nil).MakeIcon(context.Background(), in, dst, 96, 96, 0); err != nil {
		t.Fatalf("MakeIcon() error = %v", err)
	}
	if w, h := imageSize(t, dst); w != 96 || h != 96 {
		t.Errorf("icon is %dx%d, want 96x96", w, h)
	}

	err := New(nil, nil).MakeIcon(context.Background(), in, dst, 96, 96, 10)
	if !errors.Is(err, ErrCannotFit) {
		t.Errorf("err = %v, want ErrCannotFit", err)
	}
}

func TestConvertAnimatedGIFWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	dir := t.TempDir()
	anim := &gif.GIF{}
	for i := 0; i < 6; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 64, 64), palette.Plan9)
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				frame.SetColorIndex(x, y, uint8((x+y+i*20)%256))
			}
		}
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	in := filepath.Join(dir, "anim.gif")
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		t.Fatal(err)
	}
	f.Close()

	spec := &platform.Spec{
		Name:            "gif",
		AnimatedFormats: []string{".gif"},
		SizeMaxAnimated: 1 << 20,
		Width:           platform.IntRange{Max: 32},
		Height:          platform.IntRange{Max: 32},
		Square:          true,
		FPS:             platform.FloatRange{Max: 5},
		Steps:           2,
	}
	c := New(toolchain.NewExecRunner(toolchain.Discover(nil)), nil)
	res, err := c.Convert(context.Background(), in, filepath.Join(dir, "out"), spec, Options{ForceRecompress: true})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	info, err := c.Prober().Probe(context.Background(), res.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Animated || info.Width != 32 || info.Height != 32 {
		t.Errorf("output = %dx%d animated=%v, want animated 32x32", info.Width, info.Height, info.Animated)
	}
}
