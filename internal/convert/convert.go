package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"
	"sticker-convert/internal/probe"
	"sticker-convert/internal/toolchain"
	"sticker-convert/internal/verify"
)

var (
	// ErrCannotFit is returned when even the smallest compression step is
	// over the size limit. The smallest attempt is still written.
	ErrCannotFit = errors.New("output does not fit the size limit")
	// ErrNoEncoder is returned when no available engine can produce the
	// requested format.
	ErrNoEncoder = errors.New("no encoder available")
	// ErrLottie is returned for TGS input bound for a non-TGS format.
	ErrLottie = errors.New("rendering lottie animations is not supported")
)

// Options adjust a single conversion.
type Options struct {
	// FakeVideo turns static input into a short animation.
	FakeVideo bool `json:"fakeVideo,omitempty"`
	// ForceRecompress re-encodes files that already comply.
	ForceRecompress bool `json:"forceRecompress,omitempty"`
	// NoCompress copies input unchanged.
	NoCompress bool `json:"noCompress,omitempty"`
	// Format overrides the preset's target extension.
	Format string `json:"format,omitempty"`
	// Name is the output file stem; defaults to the input stem.
	Name string `json:"name,omitempty"`
}

// Result describes the outcome for one input file.
type Result struct {
	Input    string `json:"input"`
	Output   string `json:"output,omitempty"`
	Format   string `json:"format,omitempty"`
	Step     int    `json:"step"`
	Size     int64  `json:"size"`
	Attempts int    `json:"attempts"`
	Animated bool   `json:"animated"`
	Copied   bool   `json:"copied,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
	Oversize bool   `json:"oversize,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Cache stores finished conversions keyed by input content and settings.
type Cache interface {
	GetConversion(ctx context.Context, key string) (string, bool, error)
	PutConversion(ctx context.Context, key, path string, size int64) error
}

// Converter converts sticker files to platform specs.
type Converter struct {
	runner toolchain.Runner
	prober *probe.Prober
	cache  Cache
}

// New creates a Converter. runner and cache may be nil; without a runner
// only static images that Go can decode are converted.
func New(runner toolchain.Runner, cache Cache) *Converter {
	return &Converter{
		runner: runner,
		prober: probe.New(runner),
		cache:  cache,
	}
}

// Prober returns the prober used by the converter.
func (c *Converter) Prober() *probe.Prober {
	return c.prober
}

func (c *Converter) has(tool toolchain.Tool) bool {
	return c.runner != nil && c.runner.Available(tool)
}

func (c *Converter) run(ctx context.Context, tool toolchain.Tool, args ...string) ([]byte, error) {
	if c.runner == nil {
		return nil, fmt.Errorf("%s: %w", tool, toolchain.ErrToolNotFound)
	}
	return c.runner.Run(ctx, tool, args...)
}

// Convert writes a version of in that satisfies spec into outDir.
//
// Files that already comply are copied. Otherwise a binary search over the
// spec's compression steps finds the highest quality output under the
// size limit.
func (c *Converter) Convert(ctx context.Context, in, outDir string, spec *platform.Spec, opts Options) (res *Result, err error) {
	start := time.Now()
	metrics.ConversionsInProgress.Inc()
	defer metrics.ConversionsInProgress.Dec()

	res = &Result{Input: in}
	defer func() {
		if err != nil {
			res.Error = err.Error()
		}
		record(res, err, start)
	}()

	info, err := c.prober.Probe(ctx, in)
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = metadata.Stem(in)
	}

	if opts.NoCompress {
		out := filepath.Join(outDir, name+formats.FromPath(in))
		res.Format = formats.FromPath(in)
		res.Animated = info.Animated
		return res, finishCopy(in, out, res)
	}

	animated := targetAnimated(info, spec, opts)
	ext, err := targetFormat(info, spec, opts, animated)
	if err != nil {
		return res, err
	}
	res.Format = ext
	res.Animated = animated
	out := filepath.Join(outDir, name+ext)
	limit := spec.SizeMaxFor(animated)

	if info.Codec == "lottie" {
		if err := finishCopy(in, out, res); err != nil {
			return res, err
		}
		if limit > 0 && res.Size > limit {
			res.Oversize = true
			return res, fmt.Errorf("%s: %d bytes, limit %d: %w", in, res.Size, limit, ErrCannotFit)
		}
		return res, nil
	}

	key := c.lookupKey(in, spec, opts, ext)
	if key != "" {
		cached, ok, cacheErr := c.cache.GetConversion(ctx, key)
		if cacheErr != nil {
			logging.Warn("Conversion cache lookup failed: %v", cacheErr)
		} else if ok {
			metrics.ConversionCacheHits.Inc()
			res.Cached = true
			return res, finishCopy(cached, out, res)
		}
	}

	if !opts.ForceRecompress && formats.Equivalent(info.Format, ext) && info.Animated == animated &&
		len(verify.CheckInfo(info, spec)) == 0 {
		logging.Debug("%s already complies with %s, copying", in, spec.Name)
		if err := finishCopy(in, out, res); err != nil {
			return res, err
		}
		c.store(ctx, key, out, res.Size)
		return res, nil
	}

	enc, err := c.encoderFor(ext, animated)
	if err != nil {
		return res, err
	}

	workDir, err := os.MkdirTemp("", "sticker-convert-*")
	if err != nil {
		return res, err
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logging.Warn("failed to remove %s: %v", workDir, rmErr)
		}
	}()

	src := &source{path: in, info: info, workDir: workDir}
	steps := spec.Steps
	if steps < 1 || limit == 0 {
		steps = 1
	}

	best, smallest, attempts, err := c.search(ctx, src, spec, enc, ext, animated, steps, limit)
	res.Attempts = attempts
	if err != nil {
		return res, err
	}

	chosen := best
	if chosen == nil {
		chosen = smallest
		res.Oversize = true
	}
	if err := moveFile(chosen.path, out); err != nil {
		return res, err
	}
	res.Output = out
	res.Step = chosen.step
	res.Size = chosen.size

	if res.Oversize {
		return res, fmt.Errorf("%s: %d bytes at step %d, limit %d: %w", in, chosen.size, chosen.step, limit, ErrCannotFit)
	}
	c.store(ctx, key, out, res.Size)
	return res, nil
}

type attempt struct {
	step int
	path string
	size int64
}

// search binary-searches the compression steps for the lowest step whose
// output fits limit. Step 0 is the highest quality.
func (c *Converter) search(ctx context.Context, src *source, spec *platform.Spec, enc encoder, ext string, animated bool, steps int, limit int64) (best, smallest *attempt, attempts int, err error) {
	lo, hi := 0, steps-1
	for lo <= hi {
		if err := ctx.Err(); err != nil {
			return nil, nil, attempts, err
		}
		mid := (lo + hi) / 2
		p := paramsFor(src.info, spec, mid, steps, animated)
		dst := filepath.Join(src.workDir, fmt.Sprintf("step%02d%s", mid, ext))

		if err := enc(ctx, src, p, dst); err != nil {
			return nil, nil, attempts, fmt.Errorf("encode %s at step %d: %w", src.path, mid, err)
		}
		attempts++

		st, err := os.Stat(dst)
		if err != nil {
			return nil, nil, attempts, fmt.Errorf("encoder produced no output: %w", err)
		}
		a := &attempt{step: mid, path: dst, size: st.Size()}
		logging.Debug("%s step %d/%d: %d bytes (limit %d)", filepath.Base(src.path), mid, steps-1, a.size, limit)

		if smallest == nil || a.size < smallest.size {
			smallest = a
		}
		if limit == 0 || a.size <= limit {
			best = a
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return best, smallest, attempts, nil
}

func (c *Converter) lookupKey(in string, spec *platform.Spec, opts Options, ext string) string {
	if c.cache == nil {
		return ""
	}
	key, err := cacheKey(in, spec, opts, ext)
	if err != nil {
		logging.Warn("Failed to compute cache key for %s: %v", in, err)
		return ""
	}
	return key
}

func (c *Converter) store(ctx context.Context, key, path string, size int64) {
	if key == "" {
		return
	}
	if err := c.cache.PutConversion(ctx, key, path, size); err != nil {
		logging.Warn("Failed to cache conversion of %s: %v", path, err)
	}
}

// cacheKey hashes the input content together with everything that
// influences the output.
func cacheKey(in string, spec *platform.Spec, opts Options, ext string) (string, error) {
	f, err := os.Open(in)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	settings, err := json.Marshal(struct {
		Spec *platform.Spec
		Opts Options
		Ext  string
	}{spec, opts, ext})
	if err != nil {
		return "", err
	}
	h.Write(settings)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func targetAnimated(info *probe.Info, spec *platform.Spec, opts Options) bool {
	if spec.Animated != nil {
		return *spec.Animated
	}
	return info.Animated || opts.FakeVideo
}

func targetFormat(info *probe.Info, spec *platform.Spec, opts Options, animated bool) (string, error) {
	if opts.Format != "" {
		ext := formats.Normalize(opts.Format)
		if info.Codec == "lottie" && ext != formats.TGS {
			return "", ErrLottie
		}
		return ext, nil
	}
	if info.Codec == "lottie" {
		if spec.Accepts(formats.TGS, true) {
			return formats.TGS, nil
		}
		return "", fmt.Errorf("%s: %w", spec.Name, ErrLottie)
	}

	ext := spec.FormatFor(animated)
	if ext != formats.TGS {
		return ext, nil
	}
	// TGS can only be passed through; pick the next animated format.
	for _, f := range spec.AnimatedFormats {
		if f != formats.TGS {
			return f, nil
		}
	}
	return "", fmt.Errorf("%s only accepts tgs: %w", spec.Name, ErrNoEncoder)
}

func finishCopy(src, dst string, res *Result) error {
	n, err := copyFile(src, dst)
	if err != nil {
		return err
	}
	res.Output = dst
	res.Size = n
	if !res.Cached {
		res.Copied = true
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	if same, _ := samePath(src, dst); same {
		st, err := os.Stat(src)
		if err != nil {
			return 0, err
		}
		return st.Size(), nil
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return n, nil
}

func samePath(a, b string) (bool, error) {
	sa, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(sa, sb), nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if _, err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func record(res *Result, err error, start time.Time) {
	format := res.Format
	if format == "" {
		format = "unknown"
	}
	status := "success"
	switch {
	case res.Oversize:
		status = "oversize"
	case err != nil:
		status = "error"
	case res.Copied || res.Cached:
		status = "copied"
	}
	metrics.ConversionsTotal.WithLabelValues(format, status).Inc()
	metrics.ConversionDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
	if res.Attempts > 0 {
		metrics.CompressionAttempts.WithLabelValues(format).Observe(float64(res.Attempts))
	}
}
