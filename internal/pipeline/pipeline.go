package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/database"
	"sticker-convert/internal/discord"
	"sticker-convert/internal/httpclient"
	"sticker-convert/internal/imessage"
	"sticker-convert/internal/kakao"
	"sticker-convert/internal/line"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/packer"
	"sticker-convert/internal/platform"
	"sticker-convert/internal/signal"
	"sticker-convert/internal/telegram"
	"sticker-convert/internal/verify"
	"sticker-convert/internal/wastickers"
	"sticker-convert/internal/workers"
)

// Export targets.
const (
	ExportNone       = "none"
	ExportTelegram   = telegram.Name
	ExportSignal     = signal.Name
	ExportWastickers = wastickers.Name
	ExportIMessage   = imessage.Name
)

// Download sources. DiscordEmoji fetches a guild's emojis rather than its stickers.
const (
	SourceTelegram     = telegram.Name
	SourceSignal       = signal.Name
	SourceLine         = line.Name
	SourceKakao        = kakao.Name
	SourceDiscord      = discord.Name
	SourceDiscordEmoji = "discord_emoji"
)

var (
	// ErrInvalidJob is returned when a job is missing required settings.
	ErrInvalidJob = errors.New("invalid job")
	// ErrUnknownTarget is returned for unsupported export targets or download sources.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrNothingConverted is returned when every input file failed.
	ErrNothingConverted = errors.New("no sticker converted")
)

// Source names a pack to fetch before converting.
type Source struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// Job is one unit of pipeline work.
type Job struct {
	Name   string `json:"name"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Preset string `json:"preset"`
	// Spec overrides the preset lookup when set.
	Spec   *platform.Spec `json:"spec,omitempty"`
	Title  string         `json:"title,omitempty"`
	Author string         `json:"author,omitempty"`
	// Emoji is assigned to stickers without an emoji.txt entry.
	Emoji    string          `json:"emoji,omitempty"`
	Export   string          `json:"export,omitempty"`
	Download *Source         `json:"download,omitempty"`
	Options  convert.Options `json:"options"`
	Workers  int             `json:"workers,omitempty"`
}

// Validate checks a job and resolves its spec.
func (j *Job) Validate() (*platform.Spec, error) {
	if j.Output == "" {
		return nil, fmt.Errorf("%w: output directory required", ErrInvalidJob)
	}
	if j.Input == "" && j.Download == nil {
		return nil, fmt.Errorf("%w: input directory or download required", ErrInvalidJob)
	}
	if j.Download != nil && (j.Download.Platform == "" || j.Download.URL == "") {
		return nil, fmt.Errorf("%w: download needs platform and url", ErrInvalidJob)
	}
	switch j.Export {
	case "", ExportNone, ExportTelegram, ExportSignal, ExportWastickers, ExportIMessage:
	default:
		return nil, fmt.Errorf("%w: export %q", ErrUnknownTarget, j.Export)
	}
	if j.Spec != nil {
		return j.Spec, nil
	}
	if j.Preset == "" {
		return nil, fmt.Errorf("%w: preset required", ErrInvalidJob)
	}
	return platform.Get(j.Preset)
}

// FileResult is the outcome of one input file.
type FileResult struct {
	*convert.Result
	Emoji      string             `json:"emoji,omitempty"`
	Violations []verify.Violation `json:"violations,omitempty"`
}

// Result is the outcome of a job.
type Result struct {
	Job        string             `json:"job"`
	Preset     string             `json:"preset"`
	Title      string             `json:"title"`
	Author     string             `json:"author"`
	Downloaded int                `json:"downloaded"`
	Files      []FileResult       `json:"files"`
	Packs      []platform.PackRef `json:"packs"`
	Errors     []string           `json:"errors,omitempty"`
	Status     string             `json:"status"`
	Duration   time.Duration      `json:"duration"`
}

// Failed returns the number of input files that could not be converted.
func (r *Result) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Error != "" {
			n++
		}
	}
	return n
}

// Store is the persistence the pipeline needs. A nil Store disables
// credential lookup and upload history.
type Store interface {
	Credentials(ctx context.Context, platform string) (map[string]string, error)
	RecordUpload(ctx context.Context, u database.Upload) (int64, error)
}

// Pipeline runs jobs against a converter and the platform clients.
type Pipeline struct {
	conv    *convert.Converter
	store   Store
	http    *httpclient.Client
	workers int

	// Hooks for tests; nil selects the built in clients.
	NewUploader   func(ctx context.Context, job Job, spec *platform.Spec) (platform.Uploader, error)
	NewDownloader func(ctx context.Context, source string) (platform.Downloader, error)
}

// New creates a Pipeline. workers <= 0 sizes the conversion pool from the CPU count.
func New(conv *convert.Converter, store Store, hc *httpclient.Client, workerCount int) *Pipeline {
	if hc == nil {
		hc = httpclient.New(httpclient.Config{})
	}
	if workerCount <= 0 {
		workerCount = workers.ForConversion()
	}
	return &Pipeline{conv: conv, store: store, http: hc, workers: workerCount}
}

// Converter returns the converter used by the pipeline.
func (p *Pipeline) Converter() *convert.Converter {
	return p.conv
}

// Run executes job: optional download, conversion of every sticker file,
// verification, splitting into packs and export. A file that fails is
// reported and skipped; an upload that fails is reported and the next
// pack is tried.
func (p *Pipeline) Run(ctx context.Context, job Job) (res *Result, err error) {
	start := time.Now()
	res = &Result{Job: job.Name, Preset: job.Preset}

	metrics.JobsInProgress.Inc()
	defer func() {
		metrics.JobsInProgress.Dec()
		res.Duration = time.Since(start)
		switch {
		case err != nil:
			res.Status = "error"
			res.Errors = append(res.Errors, err.Error())
		case res.Failed() > 0 || len(res.Errors) > 0:
			res.Status = "partial"
		default:
			res.Status = "success"
		}
		metrics.JobsTotal.WithLabelValues(res.Status).Inc()
		logging.Info("Job %s finished: %s (%d files, %d packs) in %v",
			jobLabel(job), res.Status, len(res.Files), len(res.Packs), res.Duration)
	}()

	spec, err := job.Validate()
	if err != nil {
		return res, err
	}
	res.Preset = spec.Name

	if job.Download != nil {
		if job.Input == "" {
			job.Input = filepath.Join(job.Output, "input")
		}
		n, err := p.download(ctx, job)
		if err != nil {
			return res, err
		}
		res.Downloaded = n
	}

	meta, err := metadata.Load(job.Input)
	if err != nil {
		return res, err
	}
	res.Title = firstNonEmpty(job.Title, meta.Title, filepath.Base(filepath.Clean(job.Input)))
	res.Author = firstNonEmpty(job.Author, meta.Author)
	defEmoji := firstNonEmpty(job.Emoji, metadata.DefaultEmoji)

	inputs, err := metadata.ListStickers(job.Input)
	if err != nil {
		return res, err
	}
	if len(inputs) == 0 {
		return res, fmt.Errorf("%s: %w", job.Input, metadata.ErrNoStickers)
	}
	logging.Info("Job %s: converting %d files to %s", jobLabel(job), len(inputs), spec.Name)

	workerCount := p.workers
	if job.Workers > 0 {
		workerCount = job.Workers
	}
	converted, err := p.conv.ConvertAll(ctx, inputs, job.Output, spec, job.Options, workerCount)
	if err != nil {
		return res, err
	}

	verifier := verify.New(p.conv.Prober())
	outEmoji := make(map[string]string)
	var entries []packer.Entry
	for i, cr := range converted {
		if cr == nil {
			cr = &convert.Result{Input: inputs[i], Error: "not converted"}
		}
		fr := FileResult{Result: cr, Emoji: meta.EmojiFor(metadata.Stem(cr.Input), defEmoji)}
		if cr.Error == "" && cr.Output != "" && !job.Options.NoCompress {
			report, err := verifier.Check(ctx, cr.Output, spec)
			if err != nil {
				logging.Warn("Verify %s: %v", cr.Output, err)
			} else {
				fr.Violations = report.Violations
			}
		}
		res.Files = append(res.Files, fr)

		if cr.Error != "" || cr.Output == "" {
			continue
		}
		outEmoji[metadata.Stem(cr.Output)] = fr.Emoji
		entries = append(entries, packer.Entry{Path: cr.Output, Animated: cr.Animated, Size: cr.Size})
	}
	if len(entries) == 0 {
		return res, ErrNothingConverted
	}

	if err := metadata.Save(job.Output, &metadata.Meta{Title: res.Title, Author: res.Author, Emoji: outEmoji}); err != nil {
		return res, err
	}

	if job.Export == "" || job.Export == ExportNone {
		return res, nil
	}

	packs, err := packer.Split(res.Title, entries, spec.PackOptions())
	if err != nil {
		return res, err
	}

	uploader, err := p.uploader(ctx, job, spec)
	if err != nil {
		return res, err
	}
	for _, pk := range packs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := platform.Pack{
			Title:    pk.Title,
			Author:   res.Author,
			Animated: pk.Animated,
			Cover:    meta.Cover,
		}
		for _, e := range pk.Entries {
			out.Stickers = append(out.Stickers, platform.Sticker{Path: e.Path, Emoji: outEmoji[metadata.Stem(e.Path)]})
		}
		ref, err := uploader.Upload(ctx, out)
		if err != nil {
			logging.Error("Export of %q to %s failed: %v", pk.Title, job.Export, err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", pk.Title, err))
			continue
		}
		res.Packs = append(res.Packs, *ref)
		p.recordUpload(ctx, ref)
	}

	if len(res.Packs) > 0 {
		if err := writeResultFile(job.Output, res.Packs); err != nil {
			logging.Warn("Failed to write %s: %v", metadata.ResultFile, err)
		}
	}
	return res, nil
}

func (p *Pipeline) download(ctx context.Context, job Job) (int, error) {
	dl, err := p.downloader(ctx, job.Download.Platform)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(job.Input, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", job.Input, err)
	}
	got, err := dl.Download(ctx, job.Download.URL, job.Input)
	if err != nil {
		return 0, fmt.Errorf("download from %s: %w", job.Download.Platform, err)
	}

	// Existing metadata files win over what the platform reported.
	existing, err := metadata.Load(job.Input)
	if err != nil {
		return 0, err
	}
	m := &metadata.Meta{}
	if existing.Title == "" {
		m.Title = got.Title
	}
	if existing.Author == "" {
		m.Author = got.Author
	}
	if len(existing.Emoji) == 0 {
		m.Emoji = got.Emoji
	}
	if err := metadata.Save(job.Input, m); err != nil {
		return 0, err
	}
	logging.Info("Downloaded %d files from %s into %s", len(got.Files), job.Download.Platform, job.Input)
	return len(got.Files), nil
}

func (p *Pipeline) credentials(ctx context.Context, name string) (platform.Credentials, error) {
	if p.store == nil {
		return platform.Credentials{}, nil
	}
	creds, err := p.store.Credentials(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s credentials: %w", name, err)
	}
	return platform.Credentials(creds), nil
}

func (p *Pipeline) uploader(ctx context.Context, job Job, spec *platform.Spec) (platform.Uploader, error) {
	if p.NewUploader != nil {
		return p.NewUploader(ctx, job, spec)
	}
	switch job.Export {
	case ExportTelegram:
		creds, err := p.credentials(ctx, telegram.Name)
		if err != nil {
			return nil, err
		}
		return telegram.FromCredentials(creds, p.http, spec.Name == "telegram_emoji")
	case ExportSignal:
		creds, err := p.credentials(ctx, signal.Name)
		if err != nil {
			return nil, err
		}
		return signal.FromCredentials(creds, p.http), nil
	case ExportWastickers:
		return wastickers.New(job.Output, p.conv), nil
	case ExportIMessage:
		return imessage.New(job.Output, imessage.GridForPreset(spec.Name), p.conv), nil
	}
	return nil, fmt.Errorf("%w: export %q", ErrUnknownTarget, job.Export)
}

// Downloader returns the client fetching packs from source.
func (p *Pipeline) Downloader(ctx context.Context, source string) (platform.Downloader, error) {
	return p.downloader(ctx, source)
}

// Uploader returns the exporter for job.Export.
func (p *Pipeline) Uploader(ctx context.Context, job Job, spec *platform.Spec) (platform.Uploader, error) {
	return p.uploader(ctx, job, spec)
}

func (p *Pipeline) downloader(ctx context.Context, source string) (platform.Downloader, error) {
	if p.NewDownloader != nil {
		return p.NewDownloader(ctx, source)
	}
	switch source {
	case SourceTelegram:
		creds, err := p.credentials(ctx, telegram.Name)
		if err != nil {
			return nil, err
		}
		return telegram.FromCredentials(creds, p.http, false)
	case SourceSignal:
		return signal.New(signal.Config{HTTP: p.http}), nil
	case SourceLine:
		return line.New(line.Config{HTTP: p.http}), nil
	case SourceKakao:
		return kakao.New(kakao.Config{HTTP: p.http}), nil
	case SourceDiscord, SourceDiscordEmoji:
		creds, err := p.credentials(ctx, discord.Name)
		if err != nil {
			return nil, err
		}
		return discord.FromCredentials(creds, p.http, source == SourceDiscordEmoji)
	}
	return nil, fmt.Errorf("%w: download source %q", ErrUnknownTarget, source)
}

func (p *Pipeline) recordUpload(ctx context.Context, ref *platform.PackRef) {
	if p.store == nil {
		return
	}
	if _, err := p.store.RecordUpload(ctx, database.Upload{
		Platform:     ref.Platform,
		Title:        ref.Title,
		URL:          ref.URL,
		StickerCount: ref.Count,
	}); err != nil {
		logging.Warn("Failed to record upload of %q: %v", ref.Title, err)
	}
}

func writeResultFile(dir string, refs []platform.PackRef) error {
	var b strings.Builder
	for _, r := range refs {
		fmt.Fprintf(&b, "%s\n", r.URL)
	}
	return os.WriteFile(filepath.Join(dir, metadata.ResultFile), []byte(b.String()), 0o644)
}

func jobLabel(job Job) string {
	if job.Name != "" {
		return job.Name
	}
	return firstNonEmpty(job.Input, job.Output)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
