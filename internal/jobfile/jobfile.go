package jobfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/pipeline"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Extension is the suffix of job files found in directories.
const Extension = ".hcl"

var (
	// ErrNoJobs is returned when the given paths declare no job.
	ErrNoJobs = errors.New("no jobs defined")
	// ErrDuplicateJob is returned when two job blocks share a name.
	ErrDuplicateJob = errors.New("duplicate job name")
)

type hclFile struct {
	Jobs []*hclJob `hcl:"job,block"`
}

type hclJob struct {
	Name     string       `hcl:"name,label"`
	Input    string       `hcl:"input,optional"`
	Output   string       `hcl:"output"`
	Preset   string       `hcl:"preset"`
	Title    string       `hcl:"title,optional"`
	Author   string       `hcl:"author,optional"`
	Emoji    string       `hcl:"emoji,optional"`
	Export   string       `hcl:"export,optional"`
	Workers  int          `hcl:"workers,optional"`
	Download *hclDownload `hcl:"download,block"`
	Options  *hclOptions  `hcl:"options,block"`
}

type hclDownload struct {
	Platform string `hcl:"platform"`
	URL      string `hcl:"url"`
}

type hclOptions struct {
	FakeVideo       bool   `hcl:"fake_video,optional"`
	ForceRecompress bool   `hcl:"force_recompress,optional"`
	NoCompress      bool   `hcl:"no_compress,optional"`
	Format          string `hcl:"format,optional"`
}

// Load parses every path, expanding directories to the job files they
// contain, and returns the jobs in declaration order.
func Load(paths ...string) ([]pipeline.Job, error) {
	files, err := expand(paths)
	if err != nil {
		return nil, err
	}

	parser := hclparse.NewParser()
	ctx := evalContext()
	seen := make(map[string]string)

	var jobs []pipeline.Job
	for _, file := range files {
		parsed, err := parseFile(parser, ctx, file)
		if err != nil {
			return nil, err
		}
		for _, job := range parsed {
			if prev, ok := seen[job.Name]; ok {
				return nil, fmt.Errorf("%w: %q in %s and %s", ErrDuplicateJob, job.Name, prev, file)
			}
			seen[job.Name] = file
			jobs = append(jobs, job)
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoJobs, strings.Join(paths, ", "))
	}
	logging.Debug("Loaded %d jobs from %d files", len(jobs), len(files))
	return jobs, nil
}

func parseFile(parser *hclparse.Parser, ctx *hcl.EvalContext, path string) ([]pipeline.Job, error) {
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, diags)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, ctx, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode job file %s: %w", path, diags)
	}

	base := filepath.Dir(path)
	jobs := make([]pipeline.Job, 0, len(parsed.Jobs))
	for _, hj := range parsed.Jobs {
		job := hj.toJob(base)
		if _, err := job.Validate(); err != nil {
			return nil, fmt.Errorf("%s: job %q: %w", path, hj.Name, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (h *hclJob) toJob(base string) pipeline.Job {
	job := pipeline.Job{
		Name:    h.Name,
		Input:   resolve(base, h.Input),
		Output:  resolve(base, h.Output),
		Preset:  h.Preset,
		Title:   h.Title,
		Author:  h.Author,
		Emoji:   h.Emoji,
		Export:  h.Export,
		Workers: h.Workers,
	}
	if h.Download != nil {
		job.Download = &pipeline.Source{Platform: h.Download.Platform, URL: h.Download.URL}
	}
	if h.Options != nil {
		job.Options = convert.Options{
			FakeVideo:       h.Options.FakeVideo,
			ForceRecompress: h.Options.ForceRecompress,
			NoCompress:      h.Options.NoCompress,
			Format:          h.Options.Format,
		}
	}
	return job
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expand replaces directories with the job files directly inside them.
func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read job path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), Extension) {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
	}
}
