package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
)

// ErrToolNotFound is returned when an external engine is not installed.
var ErrToolNotFound = errors.New("tool not found")

// Tool names an external conversion engine.
type Tool string

// Engines the converter knows how to drive.
const (
	FFmpeg   Tool = "ffmpeg"
	FFprobe  Tool = "ffprobe"
	Magick   Tool = "magick"
	Apngasm  Tool = "apngasm"
	Pngquant Tool = "pngquant"
	Optipng  Tool = "optipng"
)

// All lists every known tool in display order.
var All = []Tool{FFmpeg, FFprobe, Magick, Apngasm, Pngquant, Optipng}

// binaryNames lists candidate executables per tool, tried in order.
// ImageMagick 6 ships "convert" instead of "magick".
var binaryNames = map[Tool][]string{
	FFmpeg:   {"ffmpeg"},
	FFprobe:  {"ffprobe"},
	Magick:   {"magick", "convert"},
	Apngasm:  {"apngasm"},
	Pngquant: {"pngquant"},
	Optipng:  {"optipng"},
}

// versionArgs are the arguments that make a tool print its version.
var versionArgs = map[Tool][]string{
	FFmpeg:   {"-version"},
	FFprobe:  {"-version"},
	Magick:   {"-version"},
	Apngasm:  {"--version"},
	Pngquant: {"--version"},
	Optipng:  {"-v"},
}

// Registry resolves tool names to executable paths.
type Registry struct {
	paths map[Tool]string
}

// ToolStatus describes one entry of the registry for display.
type ToolStatus struct {
	Name      Tool   `json:"name"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

// Discover looks up every known tool on PATH. A non-empty override replaces
// the lookup for that tool; overrides that do not resolve are reported as
// missing rather than silently falling back to PATH.
func Discover(overrides map[Tool]string) *Registry {
	r := &Registry{paths: make(map[Tool]string)}

	for _, tool := range All {
		if override := overrides[tool]; override != "" {
			path, err := exec.LookPath(override)
			if err != nil {
				logging.Warn("%s override %q not usable: %v", tool, override, err)
				continue
			}
			r.paths[tool] = path
			continue
		}

		for _, name := range binaryNames[tool] {
			if path, err := exec.LookPath(name); err == nil {
				r.paths[tool] = path
				break
			}
		}
	}

	return r
}

// NewRegistry builds a registry from explicit paths. Used by tests and by
// callers that already know where their engines live.
func NewRegistry(paths map[Tool]string) *Registry {
	r := &Registry{paths: make(map[Tool]string, len(paths))}
	for tool, path := range paths {
		if path != "" {
			r.paths[tool] = path
		}
	}
	return r
}

// Path returns the executable for tool.
func (r *Registry) Path(tool Tool) (string, error) {
	if r != nil {
		if path, ok := r.paths[tool]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s: %w", tool, ErrToolNotFound)
}

// Available reports whether tool was found.
func (r *Registry) Available(tool Tool) bool {
	_, err := r.Path(tool)
	return err == nil
}

// Version returns the first line of the tool's version output.
func (r *Registry) Version(ctx context.Context, tool Tool) (string, error) {
	path, err := r.Path(tool)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// optipng and apngasm print their version on stderr on some builds.
	output, err := exec.CommandContext(ctx, path, versionArgs[tool]...).CombinedOutput()
	if err != nil && len(output) == 0 {
		return "", fmt.Errorf("failed to get %s version: %w", tool, err)
	}

	line, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(line), nil
}

// Status reports every known tool, with versions when withVersion is set.
func (r *Registry) Status(ctx context.Context, withVersion bool) []ToolStatus {
	statuses := make([]ToolStatus, 0, len(All))
	for _, tool := range All {
		st := ToolStatus{Name: tool}
		if path, err := r.Path(tool); err == nil {
			st.Path = path
			st.Available = true
			if withVersion {
				if v, err := r.Version(ctx, tool); err == nil {
					st.Version = v
				}
			}
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Runner executes external engines. It is the seam that lets tests replace
// subprocesses with canned output.
type Runner interface {
	// Run executes tool with args and returns its stdout. A non-zero exit
	// is returned as an error carrying the tool's stderr.
	Run(ctx context.Context, tool Tool, args ...string) ([]byte, error)
	// Available reports whether tool can be run at all.
	Available(tool Tool) bool
}

// ExecRunner runs tools as child processes and keeps track of the live ones
// so that Cleanup can kill them on shutdown.
type ExecRunner struct {
	registry  *Registry
	processes map[int]*exec.Cmd
	nextID    int
	processMu sync.Mutex
}

// NewExecRunner creates a runner backed by reg.
func NewExecRunner(reg *Registry) *ExecRunner {
	return &ExecRunner{
		registry:  reg,
		processes: make(map[int]*exec.Cmd),
	}
}

// Registry returns the registry the runner resolves tools with.
func (e *ExecRunner) Registry() *Registry {
	return e.registry
}

// Available reports whether tool was discovered.
func (e *ExecRunner) Available(tool Tool) bool {
	return e.registry.Available(tool)
}

// Run executes tool and waits for it to finish.
func (e *ExecRunner) Run(ctx context.Context, tool Tool, args ...string) ([]byte, error) {
	path, err := e.registry.Path(tool)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("exec: %s %s", tool, strings.Join(args, " "))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues(string(tool), "error").Inc()
		return nil, fmt.Errorf("failed to start %s: %w", tool, err)
	}

	id := e.track(cmd)
	defer e.untrack(id)

	err = cmd.Wait()
	metrics.ToolInvocationDuration.WithLabelValues(string(tool)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues(string(tool), "error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ExitError{Tool: tool, Err: err, Stderr: lastLines(stderr.String(), 5)}
	}

	metrics.ToolInvocationsTotal.WithLabelValues(string(tool), "success").Inc()
	return stdout.Bytes(), nil
}

func (e *ExecRunner) track(cmd *exec.Cmd) int {
	e.processMu.Lock()
	defer e.processMu.Unlock()
	e.nextID++
	e.processes[e.nextID] = cmd
	return e.nextID
}

func (e *ExecRunner) untrack(id int) {
	e.processMu.Lock()
	delete(e.processes, id)
	e.processMu.Unlock()
}

// Running returns the number of live child processes.
func (e *ExecRunner) Running() int {
	e.processMu.Lock()
	defer e.processMu.Unlock()
	return len(e.processes)
}

// Cleanup kills all live child processes.
func (e *ExecRunner) Cleanup() {
	e.processMu.Lock()
	defer e.processMu.Unlock()

	ids := make([]int, 0, len(e.processes))
	for id := range e.processes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		cmd := e.processes[id]
		if cmd.Process != nil {
			logging.Info("Killing engine process: %s (pid %d)", cmd.Path, cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill %s: %v", cmd.Path, err)
			}
		}
	}
}

// ExitError is returned when a tool exits unsuccessfully.
type ExitError struct {
	Tool   Tool
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v - %s", e.Tool, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// lastLines keeps the tail of a tool's stderr; ffmpeg prints its banner
// first and the actual complaint last.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
