package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"sticker-convert/internal/logging"
)

// DefaultRatio is the share of the container limit given to the Go heap.
const DefaultRatio = 0.6

// cgroupMemoryMax is read when no variable names a limit.
var cgroupMemoryMax = "/sys/fs/cgroup/memory.max"

// Limit describes how GOMEMLIMIT was configured.
type Limit struct {
	// Source is "GOMEMLIMIT", "MEMORY_LIMIT", "cgroup" or "none".
	Source         string
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// Configured reports whether a heap limit is in effect.
func (l Limit) Configured() bool {
	return l.GoMemLimit > 0
}

// ConfigureLimit sets GOMEMLIMIT. Call it before large allocations.
func ConfigureLimit() Limit {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		res := Limit{Source: "GOMEMLIMIT"}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			res.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return res
	}

	source := "MEMORY_LIMIT"
	containerLimit, ok := parseBytes(os.Getenv("MEMORY_LIMIT"))
	if !ok {
		source = "cgroup"
		containerLimit, ok = readCgroupLimit(cgroupMemoryMax)
	}
	if !ok {
		logging.Debug("No memory limit found, GOMEMLIMIT not configured")
		return Limit{Source: "none"}
	}

	ratio := ratioFromEnv()
	goMemLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s from %s)",
		formatBytes(goMemLimit), ratio*100, formatBytes(containerLimit), source)

	return Limit{
		Source:         source,
		ContainerLimit: containerLimit,
		GoMemLimit:     goMemLimit,
		Ratio:          ratio,
	}
}

func ratioFromEnv() float64 {
	s := os.Getenv("MEMORY_RATIO")
	if s == "" {
		return DefaultRatio
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || r <= 0 || r > 1 {
		logging.Warn("MEMORY_RATIO %q is not in (0, 1], using %.2f", s, DefaultRatio)
		return DefaultRatio
	}
	return r
}

func parseBytes(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		logging.Warn("Ignoring memory limit %q", s)
		return 0, false
	}
	return n, true
}

// readCgroupLimit reads a cgroup v2 memory.max file. "max" means unlimited.
func readCgroupLimit(path string) (int64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return 0, false
	}
	return parseBytes(s)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
