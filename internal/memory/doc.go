// Package memory keeps the server's Go heap within the memory it is given.
//
// [ConfigureLimit] sets GOMEMLIMIT from the environment or the cgroup the
// process runs in. Only part of the limit goes to the heap: ffmpeg,
// ImageMagick and libvips allocate outside it.
//
// Environment variables:
//
//   - GOMEMLIMIT: standard Go variable, used as is when set
//   - MEMORY_LIMIT: container limit in bytes, for example from the
//     Kubernetes Downward API
//   - MEMORY_RATIO: share of the limit given to the heap (default 0.6)
//
// Without either variable the cgroup v2 file memory.max is read.
//
// A [Gate] samples heap usage and holds new conversions back while usage
// is above the critical mark, releasing them once it falls under the high
// mark again.
package memory
