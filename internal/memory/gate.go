package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
)

// GateConfig configures a Gate.
type GateConfig struct {
	// Limit is the heap size usage is measured against. Zero uses GOMEMLIMIT.
	Limit int64
	// High is the usage under which a closed gate opens again.
	High float64
	// Critical is the usage at which the gate closes.
	Critical float64
	// Interval between samples.
	Interval time.Duration
}

// DefaultGateConfig returns the settings used by serve.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		High:     0.7,
		Critical: 0.85,
		Interval: 2 * time.Second,
	}
}

// Gate holds work back while the heap is close to its limit. A nil Gate
// or one without a limit never blocks.
type Gate struct {
	config GateConfig
	limit  int64
	heap   func() uint64

	mu     sync.Mutex
	usage  float64
	closed bool
	open   chan struct{}

	stop chan struct{}
	once sync.Once
}

// NewGate creates a Gate. Call Start to begin sampling.
func NewGate(config GateConfig) *Gate {
	limit := config.Limit
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < 1<<62 {
			limit = l
		}
	}
	return &Gate{
		config: config,
		limit:  limit,
		heap:   heapAlloc,
		open:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// Start samples heap usage until Stop.
func (g *Gate) Start() {
	if g.limit == 0 {
		logging.Debug("Memory gate disabled: no memory limit")
		return
	}
	go func() {
		ticker := time.NewTicker(g.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.sample()
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and releases every waiter.
func (g *Gate) Stop() {
	g.once.Do(func() {
		close(g.stop)
		g.mu.Lock()
		g.release()
		g.mu.Unlock()
	})
}

func (g *Gate) sample() {
	usage := float64(g.heap()) / float64(g.limit)
	metrics.MemoryUsageRatio.Set(usage)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage = usage

	switch {
	case !g.closed && usage >= g.config.Critical:
		logging.Warn("Memory critical (%.1f%% of limit), holding new conversions", usage*100)
		g.closed = true
		metrics.MemoryPaused.Set(1)
		go runtime.GC()
	case g.closed && usage < g.config.High:
		logging.Info("Memory recovered (%.1f%% of limit), resuming conversions", usage*100)
		g.release()
	}
}

// release opens the gate; g.mu must be held.
func (g *Gate) release() {
	if !g.closed {
		return
	}
	g.closed = false
	metrics.MemoryPaused.Set(0)
	close(g.open)
	g.open = make(chan struct{})
}

// Wait returns once the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	if !g.closed {
		g.mu.Unlock()
		return nil
	}
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Usage returns the last sampled heap usage as a share of the limit.
func (g *Gate) Usage() float64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}
