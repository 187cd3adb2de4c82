package packer

import (
	"context"
	"errors"
	"fmt"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/probe"
)

// ErrInvalidLimits is returned when the pack caps needed by the chosen
// mode are missing or not positive.
var ErrInvalidLimits = errors.New("invalid pack limits")

// Entry is one sticker file to be placed into a pack.
type Entry struct {
	Path     string `json:"path"`
	Animated bool   `json:"animated"`
	Size     int64  `json:"size"`
}

// Options bound the packs produced by Split.
type Options struct {
	// PerPack caps a pack when static and animated stickers share packs.
	PerPack int `json:"perPack"`
	// PerStaticPack and PerAnimatedPack cap the separate bins.
	PerStaticPack   int `json:"perStaticPack"`
	PerAnimatedPack int `json:"perAnimatedPack"`
	// MaxPackBytes limits the summed file size of a pack. Zero means unbounded.
	MaxPackBytes int64 `json:"maxPackBytes"`
	// SeparateStaticAnimated puts animated and static stickers in different packs.
	SeparateStaticAnimated bool `json:"separateStaticAnimated"`
}

// Validate checks that the caps for the selected mode are usable.
func (o Options) Validate() error {
	if o.MaxPackBytes < 0 {
		return fmt.Errorf("%w: max pack bytes %d", ErrInvalidLimits, o.MaxPackBytes)
	}
	if o.SeparateStaticAnimated {
		if o.PerStaticPack <= 0 || o.PerAnimatedPack <= 0 {
			return fmt.Errorf("%w: static %d, animated %d", ErrInvalidLimits, o.PerStaticPack, o.PerAnimatedPack)
		}
		return nil
	}
	if o.PerPack <= 0 {
		return fmt.Errorf("%w: per pack %d", ErrInvalidLimits, o.PerPack)
	}
	return nil
}

// Pack is one emitted group of stickers.
type Pack struct {
	Title    string  `json:"title"`
	Animated bool    `json:"animated"`
	Entries  []Entry `json:"entries"`
}

// Paths returns the file paths of the pack in order.
func (p Pack) Paths() []string {
	paths := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		paths[i] = e.Path
	}
	return paths
}

// Bytes returns the summed size of the pack entries.
func (p Pack) Bytes() int64 {
	var n int64
	for _, e := range p.Entries {
		n += e.Size
	}
	return n
}

type bin struct {
	animated bool
	cap      int
	entries  []Entry
	bytes    int64
	first    int
}

// Split partitions entries greedily into packs. Input order is kept inside
// each bin. A bin is emitted when it reaches its cap or when the next entry
// would push it past MaxPackBytes; leftovers are emitted at the end in the
// order their first entry appeared. Pack titles follow emission order:
// title, title-1, title-2, ...
func Split(title string, entries []Entry, opts Options) ([]Pack, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var bins []*bin
	if opts.SeparateStaticAnimated {
		bins = []*bin{
			{animated: false, cap: opts.PerStaticPack},
			{animated: true, cap: opts.PerAnimatedPack},
		}
	} else {
		bins = []*bin{{cap: opts.PerPack}}
	}
	pick := func(e Entry) *bin {
		if opts.SeparateStaticAnimated && e.Animated {
			return bins[1]
		}
		return bins[0]
	}

	var packs []Pack
	flush := func(b *bin) {
		if len(b.entries) == 0 {
			return
		}
		p := Pack{Title: packTitle(title, len(packs)), Entries: b.entries}
		if opts.SeparateStaticAnimated {
			p.Animated = b.animated
		} else {
			for _, e := range b.entries {
				p.Animated = p.Animated || e.Animated
			}
		}
		packs = append(packs, p)
		b.entries = nil
		b.bytes = 0
	}

	for i, e := range entries {
		b := pick(e)
		if len(b.entries) > 0 && opts.MaxPackBytes > 0 && b.bytes+e.Size > opts.MaxPackBytes {
			flush(b)
		}
		if len(b.entries) == 0 {
			b.first = i
		}
		if opts.MaxPackBytes > 0 && e.Size > opts.MaxPackBytes {
			logging.Warn("%s (%d bytes) alone exceeds the pack size limit of %d bytes", e.Path, e.Size, opts.MaxPackBytes)
		}
		b.entries = append(b.entries, e)
		b.bytes += e.Size
		if len(b.entries) >= b.cap {
			flush(b)
		}
	}

	// Leftovers go out in the order their first entry appeared.
	if len(bins) == 2 && len(bins[0].entries) > 0 && len(bins[1].entries) > 0 && bins[1].first < bins[0].first {
		bins[0], bins[1] = bins[1], bins[0]
	}
	for _, b := range bins {
		flush(b)
	}

	metrics.PacksSplitTotal.Add(float64(len(packs)))
	for _, p := range packs {
		metrics.PackStickerCount.Observe(float64(len(p.Entries)))
	}
	return packs, nil
}

func packTitle(title string, n int) string {
	if n == 0 {
		return title
	}
	return fmt.Sprintf("%s-%d", title, n)
}

// Prober is the subset of probe.Prober used by SplitDir.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Info, error)
}

// Skipped records a file SplitDir could not place.
type Skipped struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// SplitDir lists the sticker files in dir, probes each for its animated
// flag and size, and splits them. Files that cannot be probed are skipped
// and reported.
func SplitDir(ctx context.Context, prober Prober, dir, title string, opts Options) ([]Pack, []Skipped, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	paths, err := metadata.ListStickers(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", dir, metadata.ErrNoStickers)
	}

	entries := make([]Entry, 0, len(paths))
	var skipped []Skipped
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		info, err := prober.Probe(ctx, path)
		if err != nil {
			logging.Warn("Skipping %s: %v", path, err)
			skipped = append(skipped, Skipped{Path: path, Err: err.Error()})
			continue
		}
		entries = append(entries, Entry{Path: path, Animated: info.Animated, Size: info.Size})
	}

	packs, err := Split(title, entries, opts)
	if err != nil {
		return nil, nil, err
	}
	logging.Debug("Split %d stickers from %s into %d packs", len(entries), dir, len(packs))
	return packs, skipped, nil
}
