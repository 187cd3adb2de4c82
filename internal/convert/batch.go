package convert

import (
	"context"
	"fmt"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/platform"

	"golang.org/x/sync/errgroup"
)

// ConvertAll converts inputs on at most workers goroutines. A failed file
// is reported in its Result and does not stop the batch; results are in
// input order. The returned error is only set when ctx is cancelled.
func (c *Converter) ConvertAll(ctx context.Context, inputs []string, outDir string, spec *platform.Spec, opts Options, workers int) ([]*Result, error) {
	results := make([]*Result, len(inputs))
	names := uniqueStems(inputs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = &Result{Input: in, Error: err.Error()}
				return err
			}
			o := opts
			o.Name = names[i]
			res, err := c.Convert(gctx, in, outDir, spec, o)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.Warn("Skipping %s: %v", in, err)
			}
			results[i] = res
			return nil
		})
	}

	err := g.Wait()
	for i, res := range results {
		if res == nil {
			results[i] = &Result{Input: inputs[i], Error: context.Canceled.Error()}
		}
	}
	return results, err
}

// uniqueStems returns output names, suffixing repeated stems so that
// a.png and a.gif do not overwrite each other.
func uniqueStems(inputs []string) []string {
	seen := make(map[string]int, len(inputs))
	names := make([]string, len(inputs))
	for i, in := range inputs {
		stem := metadata.Stem(in)
		n := seen[stem]
		seen[stem] = n + 1
		if n > 0 {
			stem = fmt.Sprintf("%s-%d", stem, n)
		}
		names[i] = stem
	}
	return names
}
