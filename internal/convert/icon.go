package convert

import (
	"context"
	"fmt"
	"image/color"
	"os"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/toolchain"

	"github.com/disintegration/imaging"
)

// iconPalettes are tried in order when an icon is over its size limit.
var iconPalettes = []int{256, 128, 64, 32, 16}

// MakeIcon renders the first frame of src as a w x h PNG centered on a
// transparent canvas. When maxBytes is set the palette is reduced until the
// file fits.
func (c *Converter) MakeIcon(ctx context.Context, src, dst string, w, h int, maxBytes int64) error {
	info, err := c.prober.Probe(ctx, src)
	if err != nil {
		logging.Debug("Probing icon source %s failed: %v", src, err)
		info = nil
	}
	img, err := c.decodeFirstFrame(ctx, src, info)
	if err != nil {
		return err
	}

	canvas := imaging.New(w, h, color.NRGBA{})
	icon := imaging.PasteCenter(canvas, imaging.Fit(img, w, h, imaging.Lanczos))
	if err := imaging.Save(icon, dst); err != nil {
		return fmt.Errorf("failed to write icon: %w", err)
	}
	c.optimizePNG(ctx, dst)

	if maxBytes <= 0 {
		return nil
	}
	for _, colors := range iconPalettes {
		st, err := os.Stat(dst)
		if err != nil {
			return err
		}
		if st.Size() <= maxBytes {
			return nil
		}
		if !c.has(toolchain.Pngquant) {
			break
		}
		c.quantizePNG(ctx, dst, colors)
	}
	st, err := os.Stat(dst)
	if err != nil {
		return err
	}
	if st.Size() > maxBytes {
		return fmt.Errorf("icon %s is %d bytes, limit %d: %w", dst, st.Size(), maxBytes, ErrCannotFit)
	}
	return nil
}
