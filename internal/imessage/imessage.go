package imessage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"
)

// Name is the export target name used in metrics.
const Name = "imessage"

// Grid sizes of a sticker pack, matching the imessage_* presets.
const (
	GridSmall   = "small"
	GridRegular = "regular"
	GridLarge   = "large"
)

const (
	catalogDir = "Stickers.xcstickers"
	packDir    = "Sticker Pack.stickerpack"
	iconSetDir = "iMessage App Icon.stickersiconset"
)

var (
	// ErrEmptyPack is returned when exporting a pack without stickers.
	ErrEmptyPack = errors.New("pack has no stickers")

	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)
)

// IconMaker renders an app icon from an image.
type IconMaker interface {
	MakeIcon(ctx context.Context, src, dst string, w, h int, maxBytes int64) error
}

// icon is one entry of the Messages app icon set.
type icon struct {
	Size     string `json:"size"`
	Scale    string `json:"scale"`
	Idiom    string `json:"idiom"`
	Platform string `json:"platform,omitempty"`
	Filename string `json:"filename"`
	w, h     int
}

func iconSet() []icon {
	entries := []struct {
		idiom, size, scale string
		w, h               int
	}{
		{"iphone", "29x29", "2x", 58, 58},
		{"iphone", "29x29", "3x", 87, 87},
		{"iphone", "60x45", "2x", 120, 90},
		{"iphone", "60x45", "3x", 180, 135},
		{"ipad", "29x29", "2x", 58, 58},
		{"ipad", "67x50", "2x", 134, 100},
		{"ipad", "74x55", "2x", 148, 110},
		{"universal", "27x20", "2x", 54, 40},
		{"universal", "27x20", "3x", 81, 60},
		{"universal", "32x24", "2x", 64, 48},
		{"universal", "32x24", "3x", 96, 72},
		{"ios-marketing", "1024x768", "1x", 1024, 768},
	}
	out := make([]icon, 0, len(entries))
	for _, e := range entries {
		ic := icon{Size: e.size, Scale: e.scale, Idiom: e.idiom, w: e.w, h: e.h,
			Filename: fmt.Sprintf("icon-%dx%d.png", e.w, e.h)}
		if e.idiom == "universal" {
			ic.Platform = "ios"
		}
		out = append(out, ic)
	}
	return out
}

var info = map[string]any{"author": "xcode", "version": 1}

// Exporter writes Xcode sticker pack asset catalogs.
type Exporter struct {
	outDir string
	grid   string
	icons  IconMaker
}

// New creates an Exporter. grid is one of GridSmall, GridRegular or
// GridLarge; empty means regular.
func New(outDir, grid string, icons IconMaker) *Exporter {
	if grid == "" {
		grid = GridRegular
	}
	return &Exporter{outDir: outDir, grid: grid, icons: icons}
}

// GridForPreset maps an imessage_* preset name to its grid size.
func GridForPreset(preset string) string {
	switch preset {
	case "imessage_small":
		return GridSmall
	case "imessage_large":
		return GridLarge
	}
	return GridRegular
}

// Upload writes <title>/Stickers.xcstickers holding the sticker
// pack and the Messages icon set. The PackRef URL is the bundle path.
func (e *Exporter) Upload(ctx context.Context, pack platform.Pack) (ref *platform.PackRef, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.UploadsTotal.WithLabelValues(Name, status).Inc()
	}()

	if len(pack.Stickers) == 0 {
		return nil, ErrEmptyPack
	}
	name := strings.TrimSpace(unsafeChars.ReplaceAllString(pack.Title, "_"))
	if name == "" {
		name = "Stickers"
	}
	bundle := filepath.Join(e.outDir, name)
	if err := os.RemoveAll(bundle); err != nil {
		return nil, err
	}
	catalog := filepath.Join(bundle, catalogDir)

	if err := writeJSON(filepath.Join(catalog, "Contents.json"), map[string]any{"info": info}); err != nil {
		return nil, err
	}
	if err := e.writeStickers(filepath.Join(catalog, packDir), pack); err != nil {
		return nil, err
	}

	cover := pack.Cover
	if cover == "" {
		cover = pack.Stickers[0].Path
	}
	if err := e.writeIcons(ctx, filepath.Join(catalog, iconSetDir), cover); err != nil {
		return nil, err
	}

	logging.Info("Wrote %s with %d stickers", bundle, len(pack.Stickers))
	return &platform.PackRef{Platform: Name, Title: pack.Title, URL: bundle, Count: len(pack.Stickers)}, nil
}

func (e *Exporter) writeStickers(dir string, pack platform.Pack) error {
	type entry struct {
		Filename string `json:"filename"`
	}
	var list []entry
	for i, s := range pack.Stickers {
		stem := fmt.Sprintf("%03d", i)
		ext := formats.FromPath(s.Path)
		stickerDir := filepath.Join(dir, stem+".sticker")
		if err := os.MkdirAll(stickerDir, 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(stickerDir, stem+ext), data, 0o644); err != nil {
			return err
		}
		props := map[string]any{"filename": stem + ext}
		if s.Emoji != "" {
			props["accessibility-label"] = s.Emoji
		}
		if err := writeJSON(filepath.Join(stickerDir, "Contents.json"), map[string]any{"info": info, "properties": props}); err != nil {
			return err
		}
		list = append(list, entry{Filename: stem + ".sticker"})
	}
	return writeJSON(filepath.Join(dir, "Contents.json"), map[string]any{
		"info":       info,
		"properties": map[string]any{"grid-size": e.grid},
		"stickers":   list,
	})
}

func (e *Exporter) writeIcons(ctx context.Context, dir, cover string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	icons := iconSet()
	for _, ic := range icons {
		if err := e.icons.MakeIcon(ctx, cover, filepath.Join(dir, ic.Filename), ic.w, ic.h, 0); err != nil {
			return fmt.Errorf("failed to make %s: %w", ic.Filename, err)
		}
	}
	return writeJSON(filepath.Join(dir, "Contents.json"), map[string]any{"info": info, "images": icons})
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
