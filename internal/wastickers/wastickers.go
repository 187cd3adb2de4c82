package wastickers

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"
)

// Name is the export target name used in metrics.
const Name = "wastickers"

// Limits WhatsApp places on a pack.
const (
	MinStickers   = 3
	MaxStickers   = 30
	TraySize      = 96
	TrayMaxBytes  = 50 * 1024
	trayName      = "tray.png"
	fileExtension = ".wastickers"
)

var (
	// ErrPackSize is returned for packs outside 3 to 30 stickers.
	ErrPackSize = errors.New("whatsapp packs need 3 to 30 stickers")

	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)
)

// IconMaker renders a tray icon from an image.
type IconMaker interface {
	MakeIcon(ctx context.Context, src, dst string, w, h int, maxBytes int64) error
}

// Exporter writes .wastickers bundles into a directory.
type Exporter struct {
	outDir string
	icons  IconMaker
}

// New creates an Exporter writing into outDir.
func New(outDir string, icons IconMaker) *Exporter {
	return &Exporter{outDir: outDir, icons: icons}
}

// FileName returns a filesystem safe bundle name for title.
func FileName(title string) string {
	name := strings.TrimSpace(unsafeChars.ReplaceAllString(title, "_"))
	if name == "" {
		name = "stickers"
	}
	return name + fileExtension
}

// Upload writes pack as a zip of title.txt, author.txt, tray.png and the
// WebP stickers. The returned PackRef URL is the bundle path.
func (e *Exporter) Upload(ctx context.Context, pack platform.Pack) (ref *platform.PackRef, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.UploadsTotal.WithLabelValues(Name, status).Inc()
	}()

	if n := len(pack.Stickers); n < MinStickers || n > MaxStickers {
		return nil, fmt.Errorf("%w: got %d", ErrPackSize, n)
	}
	for _, s := range pack.Stickers {
		if formats.FromPath(s.Path) != formats.WebP {
			return nil, fmt.Errorf("%s is not webp", filepath.Base(s.Path))
		}
	}
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return nil, err
	}

	work, err := os.MkdirTemp("", "wastickers-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	cover := pack.Cover
	if cover == "" {
		cover = pack.Stickers[0].Path
	}
	tray := filepath.Join(work, trayName)
	if err := e.icons.MakeIcon(ctx, cover, tray, TraySize, TraySize, TrayMaxBytes); err != nil {
		return nil, fmt.Errorf("failed to make tray icon: %w", err)
	}

	dst := filepath.Join(e.outDir, FileName(pack.Title))
	if err := writeBundle(dst, pack, tray); err != nil {
		os.Remove(dst)
		return nil, err
	}
	logging.Info("Wrote %s with %d stickers", dst, len(pack.Stickers))
	return &platform.PackRef{Platform: Name, Title: pack.Title, URL: dst, Count: len(pack.Stickers)}, nil
}

func writeBundle(dst string, pack platform.Pack, tray string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	err = errors.Join(
		writeText(zw, metadata.TitleFile, pack.Title),
		writeText(zw, metadata.AuthorFile, pack.Author),
		copyInto(zw, trayName, tray),
	)
	for i, s := range pack.Stickers {
		if err != nil {
			break
		}
		err = copyInto(zw, fmt.Sprintf("%03d%s", i, formats.WebP), s.Path)
	}
	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func writeText(zw *zip.Writer, name, text string) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}

func copyInto(zw *zip.Writer, name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// Images are already compressed.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
