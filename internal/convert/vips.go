package convert

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"sticker-convert/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// InitVips starts libvips. Call once at startup; without it the static
// encoders fall back to imaging and ffmpeg.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// vips logs go through our logger, filtered one level above LOG_LEVEL
	level := vips.LogLevelWarning
	switch logging.GetLevel() {
	case logging.LevelDebug:
		level = vips.LogLevelInfo
	case logging.LevelWarn:
		level = vips.LogLevelError
	case logging.LevelError:
		level = vips.LogLevelCritical
	}
	vips.LoggingSettings(func(domain string, l vips.LogLevel, msg string) {
		switch {
		case l <= vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case l == vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}, level)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips releases libvips resources.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// loadWithVips decodes the first frame of path with libvips. It reads
// formats Go has no decoder for (HEIC, AVIF, SVG, ...).
func loadWithVips(path string) (image.Image, error) {
	if !IsVipsAvailable() {
		return nil, fmt.Errorf("libvips not available")
	}

	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	buf, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode vips output: %w", err)
	}

	logging.Debug("Vips loaded %s: %dx%d", filepath.Base(path), img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// webpWithVips encodes PNG bytes as a lossy WebP.
func webpWithVips(pngData []byte, quality int) ([]byte, error) {
	if !IsVipsAvailable() {
		return nil, fmt.Errorf("libvips not available")
	}

	ref, err := vips.NewImageFromBuffer(pngData)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	ep := vips.NewWebpExportParams()
	ep.Quality = quality
	ep.StripMetadata = true
	ep.ReductionEffort = 6
	out, _, err := ref.ExportWebp(ep)
	if err != nil {
		return nil, fmt.Errorf("vips webp export failed: %w", err)
	}
	return out, nil
}
