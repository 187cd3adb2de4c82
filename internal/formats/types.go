package formats

import (
	"path/filepath"
	"strings"
)

// Kind classifies a sticker file by what it can hold.
type Kind string

const (
	// KindStatic is a single-frame raster image.
	KindStatic Kind = "static"
	// KindAnimated is a container that may carry several frames.
	KindAnimated Kind = "animated"
	// KindVideo is a video container.
	KindVideo Kind = "video"
	// KindOther is an unrecognised file.
	KindOther Kind = "other"
)

// Extensions used throughout the converter.
const (
	PNG  = ".png"
	APNG = ".apng"
	JPEG = ".jpg"
	GIF  = ".gif"
	WebP = ".webp"
	WebM = ".webm"
	MP4  = ".mp4"
	TGS  = ".tgs"
)

// StaticExtensions maps extensions that only ever hold one frame.
var StaticExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// AnimatedExtensions maps image extensions that may or may not be animated.
// The answer for a particular file comes from probing it.
var AnimatedExtensions = map[string]bool{
	".png":  true,
	".apng": true,
	".gif":  true,
	".webp": true,
	".tgs":  true,
}

// VideoExtensions maps video containers accepted as sticker sources.
var VideoExtensions = map[string]bool{
	".webm": true,
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
	".m4v":  true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".apng": "image/apng",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".tgs":  "application/x-tgsticker",

	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".m4v":  "video/x-m4v",
}

// Normalize lowercases an extension and makes sure it carries a leading dot.
// An empty input stays empty.
func Normalize(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// FromPath returns the normalized extension of path.
func FromPath(path string) string {
	return Normalize(filepath.Ext(path))
}

// GetKind returns the Kind for a given extension.
func GetKind(ext string) Kind {
	ext = Normalize(ext)
	switch {
	case StaticExtensions[ext]:
		return KindStatic
	case AnimatedExtensions[ext]:
		return KindAnimated
	case VideoExtensions[ext]:
		return KindVideo
	default:
		return KindOther
	}
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[Normalize(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsSticker reports whether files with this extension can be sticker sources.
func IsSticker(ext string) bool {
	return GetKind(ext) != KindOther
}

// CanBeAnimated reports whether the container can carry more than one frame.
func CanBeAnimated(ext string) bool {
	k := GetKind(ext)
	return k == KindAnimated || k == KindVideo
}

// IsVideo reports whether ext is a video container.
func IsVideo(ext string) bool {
	return GetKind(ext) == KindVideo
}

// Equivalent reports whether two extensions name the same on-disk format.
// APNG files are PNG files and are commonly saved with a .png suffix.
func Equivalent(a, b string) bool {
	a, b = canonical(Normalize(a)), canonical(Normalize(b))
	return a == b
}

func canonical(ext string) string {
	switch ext {
	case APNG:
		return PNG
	case ".jpeg":
		return JPEG
	case ".tif":
		return ".tiff"
	}
	return ext
}
