// Package convert re-encodes sticker files to fit a platform preset.
//
// Static images are decoded in Go (falling back to libvips, ImageMagick
// and ffmpeg) and written with imaging, libvips, pngquant and optipng.
// Animated output is produced by ffmpeg, with apngasm for APNG. Each file
// is encoded at the highest quality step whose output fits the preset's
// size limit, found by binary search.
package convert
