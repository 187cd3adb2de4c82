// Package handlers provides the HTTP API served by "sticker-convert serve".
//
// It includes handlers for:
//   - Preset and toolchain listings
//   - Probing and verifying uploaded files
//   - Converting uploaded files to a preset
//   - Splitting sticker lists into packs
//   - Upload history
//   - Health checks and version information
package handlers
