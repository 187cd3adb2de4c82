// Package formats holds the extension tables shared by the prober, the
// converter and the platform presets.
//
// It has no dependencies beyond the standard library so that every other
// package can import it without creating cycles. An extension only tells
// what a file can be; whether a .png or .webp is actually animated is
// answered by the probe package.
//
//	ext := formats.FromPath("cat.WEBP") // ".webp"
//	formats.CanBeAnimated(ext)          // true
//	formats.GetMimeType(ext)            // "image/webp"
package formats
