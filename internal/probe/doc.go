// Package probe extracts sticker metadata: codec, resolution, frame rate,
// frame count, duration, alpha and whether the file is animated at all.
//
// PNG/APNG, WebP, GIF, TGS (gzipped Lottie) and common static rasters are
// parsed in Go without decoding pixel data:
//
//   - PNG is an APNG when an acTL chunk precedes the first IDAT; frame
//     count and duration come from the fcTL chunks.
//   - WebP is animated when the VP8X animation flag is set; frames and
//     duration come from the ANMF chunks.
//   - GIF frames and delays come from image/gif.
//   - TGS frame rate is "fr", frame count is "op" minus "ip".
//
// Everything else, and any container the parsers reject, is probed with
// ffprobe. When ffprobe is missing the error is returned; a zero-valued
// Info is never reported as success.
package probe
