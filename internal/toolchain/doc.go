// Package toolchain discovers and runs the external engines that do the
// actual decoding and encoding: ffmpeg/ffprobe, ImageMagick, apngasm,
// pngquant and optipng.
//
// Discover resolves each tool on PATH (or from an explicit override such as
// FFMPEG_PATH). ExecRunner runs them with a context so that cancelling a
// batch kills its children, captures stderr into the returned error, and
// tracks live processes so Cleanup can stop them on shutdown.
//
// Code that shells out depends on the Runner interface rather than on
// ExecRunner, so tests can substitute canned output.
package toolchain
