// Package cli implements the sticker-convert command line.
//
// Every command writes its result as JSON to stdout and its log lines to
// stderr, so the output can be piped into other tools:
//
//	sticker-convert convert ./in -o ./out --preset signal
//	sticker-convert verify ./out/*.webp --preset signal
//	sticker-convert split ./out --preset telegram --title Cats
//	sticker-convert download line https://store.line.me/stickershop/product/1234/en -o ./in
//	sticker-convert run jobs/
//	sticker-convert serve
//
// Configuration is read from the environment and an optional .env file;
// see package startup for the variables.
package cli
