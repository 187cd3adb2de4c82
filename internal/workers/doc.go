/*
Package workers provides utilities for determining worker pool sizes in
containerized environments.

Go 1.19+ sets GOMAXPROCS from the container CPU limit, while runtime.NumCPU
still reports the host. Every helper here sizes pools from GOMAXPROCS:

	workers.ForCPU(8)   // 1 worker per CPU, at most 8
	workers.ForIO(16)   // 2 workers per CPU, at most 16
	workers.ForMixed(12)

ForConversion sizes the sticker conversion pool. Every conversion shells out
to ffmpeg, pngquant or apngasm, which use several threads on their own, so it
uses half a worker per CPU with a ceiling of 8.

# Environment Variable Override

All functions respect STICKER_WORKERS:

	STICKER_WORKERS=2 sticker-convert convert ./in --preset signal

The --workers flag of the CLI takes precedence over both.
*/
package workers
