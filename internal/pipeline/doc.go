// Package pipeline runs sticker jobs end to end: fetch a pack, convert
// every file to a platform preset, split the results into packs and
// publish them.
package pipeline
