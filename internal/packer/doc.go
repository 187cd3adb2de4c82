// Package packer partitions an ordered list of sticker files into packs
// that respect a platform's per-pack file count and byte limits.
//
// Static and animated stickers can be kept in separate bins, as Telegram
// and WhatsApp require. Every emitted pack gets a distinct title.
package packer
