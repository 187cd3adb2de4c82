// Package line downloads sticker packs from the LINE store.
package line
