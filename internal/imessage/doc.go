// Package imessage exports packs as Xcode sticker pack asset catalogs
// that can be dropped into a Sticker Pack Application project.
package imessage
