// Package wastickers exports packs as .wastickers archives, the zip
// format read by WhatsApp sticker importer apps.
package wastickers
