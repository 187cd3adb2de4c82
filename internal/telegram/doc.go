// Package telegram uploads and downloads sticker sets through the
// Telegram Bot API.
package telegram
