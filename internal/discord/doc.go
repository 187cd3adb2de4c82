// Package discord downloads a guild's stickers or emojis through the
// Discord REST API.
package discord
