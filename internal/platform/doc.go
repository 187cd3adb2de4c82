// Package platform describes the chat platforms stickers are converted for.
//
// A Spec holds the constraints of one target (formats, byte limits,
// resolution, frame rate, duration and pack caps). Presets cover Telegram,
// Signal, Line, Kakao, Viber, Discord, iMessage and WhatsApp. The package
// also defines the Uploader and Downloader interfaces implemented by the
// per-platform client packages.
package platform
