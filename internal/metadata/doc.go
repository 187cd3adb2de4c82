// Package metadata reads and writes the plain-text files that describe a
// sticker pack directory: title.txt, author.txt, emoji.txt (a JSON object
// mapping file stem to emoji) and an optional cover image.
package metadata
