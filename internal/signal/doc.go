// Package signal reads and writes Signal sticker packs.
//
// Pack contents live encrypted on the Signal CDN. A 32 byte pack key,
// shared in the pack link, is expanded with HKDF into an AES-256-CBC key
// and an HMAC-SHA256 key; every object is iv | ciphertext | mac. The
// manifest is a small protobuf message encoded by hand with protowire.
package signal
