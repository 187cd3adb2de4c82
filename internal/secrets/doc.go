// Package secrets seals credential values at rest with a passphrase.
//
// Keys are derived with scrypt and values are encrypted with NaCl
// secretbox. Sealed values carry a "v1:" prefix so stores can hold a mix
// of sealed and plain values while a passphrase is introduced.
package secrets
