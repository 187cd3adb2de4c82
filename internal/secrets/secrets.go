package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Envelope layout: "v1:" + base64(salt | nonce | secretbox(plaintext)).
const (
	prefix   = "v1:"
	saltSize = 16
	keySize  = 32

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var (
	// ErrWrongPassphrase is returned when a sealed value cannot be opened.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted value")
	// ErrNoPassphrase is returned when opening a sealed value without a passphrase.
	ErrNoPassphrase = errors.New("value is sealed but no passphrase is set")
	// ErrMalformed is returned for envelopes that cannot be decoded.
	ErrMalformed = errors.New("malformed sealed value")
)

// IsSealed reports whether value is a sealed envelope.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// Box seals and opens values with one passphrase. Derived keys are cached
// per salt, and every Seal from the same Box shares a salt, so only the
// first call pays for scrypt.
type Box struct {
	passphrase []byte

	mu   sync.Mutex
	salt []byte
	keys map[string]*[keySize]byte
}

// NewBox creates a Box. An empty passphrase yields a Box that stores
// values as-is.
func NewBox(passphrase string) *Box {
	return &Box{passphrase: []byte(passphrase), keys: map[string]*[keySize]byte{}}
}

// Enabled reports whether the Box has a passphrase.
func (b *Box) Enabled() bool {
	return b != nil && len(b.passphrase) > 0
}

// Seal encrypts plaintext. Without a passphrase the plaintext is returned.
func (b *Box) Seal(plaintext string) (string, error) {
	if !b.Enabled() {
		return plaintext, nil
	}

	b.mu.Lock()
	if b.salt == nil {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			b.mu.Unlock()
			return "", fmt.Errorf("failed to generate salt: %w", err)
		}
		b.salt = salt
	}
	salt := b.salt
	b.mu.Unlock()

	key, err := b.key(salt)
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+secretbox.Overhead)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, []byte(plaintext), &nonce, key)
	return prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts value. Values that are not sealed are returned unchanged.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if !b.Enabled() {
		return "", ErrNoPassphrase
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < saltSize+24+secretbox.Overhead {
		return "", ErrMalformed
	}

	key, err := b.key(raw[:saltSize])
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	copy(nonce[:], raw[saltSize:saltSize+24])

	plain, ok := secretbox.Open(nil, raw[saltSize+24:], &nonce, key)
	if !ok {
		return "", ErrWrongPassphrase
	}
	return string(plain), nil
}

func (b *Box) key(salt []byte) (*[keySize]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if k, ok := b.keys[string(salt)]; ok {
		return k, nil
	}
	derived, err := scrypt.Key(b.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var k [keySize]byte
	copy(k[:], derived)
	b.keys[string(salt)] = &k
	return &k, nil
}

// Seal encrypts plaintext with passphrase using a fresh salt.
func Seal(passphrase, plaintext string) (string, error) {
	return NewBox(passphrase).Seal(plaintext)
}

// Open decrypts a value sealed with passphrase.
func Open(passphrase, value string) (string, error) {
	return NewBox(passphrase).Open(value)
}
