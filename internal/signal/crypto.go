package signal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	packKeySize = 32
	ivSize      = aes.BlockSize
	macSize     = sha256.Size
	hkdfInfo    = "Sticker Pack"
)

var (
	// ErrBadMAC is returned when a downloaded blob fails authentication.
	ErrBadMAC = errors.New("sticker data failed authentication")
	// ErrBadKey is returned for pack keys that are not 32 hex-encoded bytes.
	ErrBadKey = errors.New("invalid pack key")
)

// keys are the AES and HMAC keys derived from a pack key.
type keys struct {
	aes []byte
	mac []byte
}

// NewPackKey returns a random hex-encoded pack key.
func NewPackKey() (string, error) {
	k := make([]byte, packKeySize)
	if _, err := rand.Read(k); err != nil {
		return "", err
	}
	return hex.EncodeToString(k), nil
}

func deriveKeys(packKeyHex string) (*keys, error) {
	packKey, err := hex.DecodeString(packKeyHex)
	if err != nil || len(packKey) != packKeySize {
		return nil, ErrBadKey
	}
	r := hkdf.New(sha256.New, packKey, make([]byte, 32), []byte(hkdfInfo))
	out := make([]byte, 64)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return &keys{aes: out[:32], mac: out[32:]}, nil
}

// encrypt returns iv | AES-256-CBC(PKCS7(plain)) | HMAC-SHA256(iv | ciphertext).
func (k *keys) encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.aes)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(bytes.Clone(plain), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, ivSize+len(padded), ivSize+len(padded)+macSize)
	if _, err := rand.Read(out[:ivSize]); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, out[:ivSize]).CryptBlocks(out[ivSize:], padded)

	mac := hmac.New(sha256.New, k.mac)
	mac.Write(out)
	return mac.Sum(out), nil
}

func (k *keys) decrypt(data []byte) ([]byte, error) {
	if len(data) < ivSize+aes.BlockSize+macSize {
		return nil, fmt.Errorf("blob of %d bytes is too short: %w", len(data), ErrBadMAC)
	}
	body, tag := data[:len(data)-macSize], data[len(data)-macSize:]

	mac := hmac.New(sha256.New, k.mac)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, ErrBadMAC
	}

	iv, ct := body[:ivSize], body[ivSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not block aligned")
	}
	block, err := aes.NewCipher(k.aes)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return plain[:len(plain)-pad], nil
}
