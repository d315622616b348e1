// internal/encryption/encryption.go
package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	apperrors "github-visibility-bot/internal/errors"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// blobVersion prefixes every ciphertext and is authenticated as AAD.
const blobVersion byte = 0x01

// blobOverhead is version + XChaCha20 nonce + Poly1305 tag.
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Encryptor seals credential tokens with XChaCha20-Poly1305 under one
// process-wide key. It is safe for concurrent use.
type Encryptor struct {
	key []byte
}

// New returns an Encryptor for a raw key of exactly KeySize bytes.
func New(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key is %d bytes, expected %d", len(key), KeySize)
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Encryptor{key: k}, nil
}

// NewFromBase64 decodes a standard base64 key and calls New.
func NewFromBase64(encoded string) (*Encryptor, error) {
	key, err := DecodeKey(encoded)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// DecodeKey decodes a standard base64 key and checks its length.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key decodes to %d bytes, expected %d", len(key), KeySize)
	}
	return key, nil
}

// GenerateKey returns a random key in the base64 form DecodeKey accepts.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt returns [version][nonce][ciphertext+tag].
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), blobOverhead+len(plaintext))
	out[0] = blobVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, []byte{blobVersion}), nil
}

// Decrypt opens a blob produced by Encrypt. Wrong keys, truncated input and
// tampering all fail with ErrDecryption.
func (e *Encryptor) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, apperrors.New(apperrors.ErrDecryption, "ciphertext is %d bytes, minimum is %d", len(blob), blobOverhead)
	}
	if blob[0] != blobVersion {
		return nil, apperrors.New(apperrors.ErrDecryption, "unsupported ciphertext version %d", blob[0])
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecryption, err, "wrong key or tampered ciphertext")
	}
	return plaintext, nil
}
