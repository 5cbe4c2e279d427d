package piifield

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// FieldCipher encrypts and decrypts single field values under the encryption key.
// It is safe for concurrent use.
type FieldCipher struct {
	aead cipher.AEAD
	keys *Keys
	cfg  *config
}

// NewFieldCipher builds a cipher from the encryption half of keys.
//
// Example:
//
//	keys, err := piifield.LoadKeysFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fc, err := piifield.NewFieldCipher(keys)
func NewFieldCipher(keys *Keys, opts ...Option) (*FieldCipher, error) {
	if keys == nil {
		return nil, ErrMissingKey
	}
	if keys.closed.Load() {
		return nil, ErrKeysClosed
	}
	cfg := newConfig(opts)

	aead, err := newAEAD(cfg.algorithm, keys.encryption[:])
	if err != nil {
		return nil, err
	}

	return &FieldCipher{aead: aead, keys: keys, cfg: cfg}, nil
}

func newAEAD(algo Algorithm, key []byte) (cipher.AEAD, error) {
	switch algo {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
		}
		return cipher.NewGCM(block)
	case AlgorithmXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algo)
	}
}

// Algorithm returns the AEAD in use.
func (c *FieldCipher) Algorithm() Algorithm {
	return c.cfg.algorithm
}

// IVSize returns the IV length in bytes for the configured algorithm.
func (c *FieldCipher) IVSize() int {
	return c.aead.NonceSize()
}

// Encrypt seals plaintext under a freshly generated random IV.
// No variant accepts a caller-supplied IV.
func (c *FieldCipher) Encrypt(plaintext []byte) (ciphertext, iv []byte, err error) {
	return c.EncryptWithAAD(plaintext, nil)
}

// EncryptWithAAD is Encrypt with associated data bound into the tag.
// The same aad must be passed to DecryptWithAAD.
func (c *FieldCipher) EncryptWithAAD(plaintext, aad []byte) (ciphertext, iv []byte, err error) {
	if c.keys.closed.Load() {
		return nil, nil, ErrKeysClosed
	}

	body, flag := maybeCompress(plaintext, c.cfg.compressionThreshold, c.cfg.compressionDisabled)

	iv, err = generateIV(c.aead.NonceSize())
	if err != nil {
		return nil, nil, err
	}

	ciphertext = c.aead.Seal(nil, iv, formatPayload(flag, body), aad)
	return ciphertext, iv, nil
}

// Decrypt opens ciphertext with its IV. Any authentication failure, including
// an IV of the wrong length, returns an error wrapping ErrIntegrity.
func (c *FieldCipher) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	return c.DecryptWithAAD(ciphertext, iv, nil)
}

// DecryptWithAAD is Decrypt for values sealed with EncryptWithAAD.
func (c *FieldCipher) DecryptWithAAD(ciphertext, iv, aad []byte) ([]byte, error) {
	if c.keys.closed.Load() {
		return nil, ErrKeysClosed
	}
	if len(iv) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: iv length", ErrIntegrity)
	}
	if len(ciphertext) < c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrIntegrity)
	}

	opened, err := c.aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrIntegrity)
	}

	flag, body, err := parsePayload(opened)
	if err != nil {
		return nil, err
	}
	return decompress(body, flag)
}

// EncryptString is a convenience wrapper for string values.
func (c *FieldCipher) EncryptString(s string) (ciphertext, iv []byte, err error) {
	return c.Encrypt([]byte(s))
}

// DecryptString is a convenience wrapper returning a string.
func (c *FieldCipher) DecryptString(ciphertext, iv []byte) (string, error) {
	plaintext, err := c.Decrypt(ciphertext, iv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// generateIV reads size random bytes from crypto/rand.
func generateIV(size int) ([]byte, error) {
	iv := make([]byte, size)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("piifield: read random iv: %w", err)
	}
	return iv, nil
}
