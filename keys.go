package piifield

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
)

// KeySize is the required length of both keys in bytes.
const KeySize = 32

// Environment variables read by LoadKeysFromEnv.
const (
	EnvEncryptionKey = "PIIFIELD_ENCRYPTION_KEY"
	EnvIndexKey      = "PIIFIELD_INDEX_KEY"
)

const redacted = "[REDACTED]"

// Keys holds the two independent secrets of the subsystem: the encryption key
// used by FieldCipher and the index key used by BlindIndexer.
// Keys is read-only after construction and safe for concurrent use.
type Keys struct {
	encryption [KeySize]byte
	index      [KeySize]byte
	closed     atomic.Bool
}

// NewKeys validates and copies the given keys. The caller may zero its slices
// afterwards.
func NewKeys(encryptionKey, indexKey []byte) (*Keys, error) {
	if err := validateKey("encryption", encryptionKey); err != nil {
		return nil, err
	}
	if err := validateKey("index", indexKey); err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(encryptionKey, indexKey) == 1 {
		return nil, ErrKeysNotDistinct
	}

	k := &Keys{}
	copy(k.encryption[:], encryptionKey)
	copy(k.index[:], indexKey)
	return k, nil
}

// ParseHexKeys decodes two hex-encoded 256-bit keys.
func ParseHexKeys(encryptionHex, indexHex string) (*Keys, error) {
	enc, err := decodeHexKey("encryption", encryptionHex)
	if err != nil {
		return nil, err
	}
	defer wipe(enc)

	idx, err := decodeHexKey("index", indexHex)
	if err != nil {
		return nil, err
	}
	defer wipe(idx)

	return NewKeys(enc, idx)
}

// LoadKeysFromEnv reads PIIFIELD_ENCRYPTION_KEY and PIIFIELD_INDEX_KEY.
// If a .env file exists in the working directory it is loaded first; variables
// already set in the process environment take precedence over it.
//
// Any failure wraps ErrFatalConfiguration and should abort process startup.
func LoadKeysFromEnv() (*Keys, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("%w: load .env: %v", ErrFatalConfiguration, err)
		}
	}
	return ParseHexKeys(os.Getenv(EnvEncryptionKey), os.Getenv(EnvIndexKey))
}

// GenerateKeys returns a fresh pair of random keys.
func GenerateKeys() (*Keys, error) {
	var enc, idx [KeySize]byte
	if _, err := rand.Read(enc[:]); err != nil {
		return nil, fmt.Errorf("%w: read random: %v", ErrFatalConfiguration, err)
	}
	if _, err := rand.Read(idx[:]); err != nil {
		return nil, fmt.Errorf("%w: read random: %v", ErrFatalConfiguration, err)
	}
	defer wipe(enc[:])
	defer wipe(idx[:])
	return NewKeys(enc[:], idx[:])
}

// HexEncryptionKey returns the encryption key hex encoded.
// Only the key generation command needs this.
func (k *Keys) HexEncryptionKey() string {
	return hex.EncodeToString(k.encryption[:])
}

// HexIndexKey returns the index key hex encoded.
func (k *Keys) HexIndexKey() string {
	return hex.EncodeToString(k.index[:])
}

// Close zeros both keys. Ciphers and indexers built from these keys stop
// working afterwards.
func (k *Keys) Close() {
	k.closed.Store(true)
	wipe(k.encryption[:])
	wipe(k.index[:])
}

// String keeps keys out of logs and fmt output.
func (k *Keys) String() string { return redacted }

// GoString implements fmt.GoStringer.
func (k *Keys) GoString() string { return redacted }

// Format implements fmt.Formatter so that every verb, %x included, is redacted.
func (k *Keys) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

func validateKey(name string, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w (%s)", ErrMissingKey, name)
	}
	if len(key) != KeySize {
		return fmt.Errorf("%w (%s)", ErrInvalidKeySize, name)
	}
	var zero [KeySize]byte
	if subtle.ConstantTimeCompare(key, zero[:]) == 1 {
		return fmt.Errorf("%w (%s)", ErrZeroKey, name)
	}
	return nil
}

func decodeHexKey(name, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w (%s)", ErrMissingKey, name)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", ErrInvalidKeyEncoding, name)
	}
	return b, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
