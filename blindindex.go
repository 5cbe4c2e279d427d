package piifield

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// DigestLength is the length of a hex encoded digest.
const DigestLength = sha256.Size * 2

// BlindIndexer computes HMAC-SHA256 blind indexes under the index key.
// It is safe for concurrent use.
//
// The digest is deterministic: same normalized plaintext + same key = same
// digest. This is the one place the subsystem gives up semantic security
// (digests reveal equality) in exchange for searchability. The index key is
// independent of the encryption key, so a leaked index never yields plaintext.
type BlindIndexer struct {
	keys *Keys
}

// NewBlindIndexer builds an indexer from the index half of keys.
func NewBlindIndexer(keys *Keys) (*BlindIndexer, error) {
	if keys == nil {
		return nil, ErrMissingKey
	}
	if keys.closed.Load() {
		return nil, ErrKeysClosed
	}
	return &BlindIndexer{keys: keys}, nil
}

// Compute normalizes plaintext with NormalizeDefault and returns its digest.
// Empty input (after normalization) has no digest: ok is false and digest is "".
func (b *BlindIndexer) Compute(plaintext string) (digest string, ok bool) {
	return b.ComputeNormalized(plaintext, NormalizeDefault)
}

// ComputeNormalized is Compute with an explicit normalizer.
// A nil normalizer means NormalizeDefault.
func (b *BlindIndexer) ComputeNormalized(plaintext string, norm Normalizer) (digest string, ok bool) {
	if b.keys.closed.Load() {
		panic("piifield: use of closed Keys")
	}
	if norm == nil {
		norm = NormalizeDefault
	}
	normalized := norm(plaintext)
	if normalized == "" {
		return "", false
	}
	return hex.EncodeToString(computeHMACWithKey(&b.keys.index, []byte(normalized))), true
}

// computeHMACWithKey computes HMAC-SHA256 with the given key.
func computeHMACWithKey(key *[KeySize]byte, data []byte) []byte {
	h := hmac.New(sha256.New, key[:])
	h.Write(data)
	return h.Sum(nil)
}
