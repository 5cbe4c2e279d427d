package piifield

import "context"

// KeySource supplies key material at process start.
// Implement it to integrate a secrets manager; see the vaultkeys package for
// HashiCorp Vault.
type KeySource interface {
	// LoadKeys returns validated keys or an error wrapping ErrFatalConfiguration.
	LoadKeys(ctx context.Context) (*Keys, error)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context) (*Keys, error)

// LoadKeys implements KeySource.
func (f KeySourceFunc) LoadKeys(ctx context.Context) (*Keys, error) {
	return f(ctx)
}

// EnvKeySource reads keys with LoadKeysFromEnv.
var EnvKeySource KeySource = KeySourceFunc(func(context.Context) (*Keys, error) {
	return LoadKeysFromEnv()
})

// StaticKeySource is an in-memory KeySource holding raw keys.
// Useful for testing or for deployments that fetch keys out of band.
type StaticKeySource struct {
	encryption []byte
	index      []byte
}

// NewStaticKeySource copies the given keys.
func NewStaticKeySource(encryptionKey, indexKey []byte) *StaticKeySource {
	return &StaticKeySource{
		encryption: append([]byte(nil), encryptionKey...),
		index:      append([]byte(nil), indexKey...),
	}
}

// LoadKeys implements KeySource. Validation happens here, not at construction.
func (s *StaticKeySource) LoadKeys(context.Context) (*Keys, error) {
	return NewKeys(s.encryption, s.index)
}

// Close zeros the held keys.
func (s *StaticKeySource) Close() {
	wipe(s.encryption)
	wipe(s.index)
	s.encryption = nil
	s.index = nil
}
