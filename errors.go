package piifield

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of these,
// so callers can branch with errors.Is.
var (
	// ErrFatalConfiguration indicates missing or malformed key material.
	// A process that sees it at startup must refuse to start.
	ErrFatalConfiguration = errors.New("piifield: fatal configuration error")

	// ErrIntegrity indicates an authentication tag mismatch (wrong key, corrupted
	// or tampered ciphertext/IV). It is never transient and must not be retried.
	ErrIntegrity = errors.New("piifield: integrity check failed")

	// ErrConfiguration indicates a lookup on a field the registry does not allow,
	// or an invalid registry definition.
	ErrConfiguration = errors.New("piifield: configuration error")

	// ErrNotFound indicates that no record matched a strict digest lookup.
	ErrNotFound = errors.New("piifield: record not found")

	// ErrInvariantViolation indicates stored columns the manager can never produce
	// itself: ciphertext without IV (or the reverse), or a digest without ciphertext.
	ErrInvariantViolation = errors.New("piifield: stored field invariant violated")

	// ErrUnindexableValue indicates a non-blank value of a searchable field that
	// normalizes to nothing (e.g. a phone field without digits), which would
	// leave ciphertext without a digest.
	ErrUnindexableValue = errors.New("piifield: value has no blind index")

	// ErrProcessing is the only error PublicError lets cross an application boundary
	// for integrity and configuration failures.
	ErrProcessing = errors.New("processing error")
)

var (
	// ErrMissingKey indicates a key was not supplied.
	ErrMissingKey = fmt.Errorf("%w: key not supplied", ErrFatalConfiguration)

	// ErrInvalidKeySize indicates a key is not exactly 32 bytes.
	ErrInvalidKeySize = fmt.Errorf("%w: key must be 32 bytes", ErrFatalConfiguration)

	// ErrInvalidKeyEncoding indicates a key is not valid hex.
	ErrInvalidKeyEncoding = fmt.Errorf("%w: key must be hex encoded", ErrFatalConfiguration)

	// ErrZeroKey indicates a key made only of zero bytes.
	ErrZeroKey = fmt.Errorf("%w: key is all zeros", ErrFatalConfiguration)

	// ErrKeysNotDistinct indicates the encryption key and the index key are equal.
	ErrKeysNotDistinct = fmt.Errorf("%w: encryption and index keys must differ", ErrFatalConfiguration)

	// ErrKeysClosed indicates use of key material after Close.
	ErrKeysClosed = fmt.Errorf("%w: keys are closed", ErrFatalConfiguration)

	// ErrUnsupportedAlgorithm indicates an unknown AEAD algorithm name.
	ErrUnsupportedAlgorithm = fmt.Errorf("%w: unsupported algorithm", ErrFatalConfiguration)

	// ErrFieldNotSearchable is returned by the column guard. The message is the
	// same for unknown, non-searchable and malformed names.
	ErrFieldNotSearchable = fmt.Errorf("%w: field is not searchable", ErrConfiguration)

	// ErrUnknownField indicates Set/Get on a field absent from the registry.
	ErrUnknownField = fmt.Errorf("%w: field is not registered", ErrConfiguration)

	// ErrInvalidRegistry indicates a registry definition that cannot be used.
	ErrInvalidRegistry = fmt.Errorf("%w: invalid registry", ErrConfiguration)

	// ErrDecompressionFailed indicates an authenticated payload whose zstd body is corrupt.
	ErrDecompressionFailed = fmt.Errorf("%w: decompression failed", ErrIntegrity)

	// ErrInvalidFormat indicates an authenticated payload with an unknown layout.
	ErrInvalidFormat = fmt.Errorf("%w: invalid payload format", ErrIntegrity)
)

// IsIntegrityError reports whether err signals corruption or tampering.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsConfigurationError reports whether err is a configuration problem, fatal or not.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrFatalConfiguration)
}

// PublicError maps an error from this package to what may be shown outside the
// application. Not-found passes through; everything else degrades to
// ErrProcessing so the response never reveals which field or value failed.
func PublicError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return ErrProcessing
	}
}
