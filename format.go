package piifield

// Sealed payload format (the AEAD plaintext):
// [flag:1][payload]
//
// Flag byte values:
//   0x00 = payload stored as is
//   0x01 = payload zstd compressed
//
// The flag sits inside the authenticated plaintext, so it cannot be flipped
// without failing the tag check. The IV is never part of the ciphertext blob;
// it is stored in its own column.

const (
	flagNoCompression byte = 0x00
	flagZstd          byte = 0x01
)

// formatPayload prepends the flag byte.
func formatPayload(flag byte, body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, flag)
	return append(out, body...)
}

// parsePayload splits an opened payload into flag and body.
func parsePayload(data []byte) (flag byte, body []byte, err error) {
	if len(data) < 1 {
		err = ErrInvalidFormat
		return
	}
	return data[0], data[1:], nil
}
