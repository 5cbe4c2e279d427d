package piifield

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(id string) []byte {
	// Generate a deterministic 32-byte key for testing
	key := make([]byte, 32)
	copy(key, []byte(id))
	for i := len(id); i < 32; i++ {
		key[i] = byte(i)
	}
	return key
}

func testKeys(t testing.TB) *Keys {
	t.Helper()
	keys, err := NewKeys(testKey("enc"), testKey("idx"))
	require.NoError(t, err)
	return keys
}

func testCipher(t testing.TB, opts ...Option) *FieldCipher {
	t.Helper()
	fc, err := NewFieldCipher(testKeys(t), opts...)
	require.NoError(t, err)
	return fc
}

var algorithms = []Algorithm{AlgorithmAES256GCM, AlgorithmXChaCha20Poly1305}

func TestNewFieldCipher_Defaults(t *testing.T) {
	fc := testCipher(t)
	require.Equal(t, AlgorithmAES256GCM, fc.Algorithm())
	require.Equal(t, 12, fc.IVSize())
}

func TestNewFieldCipher_XChaCha(t *testing.T) {
	fc := testCipher(t, WithAlgorithm(AlgorithmXChaCha20Poly1305))
	require.Equal(t, AlgorithmXChaCha20Poly1305, fc.Algorithm())
	require.Equal(t, 24, fc.IVSize())
}

func TestNewFieldCipher_Errors(t *testing.T) {
	_, err := NewFieldCipher(nil)
	require.ErrorIs(t, err, ErrFatalConfiguration)

	_, err = NewFieldCipher(testKeys(t), WithAlgorithm("rot13"))
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	keys := testKeys(t)
	keys.Close()
	_, err = NewFieldCipher(keys)
	require.ErrorIs(t, err, ErrKeysClosed)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"simple text", []byte("hello world")},
		{"empty slice", []byte{}},
		{"binary data", []byte{0x00, 0x01, 0x02, 0xff, 0xfe}},
		{"unicode", []byte("こんにちは世界")},
		{"email", []byte("A@Example.com")},
		{"large text", []byte(strings.Repeat("x", 10000))},
	}

	for _, algo := range algorithms {
		fc := testCipher(t, WithAlgorithm(algo))
		for _, tt := range tests {
			t.Run(string(algo)+"/"+tt.name, func(t *testing.T) {
				ciphertext, iv, err := fc.Encrypt(tt.plaintext)
				require.NoError(t, err)
				require.Len(t, iv, fc.IVSize())
				if len(tt.plaintext) > 0 {
					require.False(t, bytes.Contains(ciphertext, tt.plaintext))
				}

				decrypted, err := fc.Decrypt(ciphertext, iv)
				require.NoError(t, err)
				require.True(t, bytes.Equal(tt.plaintext, decrypted))
			})
		}
	}
}

func TestEncryptDecrypt_String(t *testing.T) {
	fc := testCipher(t)

	ct, iv, err := fc.EncryptString("Jane Doe")
	require.NoError(t, err)

	s, err := fc.DecryptString(ct, iv)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", s)
}

func TestEncrypt_FreshIVEveryCall(t *testing.T) {
	for _, algo := range algorithms {
		t.Run(string(algo), func(t *testing.T) {
			fc := testCipher(t, WithAlgorithm(algo))

			ct1, iv1, err := fc.Encrypt([]byte("same value"))
			require.NoError(t, err)
			ct2, iv2, err := fc.Encrypt([]byte("same value"))
			require.NoError(t, err)

			require.NotEqual(t, iv1, iv2, "IV must never repeat")
			require.NotEqual(t, ct1, ct2, "ciphertext must not leak equality")
		})
	}
}

func TestEncrypt_IVUniqueness_Many(t *testing.T) {
	fc := testCipher(t)
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		_, iv, err := fc.Encrypt([]byte("x"))
		require.NoError(t, err)
		require.False(t, seen[string(iv)], "duplicate IV")
		seen[string(iv)] = true
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	fc := testCipher(t)
	ct, iv, err := fc.Encrypt([]byte("alice@example.com"))
	require.NoError(t, err)

	for i := range ct {
		tampered := append([]byte(nil), ct...)
		tampered[i] ^= 0x01
		_, err := fc.Decrypt(tampered, iv)
		require.ErrorIs(t, err, ErrIntegrity, "flipping byte %d must fail", i)
	}
}

func TestDecrypt_TamperedIV(t *testing.T) {
	fc := testCipher(t)
	ct, iv, err := fc.Encrypt([]byte("alice@example.com"))
	require.NoError(t, err)

	iv[0] ^= 0xff
	_, err = fc.Decrypt(ct, iv)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestDecrypt_Malformed(t *testing.T) {
	fc := testCipher(t)
	ct, iv, err := fc.Encrypt([]byte("value"))
	require.NoError(t, err)

	tests := []struct {
		name string
		ct   []byte
		iv   []byte
	}{
		{"nil iv", ct, nil},
		{"short iv", ct, iv[:8]},
		{"long iv", ct, append(append([]byte(nil), iv...), 0x00)},
		{"nil ciphertext", nil, iv},
		{"truncated ciphertext", ct[:len(ct)-1], iv},
		{"short ciphertext", ct[:4], iv},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fc.Decrypt(tt.ct, tt.iv)
			require.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestDecrypt_KeySeparation(t *testing.T) {
	fc := testCipher(t)
	ct, iv, err := fc.Encrypt([]byte("alice@example.com"))
	require.NoError(t, err)

	// A cipher keyed with the index key instead of the encryption key.
	swapped, err := NewKeys(testKey("idx"), testKey("enc"))
	require.NoError(t, err)
	wrong, err := NewFieldCipher(swapped)
	require.NoError(t, err)

	_, err = wrong.Decrypt(ct, iv)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestDecrypt_AlgorithmMismatch(t *testing.T) {
	gcm := testCipher(t)
	xchacha := testCipher(t, WithAlgorithm(AlgorithmXChaCha20Poly1305))

	ct, iv, err := gcm.Encrypt([]byte("value"))
	require.NoError(t, err)

	_, err = xchacha.Decrypt(ct, iv)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestEncryptWithAAD(t *testing.T) {
	fc := testCipher(t)

	ct, iv, err := fc.EncryptWithAAD([]byte("value"), []byte("patient|email|1"))
	require.NoError(t, err)

	pt, err := fc.DecryptWithAAD(ct, iv, []byte("patient|email|1"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), pt)

	_, err = fc.DecryptWithAAD(ct, iv, []byte("patient|last_name|1"))
	require.ErrorIs(t, err, ErrIntegrity)

	_, err = fc.Decrypt(ct, iv)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestEncrypt_Compression(t *testing.T) {
	fc := testCipher(t)
	plaintext := []byte(strings.Repeat("clinical note ", 500))

	ct, iv, err := fc.Encrypt(plaintext)
	require.NoError(t, err)
	require.Less(t, len(ct), len(plaintext), "compressible payload should shrink")

	pt, err := fc.Decrypt(ct, iv)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestEncrypt_CompressionDisabled(t *testing.T) {
	fc := testCipher(t, WithCompressionDisabled())
	plaintext := []byte(strings.Repeat("clinical note ", 500))

	ct, iv, err := fc.Encrypt(plaintext)
	require.NoError(t, err)
	require.Greater(t, len(ct), len(plaintext))

	pt, err := fc.Decrypt(ct, iv)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestFieldCipher_ClosedKeys(t *testing.T) {
	keys := testKeys(t)
	fc, err := NewFieldCipher(keys)
	require.NoError(t, err)
	ct, iv, err := fc.Encrypt([]byte("value"))
	require.NoError(t, err)

	keys.Close()

	_, _, err = fc.Encrypt([]byte("value"))
	require.ErrorIs(t, err, ErrKeysClosed)
	_, err = fc.Decrypt(ct, iv)
	require.ErrorIs(t, err, ErrKeysClosed)
}

func TestFieldCipher_Concurrent(t *testing.T) {
	fc := testCipher(t)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, iv, err := fc.Encrypt([]byte("concurrent value"))
			if err != nil {
				errs <- err
				return
			}
			pt, err := fc.Decrypt(ct, iv)
			if err != nil {
				errs <- err
				return
			}
			if string(pt) != "concurrent value" {
				errs <- ErrIntegrity
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent encryption error: %v", err)
	}
}
