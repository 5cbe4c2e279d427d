package piifield

import "github.com/sirupsen/logrus"

// Algorithm names an AEAD construction for FieldCipher.
type Algorithm string

const (
	// AlgorithmAES256GCM is AES-256 in GCM mode with a 96-bit IV. Default.
	AlgorithmAES256GCM Algorithm = "aes-256-gcm"

	// AlgorithmXChaCha20Poly1305 is XChaCha20-Poly1305 with a 192-bit IV.
	AlgorithmXChaCha20Poly1305 Algorithm = "xchacha20-poly1305"
)

// Option is a functional option for FieldCipher and Engine.
type Option func(*config)

// config holds cipher and engine configuration options.
type config struct {
	algorithm            Algorithm
	compressionThreshold int
	compressionDisabled  bool
	logger               *logrus.Entry
	metrics              *Metrics
}

// defaultConfig returns the default configuration.
func defaultConfig() *config {
	return &config{
		algorithm:            AlgorithmAES256GCM,
		compressionThreshold: defaultCompressionThreshold,
		logger:               logrus.WithField("component", "piifield"),
	}
}

func newConfig(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithAlgorithm selects the AEAD. Data written under one algorithm cannot be
// read under the other: the IV length differs and decryption reports ErrIntegrity.
func WithAlgorithm(algo Algorithm) Option {
	return func(c *config) {
		c.algorithm = algo
	}
}

// WithCompressionThreshold sets the minimum value size in bytes before
// compression is attempted. Default is 1024 (1KB).
func WithCompressionThreshold(bytes int) Option {
	return func(c *config) {
		c.compressionThreshold = bytes
	}
}

// WithCompressionDisabled disables compression entirely.
func WithCompressionDisabled() Option {
	return func(c *config) {
		c.compressionDisabled = true
	}
}

// WithLogger sets the logger used by Engine and the records it creates.
// Log entries never carry plaintext, digests, IVs or keys.
func WithLogger(logger *logrus.Entry) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics makes Engine record counters into m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}
