package piifield

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results recorded in piifield_lookups_total.
const (
	lookupHit      = "hit"
	lookupMiss     = "miss"
	lookupRejected = "rejected"
	lookupError    = "error"
)

// Metrics holds the subsystem's prometheus counters. Labels carry record
// types and outcomes only, never field values.
// A nil *Metrics records nothing.
type Metrics struct {
	encryptions *prometheus.CounterVec
	decryptions *prometheus.CounterVec
	lookups     *prometheus.CounterVec
	backfills   *prometheus.CounterVec
}

// NewMetrics registers the counters with reg. Like promauto, it panics if the
// counters are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		encryptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "piifield",
				Name:      "encryptions_total",
				Help:      "Encrypted field writes performed before persist",
			},
			[]string{"record_type"},
		),
		decryptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "piifield",
				Name:      "decryptions_total",
				Help:      "Encrypted field reads by outcome",
			},
			[]string{"record_type", "result"},
		),
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "piifield",
				Name:      "lookups_total",
				Help:      "Blind index lookups by outcome",
			},
			[]string{"record_type", "result"},
		),
		backfills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "piifield",
				Name:      "digest_backfills_total",
				Help:      "Missing digests recomputed for existing ciphertext",
			},
			[]string{"record_type"},
		),
	}
}

func (m *Metrics) encrypted(recordType string) {
	if m == nil {
		return
	}
	m.encryptions.WithLabelValues(recordType).Inc()
}

func (m *Metrics) decrypted(recordType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "integrity_error"
	}
	m.decryptions.WithLabelValues(recordType, result).Inc()
}

func (m *Metrics) lookup(recordType, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(recordType, result).Inc()
}

func (m *Metrics) backfilled(recordType string) {
	if m == nil {
		return
	}
	m.backfills.WithLabelValues(recordType).Inc()
}
