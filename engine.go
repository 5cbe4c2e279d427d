package piifield

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine ties a FieldCipher and a BlindIndexer to logging and metrics and
// creates the per-record field managers. It is safe for concurrent use;
// the records it returns are not.
type Engine struct {
	cipher  *FieldCipher
	index   *BlindIndexer
	log     *logrus.Entry
	metrics *Metrics
}

// NewEngine builds an Engine from process key material.
//
// Example:
//
//	keys, err := piifield.LoadKeysFromEnv()
//	if err != nil {
//	    log.Fatal(err) // never start without keys
//	}
//	engine, err := piifield.NewEngine(keys,
//	    piifield.WithMetrics(piifield.NewMetrics(prometheus.DefaultRegisterer)),
//	)
func NewEngine(keys *Keys, opts ...Option) (*Engine, error) {
	cfg := newConfig(opts)

	fc, err := NewFieldCipher(keys, opts...)
	if err != nil {
		return nil, err
	}
	bi, err := NewBlindIndexer(keys)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cipher:  fc,
		index:   bi,
		log:     cfg.logger,
		metrics: cfg.metrics,
	}, nil
}

// Cipher returns the engine's field cipher.
func (e *Engine) Cipher() *FieldCipher { return e.cipher }

// Indexer returns the engine's blind indexer.
func (e *Engine) Indexer() *BlindIndexer { return e.index }

// closed reports whether the engine's keys have been closed. The indexer
// panics on closed keys, so callers check before computing a digest.
func (e *Engine) closed() bool { return e.index.keys.closed.Load() }

// NewRecord returns an empty, new record of the registry's type with a random id.
func (e *Engine) NewRecord(reg *Registry) *Record {
	return e.NewRecordWithID(reg, uuid.NewString())
}

// NewRecordWithID is NewRecord for callers that allocate ids themselves.
// The id is bound into every ciphertext of the record, so it must not change
// after the first BeforePersist.
func (e *Engine) NewRecordWithID(reg *Registry, id string) *Record {
	return &Record{
		engine:  e,
		reg:     reg,
		id:      id,
		isNew:   true,
		stored:  make(map[string]StoredField),
		pending: make(map[string]pendingValue),
		cache:   make(map[string]string),
	}
}

// LoadRecord hydrates a persisted record from a collaborator row. Rows whose
// column pairs break the storage invariants are rejected with
// ErrInvariantViolation; nothing is decrypted here.
func (e *Engine) LoadRecord(reg *Registry, row Row) (*Record, error) {
	id, err := row.id()
	if err != nil {
		return nil, err
	}

	rec := e.NewRecordWithID(reg, id)
	rec.isNew = false

	for _, spec := range reg.Fields() {
		sf, err := row.storedField(spec)
		if err != nil {
			return nil, err
		}
		if err := sf.validate(spec); err != nil {
			e.log.WithFields(logrus.Fields{
				"record_type": reg.recordType,
				"field":       spec.Name,
			}).Error("stored field invariant violated")
			return nil, err
		}
		if !sf.IsEmpty() {
			rec.stored[spec.Name] = sf
		}
	}
	return rec, nil
}
