package piifield

import (
	"errors"
	"strings"

	"github.com/hengadev/errsx"
	"github.com/sirupsen/logrus"
)

// pendingValue is a value set since the last BeforePersist.
type pendingValue struct {
	value   string
	cleared bool
}

// Record manages the encrypted fields of one record instance.
//
// Per field: Empty --Set--> DirtyPlaintext --BeforePersist--> PersistedEncrypted
// --Set(new value)--> DirtyPlaintext --Set(blank)--> DirtyCleared
// --BeforePersist--> Empty.
//
// A Record is not safe for concurrent mutation; concurrent saves of the same
// row are the persistence layer's concern.
type Record struct {
	engine  *Engine
	reg     *Registry
	id      string
	isNew   bool
	stored  map[string]StoredField
	pending map[string]pendingValue
	cache   map[string]string // decrypted values of stored, by field
	prev    *recordState      // state before the last BeforePersist, until MarkPersisted
}

type recordState struct {
	stored  map[string]StoredField
	pending map[string]pendingValue
	cache   map[string]string
}

// ID returns the record id.
func (r *Record) ID() string { return r.id }

// Registry returns the registry the record was created with.
func (r *Record) Registry() *Registry { return r.reg }

// IsNew reports whether the record has not been persisted yet.
func (r *Record) IsNew() bool { return r.isNew }

// Set stores a plaintext value in memory and marks the field dirty.
// Empty or whitespace-only values mark the field cleared.
// Nothing is encrypted until BeforePersist.
func (r *Record) Set(field, plaintext string) error {
	if _, err := r.reg.lookup(field); err != nil {
		return err
	}
	if strings.TrimSpace(plaintext) == "" {
		r.pending[field] = pendingValue{cleared: true}
		return nil
	}
	r.pending[field] = pendingValue{value: plaintext}
	return nil
}

// Clear marks the field cleared; BeforePersist writes NULL to its columns.
func (r *Record) Clear(field string) error {
	return r.Set(field, "")
}

// Get returns the plaintext of field. A value set but not yet persisted is
// returned as is; otherwise the stored ciphertext is decrypted once and cached
// for the lifetime of the record. Unset or cleared fields return "".
//
// A tag mismatch returns an error wrapping ErrIntegrity. It is not retried.
func (r *Record) Get(field string) (string, error) {
	spec, err := r.reg.lookup(field)
	if err != nil {
		return "", err
	}
	if p, ok := r.pending[field]; ok {
		if p.cleared {
			return "", nil
		}
		return p.value, nil
	}
	return r.persistedPlaintext(spec)
}

// Changed reports whether field has a pending value that BeforePersist will
// write: always for new records, otherwise only when it differs from the
// persisted value.
func (r *Record) Changed(field string) bool {
	spec, err := r.reg.lookup(field)
	if err != nil {
		return false
	}
	p, ok := r.pending[field]
	if !ok {
		return false
	}
	return r.changed(spec, p)
}

func (r *Record) changed(spec FieldSpec, p pendingValue) bool {
	if r.isNew {
		return true
	}
	cur, hasStored := r.stored[spec.Name]
	if p.cleared {
		return hasStored
	}
	if !hasStored {
		return true
	}
	prev, err := r.persistedPlaintext(spec)
	if err != nil {
		// Unreadable stored value: overwrite it.
		return true
	}
	if prev != p.value {
		return true
	}
	return spec.Searchable && cur.Digest == ""
}

// BeforePersist must be called by the owning code immediately before
// validating and saving the record. For every dirty field whose value changed,
// and for every searchable field whose digest is missing next to existing
// ciphertext, it encrypts under a fresh IV and recomputes the digest, writing
// ciphertext, IV and digest together. Cleared fields get all three set to NULL.
// Unchanged fields are left byte for byte as they are.
//
// Either every field is updated or none is: on error the stored columns are
// unchanged. Per-field failures come back as a *FieldErrors naming the fields;
// closed keys return ErrKeysClosed.
func (r *Record) BeforePersist() error {
	if r.engine.closed() {
		return ErrKeysClosed
	}

	next := make(map[string]StoredField, len(r.stored))
	for name, sf := range r.stored {
		next[name] = sf
	}
	// Plaintexts of the fields rewritten below; cleared fields map to nil.
	sealed := make(map[string]*string)

	fe := &FieldErrors{}
	for _, spec := range r.reg.Fields() {
		p, dirty := r.pending[spec.Name]
		switch {
		case dirty && p.cleared:
			delete(next, spec.Name)
			sealed[spec.Name] = nil

		case dirty:
			if !r.changed(spec, p) {
				continue
			}
			sf, err := r.seal(spec, p.value)
			if err != nil {
				fe.add(spec.Name, err)
				continue
			}
			next[spec.Name] = sf
			sealed[spec.Name] = &p.value

		case r.needsBackfill(spec):
			plaintext, err := r.persistedPlaintext(spec)
			if err != nil {
				fe.add(spec.Name, err)
				continue
			}
			sf, err := r.seal(spec, plaintext)
			if err != nil {
				fe.add(spec.Name, err)
				continue
			}
			next[spec.Name] = sf
			sealed[spec.Name] = &plaintext
			r.engine.metrics.backfilled(r.reg.recordType)
			r.logger(spec).Debug("digest backfilled")
		}
	}

	if !fe.empty() {
		return fe
	}

	// The cache now also holds values decrypted by the change checks above.
	nextCache := make(map[string]string, len(r.cache)+len(sealed))
	for name, v := range r.cache {
		nextCache[name] = v
	}
	for name, v := range sealed {
		if v == nil {
			delete(nextCache, name)
			continue
		}
		nextCache[name] = *v
	}

	r.prev = &recordState{stored: r.stored, pending: r.pending, cache: r.cache}
	r.stored = next
	r.cache = nextCache
	r.pending = make(map[string]pendingValue)
	return nil
}

// MarkPersisted records that the collaborator saved the record. From then on
// setting a field to its current value is not a change.
func (r *Record) MarkPersisted() {
	r.isNew = false
	r.prev = nil
}

// Rollback restores the record to its state before the last successful
// BeforePersist. Collaborators call it when the write that followed
// BeforePersist failed. It is a no-op after MarkPersisted.
func (r *Record) Rollback() {
	if r.prev == nil {
		return
	}
	r.stored = r.prev.stored
	r.pending = r.prev.pending
	r.cache = r.prev.cache
	r.prev = nil
}

// Stored returns a copy of the persisted form of field.
func (r *Record) Stored(field string) StoredField {
	return r.stored[field].clone()
}

// Columns returns the record's encrypted columns for writing: every column of
// the registry, including IDColumn, with nil for NULL.
func (r *Record) Columns() Row {
	row := Row{IDColumn: r.id}
	for _, spec := range r.reg.Fields() {
		sf, ok := r.stored[spec.Name]
		if !ok {
			row[spec.CiphertextColumn] = nil
			row[spec.IVColumn] = nil
			if spec.DigestColumn != "" {
				row[spec.DigestColumn] = nil
			}
			continue
		}
		row[spec.CiphertextColumn] = append([]byte(nil), sf.Ciphertext...)
		row[spec.IVColumn] = append([]byte(nil), sf.IV...)
		if spec.DigestColumn != "" {
			if sf.Digest == "" {
				row[spec.DigestColumn] = nil
			} else {
				row[spec.DigestColumn] = sf.Digest
			}
		}
	}
	return row
}

func (r *Record) needsBackfill(spec FieldSpec) bool {
	sf, ok := r.stored[spec.Name]
	return ok && spec.Searchable && sf.Digest == "" && len(sf.Ciphertext) > 0
}

// seal encrypts plaintext for field and computes its digest.
func (r *Record) seal(spec FieldSpec, plaintext string) (StoredField, error) {
	var digest string
	if spec.Searchable {
		var ok bool
		if digest, ok = r.engine.index.ComputeNormalized(plaintext, spec.Normalizer); !ok {
			return StoredField{}, ErrUnindexableValue
		}
	}
	ct, iv, err := r.engine.cipher.EncryptWithAAD([]byte(plaintext), r.aad(spec))
	if err != nil {
		return StoredField{}, err
	}
	sf := StoredField{Ciphertext: ct, IV: iv, Digest: digest}
	r.engine.metrics.encrypted(r.reg.recordType)
	r.logger(spec).Debug("field encrypted")
	return sf, nil
}

// persistedPlaintext decrypts the stored value of field, using the cache.
func (r *Record) persistedPlaintext(spec FieldSpec) (string, error) {
	if v, ok := r.cache[spec.Name]; ok {
		return v, nil
	}
	sf, ok := r.stored[spec.Name]
	if !ok {
		return "", nil
	}

	plaintext, err := r.engine.cipher.DecryptWithAAD(sf.Ciphertext, sf.IV, r.aad(spec))
	r.engine.metrics.decrypted(r.reg.recordType, err)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			r.logger(spec).Warn("encrypted field failed integrity check")
		}
		return "", err
	}

	r.cache[spec.Name] = string(plaintext)
	return string(plaintext), nil
}

// aad binds a ciphertext to its record type, field and record id, so a
// ciphertext copied into another field or row fails authentication.
func (r *Record) aad(spec FieldSpec) []byte {
	return []byte("piifield:v1|" + r.reg.recordType + "|" + spec.Name + "|" + r.id)
}

func (r *Record) logger(spec FieldSpec) *logrus.Entry {
	return r.engine.log.WithFields(logrus.Fields{
		"record_type": r.reg.recordType,
		"field":       spec.Name,
	})
}

// FieldErrors aggregates the per-field failures of BeforePersist.
// errors.Is matches any of the underlying errors.
type FieldErrors struct {
	fields errsx.Map
	errs   []error
}

func (e *FieldErrors) add(field string, err error) {
	e.fields.Set(field, err)
	e.errs = append(e.errs, err)
}

func (e *FieldErrors) empty() bool {
	return e.fields.IsEmpty()
}

// Error implements error.
func (e *FieldErrors) Error() string {
	return "piifield: before persist: " + e.fields.AsError().Error()
}

// Unwrap exposes the per-field errors to errors.Is and errors.As.
func (e *FieldErrors) Unwrap() []error {
	return e.errs
}
