package piifield

import "fmt"

// Row is a persisted record as a column name to value map, the shape both
// directions of the persistence collaborator use. Values are []byte, string
// or nil.
type Row map[string]any

// StoredField is the persisted form of one encrypted field.
// Ciphertext and IV are both set or both nil; Digest is "" for NULL.
type StoredField struct {
	Ciphertext []byte
	IV         []byte
	Digest     string
}

// IsEmpty reports whether nothing is stored for the field.
func (s StoredField) IsEmpty() bool {
	return len(s.Ciphertext) == 0 && len(s.IV) == 0 && s.Digest == ""
}

// validate enforces the column pair invariants for a field read from storage.
func (s StoredField) validate(spec FieldSpec) error {
	hasCT, hasIV := len(s.Ciphertext) > 0, len(s.IV) > 0
	if hasCT != hasIV {
		return fmt.Errorf("%w: ciphertext and iv must be stored together", ErrInvariantViolation)
	}
	if s.Digest != "" && !hasCT {
		return fmt.Errorf("%w: digest stored without ciphertext", ErrInvariantViolation)
	}
	if s.Digest != "" && !spec.Searchable {
		return fmt.Errorf("%w: digest stored for a non-searchable field", ErrInvariantViolation)
	}
	return nil
}

func (s StoredField) clone() StoredField {
	return StoredField{
		Ciphertext: append([]byte(nil), s.Ciphertext...),
		IV:         append([]byte(nil), s.IV...),
		Digest:     s.Digest,
	}
}

func (r Row) id() (string, error) {
	switch v := r[IDColumn].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case []byte:
		if len(v) > 0 {
			return string(v), nil
		}
	}
	return "", fmt.Errorf("%w: row has no id", ErrInvariantViolation)
}

func (r Row) storedField(spec FieldSpec) (StoredField, error) {
	ct, err := r.bytes(spec.CiphertextColumn)
	if err != nil {
		return StoredField{}, err
	}
	iv, err := r.bytes(spec.IVColumn)
	if err != nil {
		return StoredField{}, err
	}
	var digest string
	if spec.DigestColumn != "" {
		b, err := r.bytes(spec.DigestColumn)
		if err != nil {
			return StoredField{}, err
		}
		digest = string(b)
	}
	if len(ct) == 0 {
		ct = nil
	}
	if len(iv) == 0 {
		iv = nil
	}
	return StoredField{Ciphertext: ct, IV: iv, Digest: digest}, nil
}

func (r Row) bytes(column string) ([]byte, error) {
	switch v := r[column].(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: column %s has type %T", ErrInvariantViolation, column, v)
	}
}
