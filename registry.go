package piifield

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// IDColumn is the primary key column every record table carries.
// No encrypted field may map to it.
const IDColumn = "id"

// Default column suffixes applied when a FieldSpec leaves a column empty.
const (
	ciphertextSuffix = "_ciphertext"
	ivSuffix         = "_iv"
	digestSuffix     = "_digest"
)

// FieldSpec declares one encrypted logical field of a record type.
type FieldSpec struct {
	Name             string     // logical attribute name, e.g. "email"
	CiphertextColumn string     // default "<name>_ciphertext"
	IVColumn         string     // default "<name>_iv"
	DigestColumn     string     // set (or defaulted by Searchable) only for searchable fields
	Searchable       bool       // has a blind index and may be looked up
	Unique           bool       // digest column carries a unique constraint; implies Searchable
	Normalizer       Normalizer // blind index normalizer; nil means NormalizeDefault
}

// Registry maps the logical encrypted fields of one record type to their
// columns. It is the only source the column guard consults, and it is
// immutable after NewRegistry returns.
type Registry struct {
	recordType string
	table      string
	fields     map[string]FieldSpec
	order      []string
}

// NewRegistry validates specs, fills default column names and returns the
// registry for recordType. The table name defaults to recordType.
func NewRegistry(recordType, table string, specs ...FieldSpec) (*Registry, error) {
	if table == "" {
		table = recordType
	}
	if !isValidIdentifier(recordType) {
		return nil, fmt.Errorf("%w: record type must be an identifier", ErrInvalidRegistry)
	}
	if !isValidIdentifier(table) {
		return nil, fmt.Errorf("%w: table for %s must be an identifier", ErrInvalidRegistry, recordType)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s declares no encrypted fields", ErrInvalidRegistry, recordType)
	}

	r := &Registry{
		recordType: recordType,
		table:      table,
		fields:     make(map[string]FieldSpec, len(specs)),
		order:      make([]string, 0, len(specs)),
	}
	columns := map[string]bool{IDColumn: true}

	for _, spec := range specs {
		if !isValidIdentifier(spec.Name) {
			return nil, fmt.Errorf("%w: %s has a field name that is not an identifier", ErrInvalidRegistry, recordType)
		}
		if _, dup := r.fields[spec.Name]; dup {
			return nil, fmt.Errorf("%w: %s.%s declared twice", ErrInvalidRegistry, recordType, spec.Name)
		}

		if spec.CiphertextColumn == "" {
			spec.CiphertextColumn = spec.Name + ciphertextSuffix
		}
		if spec.IVColumn == "" {
			spec.IVColumn = spec.Name + ivSuffix
		}
		if spec.Unique {
			spec.Searchable = true
		}
		if spec.DigestColumn != "" {
			spec.Searchable = true
		}
		if spec.Searchable && spec.DigestColumn == "" {
			spec.DigestColumn = spec.Name + digestSuffix
		}
		if spec.Normalizer == nil {
			spec.Normalizer = NormalizeDefault
		}

		for _, col := range spec.columns() {
			if !isValidIdentifier(col) {
				return nil, fmt.Errorf("%w: %s.%s has a column that is not an identifier", ErrInvalidRegistry, recordType, spec.Name)
			}
			if columns[col] {
				return nil, fmt.Errorf("%w: %s.%s reuses column %s", ErrInvalidRegistry, recordType, spec.Name, col)
			}
			columns[col] = true
		}

		r.fields[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}

	return r, nil
}

// columns returns the physical columns of the field, digest last if present.
func (s FieldSpec) columns() []string {
	cols := []string{s.CiphertextColumn, s.IVColumn}
	if s.DigestColumn != "" {
		cols = append(cols, s.DigestColumn)
	}
	return cols
}

// RecordType returns the record type the registry describes.
func (r *Registry) RecordType() string { return r.recordType }

// Table returns the table holding records of this type.
func (r *Registry) Table() string { return r.table }

// Field returns the spec of a registered field.
func (r *Registry) Field(name string) (FieldSpec, bool) {
	spec, ok := r.fields[name]
	return spec, ok
}

// Fields returns the field specs in declaration order.
func (r *Registry) Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.fields[name])
	}
	return out
}

// Columns returns every physical column of the registry, starting with IDColumn.
func (r *Registry) Columns() []string {
	cols := []string{IDColumn}
	for _, name := range r.order {
		cols = append(cols, r.fields[name].columns()...)
	}
	return cols
}

func (r *Registry) lookup(name string) (FieldSpec, error) {
	spec, ok := r.fields[name]
	if !ok {
		return FieldSpec{}, ErrUnknownField
	}
	return spec, nil
}

// isValidIdentifier checks if a name is safe to use as a SQL identifier.
// Must start with letter or underscore, followed by alphanumeric/underscore.
func isValidIdentifier(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_') {
				return false
			}
		} else {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') || r == '_') {
				return false
			}
		}
	}
	return true
}

// registryFile is the YAML layout accepted by LoadRegistries.
type registryFile struct {
	RecordTypes map[string]recordTypeFile `yaml:"record_types"`
}

type recordTypeFile struct {
	Table  string      `yaml:"table"`
	Fields []fieldFile `yaml:"fields"`
}

type fieldFile struct {
	Name             string `yaml:"name"`
	CiphertextColumn string `yaml:"ciphertext_column"`
	IVColumn         string `yaml:"iv_column"`
	DigestColumn     string `yaml:"digest_column"`
	Searchable       bool   `yaml:"searchable"`
	Unique           bool   `yaml:"unique"`
	Normalizer       string `yaml:"normalizer"`
}

// LoadRegistries decodes a YAML registry document:
//
//	record_types:
//	  patient:
//	    table: patients
//	    fields:
//	      - name: email
//	        unique: true
//	        normalizer: email
//	      - name: last_name
//	        searchable: true
//	      - name: birth_date
//
// Unknown keys are rejected.
func LoadRegistries(r io.Reader) (map[string]*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc registryFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidRegistry, err)
	}
	if len(doc.RecordTypes) == 0 {
		return nil, fmt.Errorf("%w: no record types", ErrInvalidRegistry)
	}

	names := make([]string, 0, len(doc.RecordTypes))
	for name := range doc.RecordTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]*Registry, len(names))
	for _, name := range names {
		rt := doc.RecordTypes[name]
		specs := make([]FieldSpec, 0, len(rt.Fields))
		for _, f := range rt.Fields {
			norm, err := NormalizerByName(f.Normalizer)
			if err != nil {
				return nil, err
			}
			specs = append(specs, FieldSpec{
				Name:             f.Name,
				CiphertextColumn: f.CiphertextColumn,
				IVColumn:         f.IVColumn,
				DigestColumn:     f.DigestColumn,
				Searchable:       f.Searchable,
				Unique:           f.Unique,
				Normalizer:       norm,
			})
		}
		reg, err := NewRegistry(name, rt.Table, specs...)
		if err != nil {
			return nil, err
		}
		out[name] = reg
	}
	return out, nil
}

// LoadRegistryFile reads LoadRegistries input from path.
func LoadRegistryFile(path string) (map[string]*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}
	defer f.Close()
	return LoadRegistries(f)
}
