package piifield

// Column is a digest column that passed the column guard.
// Its fields are unexported: outside this package the only way to obtain a
// non-zero Column is Registry.AssertSearchable, so a Finder can never be
// handed a column name that did not come from a registry.
type Column struct {
	table string
	name  string
}

// Name returns the physical column name.
func (c Column) Name() string { return c.name }

// Table returns the table the column belongs to.
func (c Column) Table() string { return c.table }

// IsZero reports whether c was not produced by the guard.
func (c Column) IsZero() bool { return c.name == "" }

// AssertSearchable is the column guard. It returns the digest column of a
// registered searchable field, and ErrFieldNotSearchable for anything else.
//
// The rejection is uniform: unknown names, names of non-searchable fields and
// names shaped like SQL all produce the same error, and the error never echoes
// the name. It runs before any query construction.
func (r *Registry) AssertSearchable(field string) (Column, error) {
	spec, ok := r.fields[field]
	if !ok || !spec.Searchable || spec.DigestColumn == "" {
		return Column{}, ErrFieldNotSearchable
	}
	return Column{table: r.table, name: spec.DigestColumn}, nil
}
