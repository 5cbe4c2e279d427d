package piifield

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func testEngine(t testing.TB, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(testKeys(t), opts...)
	require.NoError(t, err)
	return engine
}

// persistedRow creates a record with the given values, runs BeforePersist and
// returns the resulting columns.
func persistedRow(t testing.TB, engine *Engine, reg *Registry, id string, values map[string]string) Row {
	t.Helper()
	rec := engine.NewRecordWithID(reg, id)
	for field, v := range values {
		require.NoError(t, rec.Set(field, v))
	}
	require.NoError(t, rec.BeforePersist())
	rec.MarkPersisted()
	return rec.Columns()
}

func TestNewEngine(t *testing.T) {
	engine := testEngine(t, WithAlgorithm(AlgorithmXChaCha20Poly1305))
	require.Equal(t, AlgorithmXChaCha20Poly1305, engine.Cipher().Algorithm())
	require.NotNil(t, engine.Indexer())

	_, err := NewEngine(nil)
	require.ErrorIs(t, err, ErrFatalConfiguration)

	_, err = NewEngine(testKeys(t), WithAlgorithm("des"))
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestNewRecord(t *testing.T) {
	engine := testEngine(t)
	reg := testRegistry(t)

	r1 := engine.NewRecord(reg)
	r2 := engine.NewRecord(reg)
	require.NotEmpty(t, r1.ID())
	require.NotEqual(t, r1.ID(), r2.ID())
	require.True(t, r1.IsNew())
	require.Same(t, reg, r1.Registry())
}

func TestLoadRecord(t *testing.T) {
	engine := testEngine(t)
	reg := testRegistry(t)
	row := persistedRow(t, engine, reg, "p-1", map[string]string{
		"email":      "alice@example.com",
		"birth_date": "1990-01-01",
	})

	rec, err := engine.LoadRecord(reg, row)
	require.NoError(t, err)
	require.Equal(t, "p-1", rec.ID())
	require.False(t, rec.IsNew())

	email, err := rec.Get("email")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", email)

	last, err := rec.Get("last_name")
	require.NoError(t, err)
	require.Empty(t, last)
	require.True(t, rec.Stored("last_name").IsEmpty())
}

func TestLoadRecord_StringColumns(t *testing.T) {
	engine := testEngine(t)
	reg := testRegistry(t)
	row := persistedRow(t, engine, reg, "p-1", map[string]string{"email": "alice@example.com"})

	// Some drivers return BLOBs as strings and ids as bytes.
	row[IDColumn] = []byte("p-1")
	row["email_ciphertext"] = string(row["email_ciphertext"].([]byte))

	rec, err := engine.LoadRecord(reg, row)
	require.NoError(t, err)
	email, err := rec.Get("email")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", email)
}

func TestLoadRecord_InvariantViolations(t *testing.T) {
	engine := testEngine(t)
	reg := testRegistry(t)

	tests := []struct {
		name   string
		mutate func(Row)
	}{
		{"no id", func(r Row) { delete(r, IDColumn) }},
		{"empty id", func(r Row) { r[IDColumn] = "" }},
		{"ciphertext without iv", func(r Row) { r["email_iv"] = nil }},
		{"iv without ciphertext", func(r Row) { r["email_ciphertext"] = nil; r["email_digest"] = nil }},
		{"digest without ciphertext", func(r Row) {
			r["last_name_digest"] = "deadbeef"
		}},
		{"unsupported column type", func(r Row) { r["email_iv"] = 42 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := persistedRow(t, engine, reg, "p-1", map[string]string{
				"email":      "alice@example.com",
				"birth_date": "1990-01-01",
			})
			tt.mutate(row)

			rec, err := engine.LoadRecord(reg, row)
			require.ErrorIs(t, err, ErrInvariantViolation)
			require.Nil(t, rec)
		})
	}
}

func TestLoadRecord_DigestOnNonSearchableField(t *testing.T) {
	engine := testEngine(t)
	searchable, err := NewRegistry("user", "users", FieldSpec{Name: "nickname", Searchable: true})
	require.NoError(t, err)
	plain, err := NewRegistry("user", "users", FieldSpec{Name: "nickname"})
	require.NoError(t, err)

	row := persistedRow(t, engine, searchable, "u-1", map[string]string{"nickname": "ace"})

	// A field whose digest column is gone cannot observe the digest, so the
	// row is still valid for the narrower registry.
	rec, err := engine.LoadRecord(plain, row)
	require.NoError(t, err)
	require.Empty(t, rec.Stored("nickname").Digest)

	sf := StoredField{Ciphertext: []byte{1}, IV: []byte{2}, Digest: "abc"}
	spec, _ := plain.Field("nickname")
	require.ErrorIs(t, sf.validate(spec), ErrInvariantViolation)
}

func TestLoadRecord_LogsInvariantViolation(t *testing.T) {
	logger, hook := test.NewNullLogger()
	engine := testEngine(t, WithLogger(logrus.NewEntry(logger)))
	reg := testRegistry(t)

	row := persistedRow(t, engine, reg, "p-1", map[string]string{"email": "alice@example.com"})
	ct := row["email_ciphertext"].([]byte)
	row["email_iv"] = nil

	_, err := engine.LoadRecord(reg, row)
	require.ErrorIs(t, err, ErrInvariantViolation)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.ErrorLevel, entry.Level)
	require.Equal(t, "email", entry.Data["field"])
	for _, v := range entry.Data {
		if b, ok := v.([]byte); ok {
			require.False(t, bytes.Equal(b, ct), "log must not carry ciphertext")
		}
	}
}
