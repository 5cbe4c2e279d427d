package piifield

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// memFinder is an in-memory persistence collaborator keyed by record id.
type memFinder struct {
	rows    map[string]Row
	queries int
}

func newMemFinder() *memFinder {
	return &memFinder{rows: make(map[string]Row)}
}

func (m *memFinder) save(t testing.TB, rec *Record) {
	t.Helper()
	require.NoError(t, rec.BeforePersist())
	m.rows[rec.ID()] = rec.Columns()
	rec.MarkPersisted()
}

func (m *memFinder) FindEqual(_ context.Context, _ *Registry, col Column, digest string) ([]Row, error) {
	m.queries++
	ids := make([]string, 0, len(m.rows))
	for id, row := range m.rows {
		if row[col.Name()] == digest {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]Row, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.rows[id])
	}
	return out, nil
}

func TestFindBy_EndToEnd(t *testing.T) {
	ctx := context.Background()
	engine := testEngine(t)
	reg := testRegistry(t)
	store := newMemFinder()

	rec := engine.NewRecord(reg)
	require.NoError(t, rec.Set("email", "A@Example.com"))
	store.save(t, rec)

	found, err := engine.FindByStrict(ctx, store, reg, "email", "a@example.com ")
	require.NoError(t, err)
	require.Equal(t, rec.ID(), found.ID())

	email, err := found.Get("email")
	require.NoError(t, err)
	require.Equal(t, "A@Example.com", email, "original case is preserved")

	// One corrupted byte fails authentication.
	store.rows[rec.ID()]["email_ciphertext"].([]byte)[0] ^= 0x01
	found, err = engine.FindByStrict(ctx, store, reg, "email", "a@example.com")
	require.NoError(t, err)
	_, err = found.Get("email")
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestFindBy_NoMatch(t *testing.T) {
	ctx := context.Background()
	engine := testEngine(t)
	reg := testRegistry(t)
	store := newMemFinder()

	rec := engine.NewRecord(reg)
	require.NoError(t, rec.Set("last_name", "Foobar"))
	store.save(t, rec)

	found, err := engine.FindBy(ctx, store, reg, "last_name", "Foo")
	require.NoError(t, err)
	require.Nil(t, found, "no prefix matching")

	_, err = engine.FindByStrict(ctx, store, reg, "last_name", "Foo")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, ErrNotFound, PublicError(err))
}

func TestFindBy_EmptyValueRunsNoQuery(t *testing.T) {
	ctx := context.Background()
	engine := testEngine(t)
	store := newMemFinder()

	found, err := engine.FindBy(ctx, store, testRegistry(t), "email", "   ")
	require.NoError(t, err)
	require.Nil(t, found)
	require.Zero(t, store.queries)
}

func TestFindBy_UsesFieldNormalizer(t *testing.T) {
	ctx := context.Background()
	engine := testEngine(t)
	reg := testRegistry(t)
	store := newMemFinder()

	rec := engine.NewRecord(reg)
	require.NoError(t, rec.Set("phone", "+1 (555) 010-0199"))
	store.save(t, rec)

	found, err := engine.FindByStrict(ctx, store, reg, "phone", "15550100199")
	require.NoError(t, err)
	require.Equal(t, rec.ID(), found.ID())
}

func TestFindAllBy(t *testing.T) {
	ctx := context.Background()
	engine := testEngine(t)
	reg := testRegistry(t)
	store := newMemFinder()

	for _, id := range []string{"p-2", "p-1", "p-3"} {
		rec := engine.NewRecordWithID(reg, id)
		name := "Smith"
		if id == "p-3" {
			name = "Jones"
		}
		require.NoError(t, rec.Set("last_name", name))
		store.save(t, rec)
	}

	recs, err := engine.FindAllBy(ctx, store, reg, "last_name", "SMITH")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "p-1", recs[0].ID())
	require.Equal(t, "p-2", recs[1].ID())

	first, err := engine.FindBy(ctx, store, reg, "last_name", "smith")
	require.NoError(t, err)
	require.Equal(t, "p-1", first.ID(), "first row wins")
}

func TestTaken(t *testing.T) {
	ctx := context.Background()
	engine := testEngine(t)
	reg := testRegistry(t)
	store := newMemFinder()

	rec := engine.NewRecord(reg)
	require.NoError(t, rec.Set("email", "alice@example.com"))
	store.save(t, rec)

	taken, err := engine.Taken(ctx, store, reg, "email", "ALICE@example.com", "")
	require.NoError(t, err)
	require.True(t, taken)

	taken, err = engine.Taken(ctx, store, reg, "email", "alice@example.com", rec.ID())
	require.NoError(t, err)
	require.False(t, taken, "a record does not collide with itself")

	taken, err = engine.Taken(ctx, store, reg, "email", "bob@example.com", "")
	require.NoError(t, err)
	require.False(t, taken)
}

func TestFindBy_FinderError(t *testing.T) {
	boom := errors.New("connection reset")
	finder := FinderFunc(func(context.Context, *Registry, Column, string) ([]Row, error) {
		return nil, boom
	})

	_, err := testEngine(t).FindBy(context.Background(), finder, testRegistry(t), "email", "a@b.c")
	require.ErrorIs(t, err, boom)
	require.Equal(t, ErrProcessing, PublicError(err))
}

func TestFindBy_InvalidRow(t *testing.T) {
	finder := FinderFunc(func(context.Context, *Registry, Column, string) ([]Row, error) {
		return []Row{{IDColumn: "p-1", "email_iv": []byte{1, 2, 3}}}, nil
	})

	_, err := testEngine(t).FindBy(context.Background(), finder, testRegistry(t), "email", "a@b.c")
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestFindBy_PassesGuardedColumn(t *testing.T) {
	engine := testEngine(t)
	reg := testRegistry(t)

	var gotCol Column
	var gotDigest string
	finder := FinderFunc(func(_ context.Context, _ *Registry, col Column, digest string) ([]Row, error) {
		gotCol, gotDigest = col, digest
		return nil, nil
	})

	_, err := engine.FindBy(context.Background(), finder, reg, "email", "Alice@Example.com")
	require.NoError(t, err)

	want, _ := engine.Indexer().ComputeNormalized("alice@example.com", NormalizeEmail)
	require.Equal(t, "email_digest", gotCol.Name())
	require.Equal(t, "patients", gotCol.Table())
	require.Equal(t, want, gotDigest)
}

func TestFindBy_ClosedKeys(t *testing.T) {
	keys := testKeys(t)
	engine, err := NewEngine(keys)
	require.NoError(t, err)
	store := newMemFinder()

	keys.Close()
	require.NotPanics(t, func() {
		_, err = engine.FindBy(context.Background(), store, testRegistry(t), "email", "alice@example.com")
	})
	require.ErrorIs(t, err, ErrKeysClosed)
	require.Zero(t, store.queries)
}

func TestFindBy_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics(prometheus.NewRegistry())
	engine := testEngine(t, WithMetrics(metrics))
	reg := testRegistry(t)
	store := newMemFinder()

	rec := engine.NewRecord(reg)
	require.NoError(t, rec.Set("email", "alice@example.com"))
	store.save(t, rec)

	_, _ = engine.FindBy(ctx, store, reg, "email", "alice@example.com")
	_, _ = engine.FindBy(ctx, store, reg, "email", "bob@example.com")
	_, _ = engine.FindBy(ctx, store, reg, "birth_date", "1990-01-01")

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("patient", lookupHit)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("patient", lookupMiss)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("patient", lookupRejected)))
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	require.Panics(t, func() { NewMetrics(reg) })
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.encrypted("patient")
		m.decrypted("patient", nil)
		m.lookup("patient", lookupHit)
		m.backfilled("patient")
	})
}
