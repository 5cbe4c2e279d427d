// Package sqlstore is a SQLite persistence collaborator for piifield records.
//
// It creates one table per registry, saves records after running their
// BeforePersist hook, and implements piifield.Finder with a parameterized
// equality filter on guarded digest columns.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/ai8future/piifield"
)

var (
	// ErrDuplicate indicates a unique digest column already holds the value.
	ErrDuplicate = errors.New("sqlstore: duplicate value in unique field")

	// ErrUnguardedColumn indicates a Column that did not come from the registry's guard.
	ErrUnguardedColumn = fmt.Errorf("%w: column was not produced by the guard", piifield.ErrConfiguration)
)

// Store persists piifield records in SQLite.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens a SQLite database with the mattn/go-sqlite3 driver.
// In-memory databases are limited to one connection so that every query
// sees the same database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return New(db), nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  db,
		log: logrus.WithField("component", "sqlstore"),
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the table of reg and an index per digest column
// (unique for Unique fields). It is idempotent.
func (s *Store) Migrate(ctx context.Context, reg *piifield.Registry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s TEXT PRIMARY KEY", quoteIdent(reg.Table()), quoteIdent(piifield.IDColumn))
	for _, spec := range reg.Fields() {
		fmt.Fprintf(&b, ",\n\t%s BLOB,\n\t%s BLOB", quoteIdent(spec.CiphertextColumn), quoteIdent(spec.IVColumn))
		if spec.DigestColumn != "" {
			fmt.Fprintf(&b, ",\n\t%s TEXT", quoteIdent(spec.DigestColumn))
		}
	}
	b.WriteString("\n)")

	stmts := []string{b.String()}
	for _, spec := range reg.Fields() {
		if spec.DigestColumn == "" {
			continue
		}
		unique := ""
		if spec.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique,
			quoteIdent("idx_"+reg.Table()+"_"+spec.DigestColumn),
			quoteIdent(reg.Table()),
			quoteIdent(spec.DigestColumn),
		))
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", reg.RecordType(), err)
		}
	}
	return nil
}

// Save runs rec.BeforePersist and upserts the resulting columns in one
// transaction. On success the record is marked persisted. If the write fails
// the record is rolled back to its state before BeforePersist, so its pending
// values are written again by the next Save.
func (s *Store) Save(ctx context.Context, rec *piifield.Record) error {
	if err := rec.BeforePersist(); err != nil {
		return err
	}
	if err := s.upsert(ctx, rec); err != nil {
		rec.Rollback()
		return err
	}

	rec.MarkPersisted()
	s.log.WithFields(logrus.Fields{
		"record_type": rec.Registry().RecordType(),
		"id":          rec.ID(),
	}).Debug("record saved")
	return nil
}

func (s *Store) upsert(ctx context.Context, rec *piifield.Record) error {
	reg := rec.Registry()
	row := rec.Columns()
	cols := reg.Columns()

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
		marks[i] = "?"
		args[i] = row[col]
		if col != piifield.IDColumn {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoted[i], quoted[i]))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quoteIdent(reg.Table()),
		strings.Join(quoted, ", "),
		strings.Join(marks, ", "),
		quoteIdent(piifield.IDColumn),
		strings.Join(updates, ", "),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return s.mapError(reg, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get loads a record by id. Returns piifield.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, engine *piifield.Engine, reg *piifield.Registry, id string) (*piifield.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		selectList(reg), quoteIdent(reg.Table()), quoteIdent(piifield.IDColumn))

	rows, err := s.query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, piifield.ErrNotFound
	}
	return engine.LoadRecord(reg, rows[0])
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, reg *piifield.Registry, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(reg.Table()), quoteIdent(piifield.IDColumn))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete %s: %w", reg.RecordType(), err)
	}
	return nil
}

// FindEqual implements piifield.Finder. The column identifier comes from the
// guard and the digest is bound as a parameter; no caller text reaches the SQL.
func (s *Store) FindEqual(ctx context.Context, reg *piifield.Registry, col piifield.Column, digest string) ([]piifield.Row, error) {
	if col.IsZero() || col.Table() != reg.Table() {
		return nil, ErrUnguardedColumn
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		selectList(reg), quoteIdent(reg.Table()), quoteIdent(col.Name()), quoteIdent(piifield.IDColumn))
	return s.query(ctx, query, digest)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]piifield.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []piifield.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(piifield.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) mapError(reg *piifield.Registry, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", ErrDuplicate, reg.RecordType())
	}
	return fmt.Errorf("save %s: %w", reg.RecordType(), err)
}

func selectList(reg *piifield.Registry) string {
	cols := reg.Columns()
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

// quoteIdent quotes a SQLite identifier. Registry names are already
// restricted to [A-Za-z_][A-Za-z0-9_]*.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
