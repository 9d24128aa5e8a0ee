package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	_ "modernc.org/sqlite"
)

// SQLite is a Store kept in a single SQLite table. Keys are stored as BLOBs,
// which SQLite compares with memcmp, so range scans follow byte order.
type SQLite struct {
	db   *sql.DB
	opts *Options
}

var _ Store = (*SQLite)(nil)

// SQLiteOptions configures NewSQLite.
type SQLiteOptions struct {
	Options *Options

	// Path is the database file. ":memory:" opens a private in-memory
	// database.
	Path string
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID`

// NewSQLite opens the database at opts.Path and creates the kv table.
func NewSQLite(opts SQLiteOptions) (*SQLite, error) {
	if opts.Path == "" {
		return nil, errors.New("kv: sqlite path is required")
	}
	dsn := opts.Path
	if dsn != ":memory:" {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: create sqlite schema: %w", err)
	}
	return &SQLite{db: db, opts: opts.Options}, nil
}

func (s *SQLite) Get(ctx context.Context, key Key) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, s.opts.encode(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *SQLite) Set(ctx context.Context, key Key, value []byte) error {
	_, err := s.db.ExecContext(ctx, upsertKV, s.opts.encode(key), value)
	return err
}

const upsertKV = `INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`

func (s *SQLite) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, s.opts.encode(key))
	return err
}

func (s *SQLite) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	return s.scan(ctx, prefix, "ASC")
}

func (s *SQLite) ListReverse(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	return s.scan(ctx, prefix, "DESC")
}

// scan reads all matching rows before yielding, since the single pooled
// connection must be free for calls the consumer makes while iterating.
func (s *SQLite) scan(ctx context.Context, prefix Key, order string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		entries, err := s.query(ctx, s.opts.scanPrefix(prefix), order)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *SQLite) query(ctx context.Context, p []byte, order string) ([]Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch ub := upperBound(p); {
	case len(p) == 0:
		rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM kv ORDER BY k `+order)
	case ub == nil:
		rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM kv WHERE k >= ? ORDER BY k `+order, p)
	default:
		rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k `+order, p, ub)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: s.opts.decode(k), Value: v})
	}
	return out, rows.Err()
}

func (s *SQLite) BatchSet(ctx context.Context, entries []Entry) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertKV)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, s.opts.encode(e.Key), e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) BatchDelete(ctx context.Context, keys []Key) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, s.opts.encode(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
