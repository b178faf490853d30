/*
Package storage wraps the backing relational file for Freezer.

PURPOSE:
  Opens the single SQLite file (or shared in-memory database) that holds
  the append-only tuple log, configures it with WAL journaling, NORMAL
  synchronous mode, and no legacy file format.

CONNECTIONS:
  database/sql already checks a pooled connection out to whichever
  goroutine is running a query and returns it afterward - that is the Go
  equivalent of "per-thread connections, lazily constructed, cached,
  destroyed at thread exit": there is no safe goroutine-local storage to
  hand-roll the original per-thread cache with, so Backend configures the
  pool instead of replacing it. WAL mode is what lets those pooled
  connections read concurrently while one writer holds the exclusive
  lock.

SEE ALSO:
  - internal/tuplelog: the queries run against the pool returned by
    Backend.DB() (or a transaction begun on it).
*/
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS data(
	row_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB,
	tx_id     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS lookup ON data(entity_id, key, tx_id);
`

// Backend is a typed wrapper over the backing relational file.
type Backend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Options configures a newly opened Backend.
type Options struct {
	Logger       zerolog.Logger
	MaxOpenConns int
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 8
	}
	return o
}

// Open opens the relational file at path (created if missing) and
// configures its journal and synchronous mode.
func Open(path string, opts Options) (*Backend, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL", path)
	return open(dsn, opts)
}

// OpenInMemory opens a shared in-memory database at the given DSN (the
// caller is responsible for constructing a unique
// "file:<uuid>?mode=memory&cache=shared" DSN so concurrent connections
// from the same process see the same database).
func OpenInMemory(dsn string, opts Options) (*Backend, error) {
	return open(dsn+"&_journal_mode=WAL&_synchronous=NORMAL", opts)
}

func open(dsn string, opts Options) (*Backend, error) {
	opts = opts.withDefaults()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErrorf("open", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)

	if _, err := db.Exec("PRAGMA legacy_file_format = 0"); err != nil {
		db.Close()
		return nil, storageErrorf("configure", err)
	}

	b := &Backend{db: db, logger: opts.Logger}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	b.logger.Info().Str("dsn", dsn).Msg("storage backend opened")
	return b, nil
}

func (b *Backend) migrate() error {
	if _, err := b.db.Exec(schemaDDL); err != nil {
		return storageErrorf("migrate", err)
	}
	return nil
}

// DB returns the underlying connection pool, for callers (the
// coordinator) that need to begin an explicit transaction.
func (b *Backend) DB() *sql.DB { return b.db }

// Close closes the backend's connection pool.
func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return storageErrorf("close", err)
	}
	return nil
}

// StorageError is returned by Backend for any failed preparation,
// execution, or migration - wrapping the driver's underlying error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErrorf(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
