/*
store.go is the top-level entry point: Open/OpenInMemory construct a
Store wired to its backing file, its tuple log, and its change stream,
the way cuemby-warren's service wires a driver, a store, and a scheduler
behind one constructor. Everything else in this package is reached
through a Store.
*/
package freezer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freezerdb/freezer/internal/storage"
	"github.com/freezerdb/freezer/internal/tuplelog"
)

// nowFunc is time.Now, indirected so tests can pin the transaction
// timestamp recorded by insertNewTransaction.
var nowFunc = time.Now

// Store is a single Freezer database: one append-only tuple log, one
// current head, one change stream.
type Store struct {
	backend *storage.Backend
	changes *changeStream
	logger  zerolog.Logger

	transactor *Transactor

	writeMu sync.Mutex
	head    atomic.Int64
}

// Option configures a Store at open time.
type Option func(*config)

type config struct {
	logger       zerolog.Logger
	maxOpenConns int
}

// WithLogger attaches a structured logger. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithMaxOpenConns bounds the size of the underlying connection pool.
func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConns = n }
}

func newConfig(opts []Option) config {
	c := config{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Open opens (creating if necessary) the Freezer database at path.
func Open(path string, opts ...Option) (*Store, error) {
	c := newConfig(opts)
	backend, err := storage.Open(path, storage.Options{Logger: c.logger, MaxOpenConns: c.maxOpenConns})
	if err != nil {
		return nil, storageErrorf("open", err)
	}
	return newStore(backend, c)
}

// OpenInMemory opens a private, process-local in-memory database. Each
// call gets its own database, shared across every connection drawn from
// the same Store's pool but invisible to any other Store.
func OpenInMemory(opts ...Option) (*Store, error) {
	c := newConfig(opts)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	backend, err := storage.OpenInMemory(dsn, storage.Options{Logger: c.logger, MaxOpenConns: c.maxOpenConns})
	if err != nil {
		return nil, storageErrorf("open", err)
	}
	return newStore(backend, c)
}

func newStore(backend *storage.Backend, c config) (*Store, error) {
	s := &Store{
		backend:    backend,
		changes:    newChangeStream(c.logger),
		logger:     c.logger,
		transactor: &Transactor{logger: c.logger},
	}

	ctx := context.Background()
	head, ok, err := tuplelog.MaxTxID(ctx, backend.DB())
	if err != nil {
		backend.Close()
		return nil, storageErrorf("read head", err)
	}
	if ok {
		s.head.Store(head)
	} else {
		s.head.Store(NoHead)
	}
	return s, nil
}

// Close releases the store's connection pool and stops its change
// stream. No further notification is delivered to existing subscribers;
// their channels are not closed.
func (s *Store) Close() error {
	s.changes.close()
	return s.backend.Close()
}

// Transactor returns the mutating API surface, valid to call only from
// inside a WriteTransaction callback running against this Store.
func (s *Store) Transactor() *Transactor { return s.transactor }

// CurrentDatabase returns a snapshot anchored at the store's current
// head, outside of any transaction.
func (s *Store) CurrentDatabase() Database {
	return Database{store: s, head: s.currentHead()}
}

func (s *Store) currentHead() int64 { return s.head.Load() }
func (s *Store) setHead(id int64)   { s.head.Store(id) }

// Changes returns a channel delivering every future commit as a batch of
// Change records, in commit order, and a func to stop receiving.
func (s *Store) Changes(ctx context.Context) (<-chan []Change, func()) {
	return s.changes.Subscribe()
}

// TransactionTuples returns every tuple committed under txID, in the
// order they were appended. Meant for inspection tooling (see
// cmd/freezerinspect), not for application logic.
func (s *Store) TransactionTuples(ctx context.Context, txID int64) ([]tuplelog.Tuple, error) {
	tuples, err := tuplelog.EnumerateAt(ctx, s.backend.DB(), txID)
	if err != nil {
		return nil, storageErrorf("enumerate transaction", err)
	}
	return tuples, nil
}

// ValuesAndChangesFor returns a channel whose first element is entity's
// current attributes, and whose every subsequent element is the
// attributes that result from a commit touching entity, paired with the
// Change that produced them.
func (s *Store) ValuesAndChangesFor(ctx context.Context, entity string) (<-chan EntityChange, func()) {
	return s.changes.subscribeEntity(ctx, s, entity)
}
