/*
session.go implements the transaction coordinator.

The original design keyed nesting state off the calling thread. Go has no
safe thread-local storage, so the coordinator state travels instead on the
context.Context chain the caller already threads through every blocking
call: ReadTransaction and WriteTransaction stash a *session under a
private key before invoking the caller's function, and a nested call one
frame down recovers it from ctx rather than from thread identity.

Nesting rules:
  - A read transaction opened inside another read, or inside a write,
    reuses the enclosing transaction's snapshot: same head, same reader.
    Nothing is committed or rolled back for reads.
  - A write transaction opened inside an open read transaction is
    rejected with NestingError: write access is never granted to a
    caller that only asked for a read.
  - A write transaction opened inside another write reuses the outer
    transaction's pending tx id and *sql.Tx, so its appends are visible
    to the outer transaction and vice versa. A nested write's failure
    (error, or a false commit decision) marks the whole chain failed;
    only the outermost call actually commits or rolls back.

Writers are serialized with a store-level mutex rather than by leaning on
a particular SQLite isolation level mapping to BEGIN EXCLUSIVE - the
driver behavior for that mapping isn't something this project verifies by
running the database, so the mutex is the one guarantee that doesn't
depend on it. WAL mode still lets readers proceed concurrently with the
writer holding the mutex.
*/
package freezer

import (
	"context"

	"github.com/freezerdb/freezer/internal/tuplelog"
)

type sessionKind int

const (
	sessionRead sessionKind = iota
	sessionWrite
)

type session struct {
	kind     sessionKind
	depth    int
	execer   tuplelog.Execer
	txID     int64 // meaningful only for sessionWrite
	baseHead int64 // meaningful only for sessionRead
	failed   bool
	queue    []pendingChange
}

type sessionCtxKey struct{}

func sessionFromContext(ctx context.Context) (*session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(*session)
	return s, ok
}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// ReadTransaction runs fn against a consistent point-in-time snapshot.
// Calling ReadTransaction again from inside fn reuses this same snapshot
// rather than opening a new one.
func (s *Store) ReadTransaction(ctx context.Context, fn func(ctx context.Context, db Database) error) error {
	if outer, ok := sessionFromContext(ctx); ok {
		var db Database
		switch outer.kind {
		case sessionWrite:
			db = Database{store: s, head: outer.txID, execer: outer.execer}
		default:
			db = Database{store: s, head: outer.baseHead, execer: outer.execer}
		}
		outer.depth++
		defer func() { outer.depth-- }()
		return fn(ctx, db)
	}

	head := s.currentHead()
	sess := &session{kind: sessionRead, depth: 1, baseHead: head, execer: s.backend.DB()}
	ctx = withSession(ctx, sess)
	db := Database{store: s, head: head, execer: sess.execer}
	return fn(ctx, db)
}

// WriteTransaction runs fn with a pending transaction id, committing the
// accumulated writes and publishing a change batch if fn returns
// (true, nil), or rolling everything back otherwise. fn reports whether
// its changes should be committed; returning an error always rolls back.
//
// Opening a write transaction from inside a read transaction returns
// *NestingError without calling fn.
func (s *Store) WriteTransaction(ctx context.Context, fn func(ctx context.Context, txID int64) (bool, error)) error {
	if outer, ok := sessionFromContext(ctx); ok {
		if outer.kind == sessionRead {
			return &NestingError{}
		}
		outer.depth++
		commit, err := fn(ctx, outer.txID)
		outer.depth--
		if err != nil || !commit {
			outer.failed = true
		}
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	previousHead := s.currentHead()
	nextTxID := previousHead + 1

	tx, err := s.backend.DB().BeginTx(ctx, nil)
	if err != nil {
		return storageErrorf("begin write transaction", err)
	}

	sess := &session{kind: sessionWrite, depth: 1, execer: tx, txID: nextTxID}
	ctx2 := withSession(ctx, sess)

	commit, fnErr := fn(ctx2, nextTxID)
	if fnErr != nil || !commit || sess.failed {
		_ = tx.Rollback()
		return fnErr
	}

	if err := s.transactor.insertNewTransaction(ctx2, tx, nextTxID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.transactor.updateHead(ctx2, tx, nextTxID); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErrorf("commit write transaction", err)
	}

	s.setHead(nextTxID)

	prevDB := Database{store: s, head: previousHead}
	changedDB := Database{store: s, head: nextTxID}
	changes := make([]Change, 0, len(sess.queue))
	for _, p := range sess.queue {
		changes = append(changes, Change{
			Type:             p.Type,
			EntityID:         p.EntityID,
			Attribute:        p.Attribute,
			Delta:            p.Delta,
			PreviousDatabase: prevDB,
			ChangedDatabase:  changedDB,
		})
	}
	s.changes.publish(changes)
	return nil
}

// queueChange appends a pending change record to the innermost write
// session reachable from ctx. Called only by Transactor mutators, which
// always run inside an open write session.
func queueChange(ctx context.Context, c pendingChange) {
	if sess, ok := sessionFromContext(ctx); ok && sess.kind == sessionWrite {
		sess.queue = append(sess.queue, c)
	}
}

// writerFromContext returns the tuple-log writer for the current write
// session: the open *sql.Tx so appends are visible to the rest of the
// same transaction before commit.
func writerFromContext(ctx context.Context) (tuplelog.Execer, int64, error) {
	sess, ok := sessionFromContext(ctx)
	if !ok || sess.kind != sessionWrite {
		return nil, 0, &NestingError{}
	}
	return sess.execer, sess.txID, nil
}
