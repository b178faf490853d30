/*
Package tuplelog implements the append-only tuple table: append (called
only by the transactor) and the reads the root package needs (per-key and
per-entity lookups for snapshots, whole-database reads for the query
surface, one transaction's tuples, and the highest tx_id). The log has no
knowledge of attribute schema or
value encoding - those live one layer up in the root package.
*/
package tuplelog

import (
	"context"
	"database/sql"
)

// Tuple is one row of the append-only log.
type Tuple struct {
	RowID    int64
	EntityID string
	Key      string
	Value    []byte
	TxID     int64
}

// Execer is satisfied by both *sql.DB and *sql.Tx, so every function here
// runs equally well against the shared pool (plain reads) or an open
// coordinator transaction (writes, and reads that must see
// not-yet-committed state within the same transaction).
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append inserts one tuple and returns its assigned row_id.
func Append(ctx context.Context, q Execer, entityID, key string, value []byte, txID int64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO data(entity_id, key, value, tx_id) VALUES (?, ?, ?, ?)`,
		entityID, key, value, txID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestFor returns the tuple with the largest tx_id <= head for
// (entityID, key), implemented as an indexed descending scan bounded by
// LIMIT 1.
func LatestFor(ctx context.Context, q Execer, entityID, key string, head int64) (Tuple, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT row_id, entity_id, key, value, tx_id FROM data
		 WHERE entity_id = ? AND key = ? AND tx_id <= ?
		 ORDER BY tx_id DESC, row_id DESC LIMIT 1`,
		entityID, key, head)
	var t Tuple
	if err := row.Scan(&t.RowID, &t.EntityID, &t.Key, &t.Value, &t.TxID); err != nil {
		if err == sql.ErrNoRows {
			return Tuple{}, false, nil
		}
		return Tuple{}, false, err
	}
	return t, true, nil
}

// AllFor returns, for every distinct key ever written for entityID, that
// key's latest tuple with tx_id <= head. The caller is responsible for
// dropping keys whose latest value decodes to the null marker.
func AllFor(ctx context.Context, q Execer, entityID string, head int64) ([]Tuple, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT row_id, entity_id, key, value, tx_id FROM data
		 WHERE entity_id = ? AND tx_id <= ?
		 ORDER BY key ASC, tx_id DESC, row_id DESC`,
		entityID, head)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return dedupeLatestPerKey(rows)
}

func dedupeLatestPerKey(rows *sql.Rows) ([]Tuple, error) {
	var out []Tuple
	lastKey := ""
	seenAny := false
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.RowID, &t.EntityID, &t.Key, &t.Value, &t.TxID); err != nil {
			return nil, err
		}
		if seenAny && t.Key == lastKey {
			continue // already have this key's latest (rows are ordered tx_id/row_id DESC within a key)
		}
		lastKey = t.Key
		seenAny = true
		out = append(out, t)
	}
	return out, rows.Err()
}

// EnumerateAt returns every tuple written with exactly txID, in row_id
// order - everything one commit appended.
func EnumerateAt(ctx context.Context, q Execer, txID int64) ([]Tuple, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT row_id, entity_id, key, value, tx_id FROM data WHERE tx_id = ? ORDER BY row_id ASC`,
		txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.RowID, &t.EntityID, &t.Key, &t.Value, &t.TxID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllLatest returns, for every distinct (entity_id, key) pair ever
// written anywhere in the log, that pair's latest tuple with
// tx_id <= head. Used by the query surface to enumerate the whole
// database rather than one entity.
func AllLatest(ctx context.Context, q Execer, head int64) ([]Tuple, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT row_id, entity_id, key, value, tx_id FROM data
		 WHERE tx_id <= ?
		 ORDER BY entity_id ASC, key ASC, tx_id DESC, row_id DESC`,
		head)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tuple
	lastEntity, lastKey := "", ""
	seenAny := false
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.RowID, &t.EntityID, &t.Key, &t.Value, &t.TxID); err != nil {
			return nil, err
		}
		if seenAny && t.EntityID == lastEntity && t.Key == lastKey {
			continue
		}
		lastEntity, lastKey = t.EntityID, t.Key
		seenAny = true
		out = append(out, t)
	}
	return out, rows.Err()
}

// MaxTxID returns the highest tx_id ever written, or ok=false if the log
// is empty.
func MaxTxID(ctx context.Context, q Execer) (int64, bool, error) {
	var max sql.NullInt64
	row := q.QueryRowContext(ctx, `SELECT MAX(tx_id) FROM data`)
	if err := row.Scan(&max); err != nil {
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Int64, true, nil
}
