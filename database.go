package freezer

import (
	"context"
	"sort"
	"strings"

	"github.com/freezerdb/freezer/internal/tuplelog"
)

// NoHead is the head id reported by a store with no committed
// transactions yet.
const NoHead int64 = -1

// Database is an immutable snapshot of every entity as of one head
// transaction id. Values never mutate in place: every write produces a
// new head and therefore a new Database.
type Database struct {
	store *Store
	head  int64

	// execer overrides the pool for reads that must observe a write
	// transaction's own not-yet-committed appends (read-your-writes
	// within one coordinator transaction). Nil means read against the
	// store's connection pool.
	execer tuplelog.Execer
}

func (d Database) reader() tuplelog.Execer {
	if d.execer != nil {
		return d.execer
	}
	return d.store.backend.DB()
}

// HeadID returns the transaction id this snapshot is anchored at, or
// NoHead if the store had no committed transaction when the snapshot was
// taken.
func (d Database) HeadID() int64 { return d.head }

// Entity resolves every attribute currently set on id as of this
// snapshot. A scalar attribute's value is whatever was last written to
// it; a collection attribute accumulates every element whose own
// last-writer-wins slot has not been removed. An id nothing was ever
// written to returns an empty Attributes and a nil error.
func (d Database) Entity(ctx context.Context, id string) (Attributes, error) {
	if d.head == NoHead {
		return Attributes{}, nil
	}
	tuples, err := tuplelog.AllFor(ctx, d.reader(), id, d.head)
	if err != nil {
		return Attributes{}, storageErrorf("entity", err)
	}
	return newAttributes(tuples)
}

// Attributes is one entity's resolved view: a map of scalar values and a
// map of collection values, keyed by attribute name.
type Attributes struct {
	scalars     map[string]Value
	collections map[string][]Value
}

// Get returns the current value of a scalar attribute.
func (a Attributes) Get(name string) (Value, bool) {
	v, ok := a.scalars[name]
	return v, ok
}

// Collection returns the current elements of a collection attribute, in
// no particular order.
func (a Attributes) Collection(name string) ([]Value, bool) {
	vs, ok := a.collections[name]
	return vs, ok
}

// Keys returns every attribute name (scalar or collection) currently set
// on the entity, sorted for deterministic iteration.
func (a Attributes) Keys() []string {
	seen := make(map[string]struct{}, len(a.scalars)+len(a.collections))
	for k := range a.scalars {
		seen[k] = struct{}{}
	}
	for k := range a.collections {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// allLatestTuples returns the whole database's latest tuples as of this
// snapshot, for the query surface.
func allLatestTuples(ctx context.Context, d Database) ([]tuplelog.Tuple, error) {
	if d.head == NoHead {
		return nil, nil
	}
	tuples, err := tuplelog.AllLatest(ctx, d.reader(), d.head)
	if err != nil {
		return nil, storageErrorf("query", err)
	}
	return tuples, nil
}

// newAttributes decodes AllFor's result set into scalar and collection
// views. A collection element's tuple key embeds a NUL byte separating
// the attribute name from the value's canonical suffix; a scalar
// attribute's key is the attribute name itself. A tuple whose latest
// value decodes to the null marker has been removed and contributes
// nothing.
func newAttributes(tuples []tuplelog.Tuple) (Attributes, error) {
	a := Attributes{scalars: map[string]Value{}, collections: map[string][]Value{}}
	for _, t := range tuples {
		v, err := decode(t.Value)
		if err != nil {
			return Attributes{}, err
		}
		if v.IsNull() {
			continue
		}
		if idx := strings.IndexByte(t.Key, 0); idx >= 0 {
			attr := t.Key[:idx]
			a.collections[attr] = append(a.collections[attr], v)
			continue
		}
		a.scalars[t.Key] = v
	}
	return a, nil
}
