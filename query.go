/*
query.go is the thin, external-collaborator query surface: something a
caller-supplied filtering or projection layer sits on top of. It
deliberately does not grow a filter/take/lens DSL of its own - that kind
of composable view belongs to a package built against this interface, not
inside the storage engine.
*/
package freezer

import (
	"context"
	"strings"
)

// Triple is one resolved (entity, attribute, value) fact as of a
// snapshot. For a collection element, Attribute is the declared
// attribute name with the element-addressing suffix stripped off.
type Triple struct {
	EntityID  string
	Attribute string
	Value     Value
}

// QueryFactory is the read surface a query/projection layer builds on:
// every entity with at least one live fact, and every currently-live
// fact, as of one Database snapshot.
type QueryFactory interface {
	Keys() ([]string, error)
	Triples() ([]Triple, error)
}

// NewQueryFactory returns the default QueryFactory for a snapshot,
// backed directly by the tuple log.
func NewQueryFactory(db Database) QueryFactory {
	return &databaseQueryFactory{db: db}
}

// Query returns the default QueryFactory for this snapshot; it is
// NewQueryFactory(d).
func (d Database) Query() QueryFactory {
	return NewQueryFactory(d)
}

type databaseQueryFactory struct {
	db Database
}

// Keys returns every distinct entity id with at least one live fact.
func (f *databaseQueryFactory) Keys() ([]string, error) {
	triples, err := f.Triples()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(triples))
	var out []string
	for _, t := range triples {
		if _, ok := seen[t.EntityID]; ok {
			continue
		}
		seen[t.EntityID] = struct{}{}
		out = append(out, t.EntityID)
	}
	return out, nil
}

// Triples returns every currently-live (entity, attribute, value) fact in
// the snapshot, one row per scalar attribute and one row per collection
// element.
func (f *databaseQueryFactory) Triples() ([]Triple, error) {
	return triplesFor(context.Background(), f.db)
}

func triplesFor(ctx context.Context, db Database) ([]Triple, error) {
	if db.head == NoHead {
		return nil, nil
	}
	tuples, err := allLatestTuples(ctx, db)
	if err != nil {
		return nil, err
	}

	out := make([]Triple, 0, len(tuples))
	for _, t := range tuples {
		v, err := decode(t.Value)
		if err != nil {
			return nil, err
		}
		if v.IsNull() {
			continue
		}
		attribute := t.Key
		if idx := strings.IndexByte(attribute, 0); idx >= 0 {
			attribute = attribute[:idx]
		}
		out = append(out, Triple{EntityID: t.EntityID, Attribute: attribute, Value: v})
	}
	return out, nil
}
