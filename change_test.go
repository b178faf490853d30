package freezer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezerdb/freezer"
)

func TestValuesAndChangesForSeedsThenFilters(t *testing.T) {
	// GIVEN: alice.age == 1 already committed, bob untouched
	// WHEN: subscribing to alice's feed, then committing a change to bob
	// followed by a change to alice
	// THEN: the first element is the seed (alice's current attributes),
	// and only the commit touching alice arrives after it
	store := newTestStore(t)
	ctx := context.Background()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		tx := store.Transactor()
		require.NoError(t, tx.AddAttribute(ctx, "age", freezer.TypeInteger, false))
		return true, tx.AddValue(ctx, freezer.Int(1), "age", "alice")
	})

	feed, unsub := store.ValuesAndChangesFor(ctx, "alice")
	defer unsub()

	select {
	case seed := <-feed:
		v, ok := seed.Value.Get("age")
		require.True(t, ok)
		n, _ := v.Int()
		assert.Equal(t, int64(1), n)
	case <-time.After(time.Second):
		t.Fatal("expected a seed element")
	}

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddValue(ctx, freezer.Int(99), "age", "bob")
	})
	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddValue(ctx, freezer.Int(2), "age", "alice")
	})

	select {
	case next := <-feed:
		assert.Equal(t, "alice", next.Change.EntityID)
		v, ok := next.Value.Get("age")
		require.True(t, ok)
		n, _ := v.Int()
		assert.Equal(t, int64(2), n)
	case <-time.After(time.Second):
		t.Fatal("expected the alice-only commit to arrive")
	}

	select {
	case extra := <-feed:
		t.Fatalf("expected no further elements, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}
