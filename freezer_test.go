package freezer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freezerdb/freezer"
)

func newTestStore(t *testing.T) *freezer.Store {
	store, err := freezer.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func writeTx(t *testing.T, store *freezer.Store, fn func(ctx context.Context, txID int64) (bool, error)) {
	t.Helper()
	require.NoError(t, store.WriteTransaction(context.Background(), fn))
}

func TestAttributeAndSingleWrite(t *testing.T) {
	// GIVEN: attribute age:integer,scalar
	// WHEN: adding 42 for "alice" in one transaction
	// THEN: the new snapshot reports 42, and one add batch of length 1 is observed
	store := newTestStore(t)

	batches, unsub := store.Changes(context.Background())
	defer unsub()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		tx := store.Transactor()
		if err := tx.AddAttribute(ctx, "age", freezer.TypeInteger, false); err != nil {
			return false, err
		}
		if err := tx.AddValue(ctx, freezer.Int(42), "age", "alice"); err != nil {
			return false, err
		}
		return true, nil
	})

	db := store.CurrentDatabase()
	attrs, err := db.Entity(context.Background(), "alice")
	require.NoError(t, err)
	v, ok := attrs.Get("age")
	require.True(t, ok)
	age, _ := v.Int()
	assert.Equal(t, int64(42), age)

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, freezer.ChangeAdd, batch[0].Type)
		assert.Equal(t, "alice", batch[0].EntityID)
		n, _ := batch[0].Delta.Int()
		assert.Equal(t, int64(42), n)
	case <-time.After(time.Second):
		t.Fatal("expected one change batch")
	}
}

func TestOverwrite(t *testing.T) {
	// GIVEN: alice.age == 42 from a prior commit
	// WHEN: a new transaction writes 43
	// THEN: the new snapshot reports 43, the previous snapshot still reports 42
	store := newTestStore(t)
	ctx := context.Background()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		tx := store.Transactor()
		require.NoError(t, tx.AddAttribute(ctx, "age", freezer.TypeInteger, false))
		return true, tx.AddValue(ctx, freezer.Int(42), "age", "alice")
	})
	previous := store.CurrentDatabase()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddValue(ctx, freezer.Int(43), "age", "alice")
	})
	latest := store.CurrentDatabase()

	latestAttrs, err := latest.Entity(ctx, "alice")
	require.NoError(t, err)
	v, _ := latestAttrs.Get("age")
	n, _ := v.Int()
	assert.Equal(t, int64(43), n)

	prevAttrs, err := previous.Entity(ctx, "alice")
	require.NoError(t, err)
	v, _ = prevAttrs.Get("age")
	n, _ = v.Int()
	assert.Equal(t, int64(42), n)
}

func TestRemove(t *testing.T) {
	// GIVEN: alice.age == 43 after an overwrite
	// WHEN: removing age for alice
	// THEN: the attribute is absent from the new snapshot
	store := newTestStore(t)
	ctx := context.Background()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		tx := store.Transactor()
		require.NoError(t, tx.AddAttribute(ctx, "age", freezer.TypeInteger, false))
		require.NoError(t, tx.AddValue(ctx, freezer.Int(42), "age", "alice"))
		return true, tx.AddValue(ctx, freezer.Int(43), "age", "alice")
	})

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().RemoveValue(ctx, "age", "alice")
	})

	attrs, err := store.CurrentDatabase().Entity(ctx, "alice")
	require.NoError(t, err)
	_, ok := attrs.Get("age")
	assert.False(t, ok)
}

func TestCollectionAccumulation(t *testing.T) {
	// GIVEN: attribute tags:string,collection
	// WHEN: three transactions each add one element for entity "x"
	// THEN: db["x"]["tags"] holds all three; removing one leaves two
	store := newTestStore(t)
	ctx := context.Background()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddAttribute(ctx, "tags", freezer.TypeString, true)
	})
	for _, tag := range []string{"a", "b", "c"} {
		tag := tag
		writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
			return true, store.Transactor().AddValue(ctx, freezer.Str(tag), "tags", "x")
		})
	}

	attrs, err := store.CurrentDatabase().Entity(ctx, "x")
	require.NoError(t, err)
	tags, ok := attrs.Collection("tags")
	require.True(t, ok)
	assert.Len(t, tags, 3)

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().RemoveValue(ctx, "tags", "x", freezer.Str("b"))
	})

	attrs, err = store.CurrentDatabase().Entity(ctx, "x")
	require.NoError(t, err)
	tags, ok = attrs.Collection("tags")
	require.True(t, ok)
	assert.Len(t, tags, 2)
}

func TestNestedWriteSuccess(t *testing.T) {
	// GIVEN: an outer write transaction that writes k1 then opens an inner
	// write transaction that writes k2
	// WHEN: both return success
	// THEN: exactly one tx id is allocated, both tuples share it, and one
	// change batch of length 2 is published
	store := newTestStore(t)
	ctx := context.Background()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		tx := store.Transactor()
		require.NoError(t, tx.AddAttribute(ctx, "k1", freezer.TypeInteger, false))
		require.NoError(t, tx.AddAttribute(ctx, "k2", freezer.TypeInteger, false))
		return true, nil
	})

	batches, unsub := store.Changes(ctx)
	defer unsub()

	var outerTxID, innerTxID int64
	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		outerTxID = txID
		require.NoError(t, store.Transactor().AddValue(ctx, freezer.Int(1), "k1", "e"))

		err := store.WriteTransaction(ctx, func(ctx context.Context, nestedTxID int64) (bool, error) {
			innerTxID = nestedTxID
			return true, store.Transactor().AddValue(ctx, freezer.Int(2), "k2", "e")
		})
		return true, err
	})

	assert.Equal(t, outerTxID, innerTxID)

	select {
	case batch := <-batches:
		assert.Len(t, batch, 2)
	case <-time.After(time.Second):
		t.Fatal("expected one change batch covering both writes")
	}
}

func TestNestedWriteFailure(t *testing.T) {
	// GIVEN: the same nesting as above
	// WHEN: the inner transaction reports failure
	// THEN: no tx id is persisted, head is unchanged, and no notification fires
	store := newTestStore(t)
	ctx := context.Background()

	writeTx(t, store, func(ctx context.Context, txID int64) (bool, error) {
		tx := store.Transactor()
		require.NoError(t, tx.AddAttribute(ctx, "k1", freezer.TypeInteger, false))
		return true, tx.AddAttribute(ctx, "k2", freezer.TypeInteger, false)
	})
	headBefore := store.CurrentDatabase().HeadID()

	batches, unsub := store.Changes(ctx)
	defer unsub()

	err := store.WriteTransaction(ctx, func(ctx context.Context, txID int64) (bool, error) {
		require.NoError(t, store.Transactor().AddValue(ctx, freezer.Int(1), "k1", "e"))

		innerErr := store.WriteTransaction(ctx, func(ctx context.Context, _ int64) (bool, error) {
			require.NoError(t, store.Transactor().AddValue(ctx, freezer.Int(2), "k2", "e"))
			return false, nil
		})
		return innerErr == nil, innerErr
	})
	require.NoError(t, err)

	assert.Equal(t, headBefore, store.CurrentDatabase().HeadID())

	attrs, err := store.CurrentDatabase().Entity(ctx, "e")
	require.NoError(t, err)
	_, ok := attrs.Get("k1")
	assert.False(t, ok)

	select {
	case <-batches:
		t.Fatal("expected no change batch for a rolled-back transaction")
	default:
	}
}
