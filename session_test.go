package freezer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteInsideReadIsRejected(t *testing.T) {
	// GIVEN: an open read transaction
	// WHEN: it tries to open a write transaction
	// THEN: NestingError is returned without running the write's callback
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ran := false
	err = store.ReadTransaction(context.Background(), func(ctx context.Context, db Database) error {
		return store.WriteTransaction(ctx, func(ctx context.Context, txID int64) (bool, error) {
			ran = true
			return true, nil
		})
	})

	var nestingErr *NestingError
	assert.ErrorAs(t, err, &nestingErr)
	assert.False(t, ran)
}

func TestReadSnapshotIsStableAcrossALaterCommit(t *testing.T) {
	// GIVEN: a store with alice.age == 1
	// WHEN: a read transaction takes a snapshot, then a separate write
	// transaction commits alice.age == 2
	// THEN: the read transaction's snapshot still reports 1
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.WriteTransaction(context.Background(), func(ctx context.Context, txID int64) (bool, error) {
		tx := store.Transactor()
		require.NoError(t, tx.AddAttribute(ctx, "age", TypeInteger, false))
		return true, tx.AddValue(ctx, Int(1), "age", "alice")
	}))

	err = store.ReadTransaction(context.Background(), func(ctx context.Context, db Database) error {
		require.NoError(t, store.WriteTransaction(context.Background(), func(ctx context.Context, txID int64) (bool, error) {
			return true, store.Transactor().AddValue(ctx, Int(2), "age", "alice")
		}))

		attrs, err := db.Entity(ctx, "alice")
		require.NoError(t, err)
		v, ok := attrs.Get("age")
		require.True(t, ok)
		n, _ := v.Int()
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	attrs, err := store.CurrentDatabase().Entity(context.Background(), "alice")
	require.NoError(t, err)
	v, _ := attrs.Get("age")
	n, _ := v.Int()
	assert.Equal(t, int64(2), n)
}

func TestUndefinedAttributeIsRejected(t *testing.T) {
	// GIVEN: an attribute that was never declared
	// WHEN: writing to it
	// THEN: UndefinedAttributeError is returned
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.WriteTransaction(context.Background(), func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddValue(ctx, Int(1), "ghost", "alice")
	})

	var undef *UndefinedAttributeError
	assert.ErrorAs(t, err, &undef)
}

func TestSchemaConflictIsRejected(t *testing.T) {
	// GIVEN: age declared as integer/scalar
	// WHEN: redeclaring it as string/scalar
	// THEN: SchemaConflictError is returned, and redeclaring identically is
	// a no-op
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.WriteTransaction(context.Background(), func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddAttribute(ctx, "age", TypeInteger, false)
	}))

	err = store.WriteTransaction(context.Background(), func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddAttribute(ctx, "age", TypeString, false)
	})
	var conflict *SchemaConflictError
	assert.ErrorAs(t, err, &conflict)

	require.NoError(t, store.WriteTransaction(context.Background(), func(ctx context.Context, txID int64) (bool, error) {
		return true, store.Transactor().AddAttribute(ctx, "age", TypeInteger, false)
	}))
}
