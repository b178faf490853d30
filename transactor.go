/*
transactor.go implements the mutating surface offered to a callback
running inside Store.WriteTransaction: declaring attribute schema,
writing a value, removing one, and minting a fresh entity identifier.
Every method here requires an open write session and returns NestingError
if called outside one - it reads the pending transaction id and writer
straight off the context the coordinator attached.
*/
package freezer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freezerdb/freezer/internal/tuplelog"
)

// Transactor is the mutating API surface of an open write transaction.
type Transactor struct {
	logger zerolog.Logger
}

// GenerateNewKey mints a fresh, globally unique entity identifier.
func (t *Transactor) GenerateNewKey() string {
	return uuid.New().String()
}

// AddAttribute declares attribute's type and cardinality. Re-declaring an
// attribute with the same type and cardinality is a no-op; re-declaring
// it with a different one is a SchemaConflictError.
func (t *Transactor) AddAttribute(ctx context.Context, attribute string, typ ValueType, collection bool) error {
	w, txID, err := writerFromContext(ctx)
	if err != nil {
		return err
	}

	want := AttributeDef{Type: typ, Collection: collection}
	existing, ok, err := lookupDef(ctx, w, attribute, txID)
	if err != nil {
		return err
	}
	if ok {
		if sameDef(existing, want) {
			return nil
		}
		return &SchemaConflictError{Attribute: attribute, Existing: existing, Requested: want}
	}

	collInt := int64(0)
	if collection {
		collInt = 1
	}
	if err := appendValueTuple(ctx, w, txID, attribute, attrDefType, Int(int64(typ))); err != nil {
		return err
	}
	if err := appendValueTuple(ctx, w, txID, attribute, attrDefCollection, Int(collInt)); err != nil {
		return err
	}
	t.logger.Debug().Str("attribute", attribute).Str("type", typ.String()).Bool("collection", collection).Msg("attribute declared")
	return nil
}

// AddValue writes value for attribute on entity. For a scalar attribute
// this replaces whatever was last written; for a collection attribute it
// adds (or idempotently re-adds) one element.
func (t *Transactor) AddValue(ctx context.Context, value Value, attribute, entity string) error {
	w, txID, err := writerFromContext(ctx)
	if err != nil {
		return err
	}

	def, ok, err := lookupDef(ctx, w, attribute, txID)
	if err != nil {
		return err
	}
	if !ok {
		return &UndefinedAttributeError{Attribute: attribute}
	}
	if value.Type() != def.Type {
		return &TypeMismatchError{Attribute: attribute, Declared: def.Type, Got: value.Type()}
	}

	key, err := attributeKey(attribute, def, value)
	if err != nil {
		return err
	}
	if err := appendValueTuple(ctx, w, txID, entity, key, value); err != nil {
		return err
	}
	queueChange(ctx, pendingChange{Type: ChangeAdd, EntityID: entity, Attribute: attribute, Delta: value})
	return nil
}

// RemoveValue deletes attribute's value on entity. Collection attributes
// require exactly one value identifying the element to remove; scalar
// attributes take none.
func (t *Transactor) RemoveValue(ctx context.Context, attribute, entity string, value ...Value) error {
	w, txID, err := writerFromContext(ctx)
	if err != nil {
		return err
	}

	def, ok, err := lookupDef(ctx, w, attribute, txID)
	if err != nil {
		return err
	}
	if !ok {
		return &UndefinedAttributeError{Attribute: attribute}
	}

	var target Value
	switch {
	case def.Collection && len(value) == 1:
		target = value[0]
	case def.Collection:
		return &InvalidRemovalError{Attribute: attribute, Reason: "collection attributes require exactly one value to identify the element to remove"}
	case len(value) == 0:
		target = nullValue()
	default:
		return &InvalidRemovalError{Attribute: attribute, Reason: "scalar attributes take no value when removing"}
	}

	key, err := attributeKey(attribute, def, target)
	if err != nil {
		return err
	}
	if err := appendValueTuple(ctx, w, txID, entity, key, nullValue()); err != nil {
		return err
	}
	queueChange(ctx, pendingChange{Type: ChangeRemove, EntityID: entity, Attribute: attribute, Delta: target})
	return nil
}

// insertNewTransaction records bookkeeping for a newly committed
// transaction: a <tx:N> entity carrying its commit timestamp.
func (t *Transactor) insertNewTransaction(ctx context.Context, w tuplelog.Execer, txID int64) error {
	return appendValueTuple(ctx, w, txID, txEntityID(txID), attrTxDate, Date(nowFunc()))
}

// updateHead advances the store's head pointer tuple to txID.
func (t *Transactor) updateHead(ctx context.Context, w tuplelog.Execer, txID int64) error {
	return appendValueTuple(ctx, w, txID, headEntity, headKey, Int(txID))
}

func txEntityID(txID int64) string { return fmt.Sprintf("<tx:%d>", txID) }

// lookupDef resolves attribute's declared type and cardinality as of
// head, reading through w so a definition written earlier in the same
// open write transaction is visible immediately.
func lookupDef(ctx context.Context, w tuplelog.Execer, attribute string, head int64) (AttributeDef, bool, error) {
	typeTuple, ok, err := tuplelog.LatestFor(ctx, w, attribute, attrDefType, head)
	if err != nil {
		return AttributeDef{}, false, storageErrorf("lookup attribute type", err)
	}
	if !ok {
		return AttributeDef{}, false, nil
	}
	typeVal, err := decode(typeTuple.Value)
	if err != nil {
		return AttributeDef{}, false, err
	}
	if typeVal.IsNull() {
		return AttributeDef{}, false, nil
	}
	rawType, _ := typeVal.Int()

	collection := false
	collTuple, ok, err := tuplelog.LatestFor(ctx, w, attribute, attrDefCollection, head)
	if err != nil {
		return AttributeDef{}, false, storageErrorf("lookup attribute collection", err)
	}
	if ok {
		collVal, err := decode(collTuple.Value)
		if err != nil {
			return AttributeDef{}, false, err
		}
		if n, ok := collVal.Int(); ok {
			collection = n != 0
		}
	}
	return AttributeDef{Type: ValueType(rawType), Collection: collection}, true, nil
}

func appendValueTuple(ctx context.Context, w tuplelog.Execer, txID int64, entity, key string, v Value) error {
	buf, err := encode(v)
	if err != nil {
		return err
	}
	if _, err := tuplelog.Append(ctx, w, entity, key, buf, txID); err != nil {
		return storageErrorf("append tuple", err)
	}
	return nil
}
