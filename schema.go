package freezer

// Well-known entity identifiers and attribute names.
const (
	headEntity = "head"
	headKey    = "Freezer/db/head"

	attrTxDate = "Freezer/tx/date"

	attrDefType       = "Freezer/attr/type"
	attrDefCollection = "Freezer/attr/collection"
)

// AttributeDef describes the declared shape of a user attribute: its
// value type and whether it holds one value (scalar, last-writer-wins)
// or a set of values (collection, accumulating).
type AttributeDef struct {
	Type       ValueType
	Collection bool
}

func sameDef(a, b AttributeDef) bool {
	return a.Type == b.Type && a.Collection == b.Collection
}

// attributeKey returns the tuple-log key for writing or reading one
// element of attribute. For scalars the key is the attribute name
// itself; for collections it is the attribute name plus a per-value
// suffix, so that each element is an independent last-writer-wins slot
// resolved by the same Latest-for primitive.
func attributeKey(attribute string, def AttributeDef, value Value) (string, error) {
	if !def.Collection {
		return attribute, nil
	}
	part, err := canonicalKeyPart(value)
	if err != nil {
		return "", err
	}
	return attribute + "\x00" + part, nil
}
