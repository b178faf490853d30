package freezer

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ValueType identifies the declared type of an attribute, and the runtime
// type tag carried by every encoded tuple value's on-disk format.
type ValueType byte

const (
	// typeNull is not a declarable attribute type; it is the wire tag for
	// the tombstone written by RemoveValue.
	typeNull ValueType = 0

	TypeInteger   ValueType = 1
	TypeDouble    ValueType = 2
	TypeString    ValueType = 3
	TypeBlob      ValueType = 4
	TypeDate      ValueType = 5
	TypeReference ValueType = 6
)

func (t ValueType) String() string {
	switch t {
	case typeNull:
		return "null"
	case TypeInteger:
		return "integer"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBlob:
		return "blob"
	case TypeDate:
		return "date"
	case TypeReference:
		return "reference"
	default:
		return fmt.Sprintf("valuetype(%d)", byte(t))
	}
}

// Value is a self-describing attribute value: one of integer, double,
// string, blob, date, or reference. The zero Value is the null marker
// used internally for removals; it is never a valid attribute value on
// the public surface.
type Value struct {
	typ ValueType
	i   int64
	f   float64
	s   string
	b   []byte
	t   time.Time
}

// Int returns an integer-typed Value.
func Int(v int64) Value { return Value{typ: TypeInteger, i: v} }

// Double returns a double-typed Value.
func Double(v float64) Value { return Value{typ: TypeDouble, f: v} }

// Str returns a string-typed Value.
func Str(s string) Value { return Value{typ: TypeString, s: s} }

// Blob returns a blob-typed Value. The byte slice is retained, not copied.
func Blob(b []byte) Value { return Value{typ: TypeBlob, b: b} }

// Date returns a date-typed Value, truncated to whole seconds.
func Date(t time.Time) Value { return Value{typ: TypeDate, t: t.UTC().Truncate(time.Second)} }

// Ref returns a reference-typed Value pointing at another entity id.
func Ref(entity string) Value { return Value{typ: TypeReference, s: entity} }

func nullValue() Value { return Value{typ: typeNull} }

// Type reports the value's wire type tag.
func (v Value) Type() ValueType { return v.typ }

// IsNull reports whether this is the internal tombstone marker.
func (v Value) IsNull() bool { return v.typ == typeNull }

// Int returns the integer payload, or ok=false if v is not integer-typed.
func (v Value) Int() (int64, bool) {
	if v.typ != TypeInteger {
		return 0, false
	}
	return v.i, true
}

// Double returns the double payload, or ok=false if v is not double-typed.
func (v Value) Double() (float64, bool) {
	if v.typ != TypeDouble {
		return 0, false
	}
	return v.f, true
}

// String returns the string payload, or ok=false if v is not string-typed.
func (v Value) String() (string, bool) {
	if v.typ != TypeString {
		return "", false
	}
	return v.s, true
}

// Blob returns the blob payload, or ok=false if v is not blob-typed.
func (v Value) Blob() ([]byte, bool) {
	if v.typ != TypeBlob {
		return nil, false
	}
	return v.b, true
}

// Date returns the date payload, or ok=false if v is not date-typed.
func (v Value) Date() (time.Time, bool) {
	if v.typ != TypeDate {
		return time.Time{}, false
	}
	return v.t, true
}

// Reference returns the referenced entity id, or ok=false if v is not
// reference-typed.
func (v Value) Reference() (string, bool) {
	if v.typ != TypeReference {
		return "", false
	}
	return v.s, true
}

// Equal reports whether two values have the same type and payload. Used
// for collection idempotence.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeInteger:
		return v.i == o.i
	case TypeDouble:
		return v.f == o.f
	case TypeString, TypeReference:
		return v.s == o.s
	case TypeBlob:
		return string(v.b) == string(o.b)
	case TypeDate:
		return v.t.Equal(o.t)
	default:
		return true // typeNull == typeNull
	}
}

// encode produces the fixed, versioned byte layout: a one-byte type tag
// followed by the canonical encoding for that tag.
func encode(v Value) ([]byte, error) {
	switch v.typ {
	case typeNull:
		return []byte{byte(typeNull)}, nil
	case TypeInteger:
		buf := make([]byte, 9)
		buf[0] = byte(TypeInteger)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.i))
		return buf, nil
	case TypeDouble:
		buf := make([]byte, 9)
		buf[0] = byte(TypeDouble)
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.f))
		return buf, nil
	case TypeString:
		buf := make([]byte, 1+len(v.s))
		buf[0] = byte(TypeString)
		copy(buf[1:], v.s)
		return buf, nil
	case TypeBlob:
		buf := make([]byte, 1+len(v.b))
		buf[0] = byte(TypeBlob)
		copy(buf[1:], v.b)
		return buf, nil
	case TypeDate:
		buf := make([]byte, 9)
		buf[0] = byte(TypeDate)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.t.Unix()))
		return buf, nil
	case TypeReference:
		buf := make([]byte, 1+len(v.s))
		buf[0] = byte(TypeReference)
		copy(buf[1:], v.s)
		return buf, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown value type %d", v.typ)}
	}
}

// decode parses the byte layout produced by encode back into a Value.
func decode(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return Value{}, &DecodeError{Reason: "empty blob"}
	}
	tag := ValueType(buf[0])
	payload := buf[1:]
	switch tag {
	case typeNull:
		return nullValue(), nil
	case TypeInteger:
		if len(payload) != 8 {
			return Value{}, &DecodeError{Reason: "integer payload must be 8 bytes"}
		}
		return Int(int64(binary.LittleEndian.Uint64(payload))), nil
	case TypeDouble:
		if len(payload) != 8 {
			return Value{}, &DecodeError{Reason: "double payload must be 8 bytes"}
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(payload))), nil
	case TypeString:
		return Str(string(payload)), nil
	case TypeBlob:
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return Blob(cp), nil
	case TypeDate:
		if len(payload) != 8 {
			return Value{}, &DecodeError{Reason: "date payload must be 8 bytes"}
		}
		sec := int64(binary.LittleEndian.Uint64(payload))
		return Date(time.Unix(sec, 0)), nil
	case TypeReference:
		return Ref(string(payload)), nil
	default:
		return Value{}, &DecodeError{Reason: fmt.Sprintf("unknown tag %d", tag)}
	}
}

// canonicalKeyPart returns a collision-resistant, order-stable encoding of
// v suitable for appending to an attribute name to address one element of
// a collection. It is the hex encoding of the wire format, not meant to
// be human readable.
func canonicalKeyPart(v Value) (string, error) {
	buf, err := encode(v)
	if err != nil {
		return "", err
	}
	const hextable = "0123456789abcdef"
	out := make([]byte, len(buf)*2)
	for i, b := range buf {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out), nil
}
