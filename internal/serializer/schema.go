// Package serializer implements the schema-directed Value codec of
// spec.md §4.1: a closed grammar of shapes (void, bool, integer, float,
// fixed array, variable-length sequence, record, single-owner reference)
// mapped to a length-prefixed, little-endian wire format.
//
// Grounded on the teacher's database.Value{Type,I64,Str} tagged-value shape
// (refactor_code/internal/database/types.go), generalized from two hardcoded
// wire types (int64, bytes) to the full shape grammar via an explicit Schema
// description object, per spec.md §9's note that implementations may drive
// this "from reflection ... or an explicit schema description object".
package serializer

import "fmt"

// Kind is one of the closed set of shapes a Schema can describe.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindArray  // fixed-size array of N elements
	KindSlice  // variable-length sequence, 8-byte length prefix
	KindRecord // named fields in declaration order
	KindRef    // single-owner reference to one nested value
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindArray:
		return "array"
	case KindSlice:
		return "slice"
	case KindRecord:
		return "record"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Field describes one named member of a KindRecord schema, encoded in
// declaration order.
type Field struct {
	Name   string
	Schema *Schema
}

// Schema is the host-side description of a wire shape. Exactly one of the
// kind-specific fields below is meaningful for a given Kind:
//   - KindInt:    Bits, Signed
//   - KindFloat:  Bits
//   - KindArray:  Count, Elem
//   - KindSlice:  Elem
//   - KindRecord: Fields
//   - KindRef:    Elem
type Schema struct {
	Kind   Kind
	Bits   int // integer/float width in bits
	Signed bool
	Count  int // KindArray: number of elements
	Elem   *Schema
	Fields []Field
	Name   string // diagnostic only, not encoded
}

// Convenience schemas covering the scalar shapes the database's typed
// get/put sugar (database.GetTyped/PutTyped) is built on.
var (
	Void    = &Schema{Kind: KindVoid, Name: "void"}
	Bool    = &Schema{Kind: KindBool, Name: "bool"}
	Int8    = &Schema{Kind: KindInt, Bits: 8, Signed: true, Name: "i8"}
	Int16   = &Schema{Kind: KindInt, Bits: 16, Signed: true, Name: "i16"}
	Int32   = &Schema{Kind: KindInt, Bits: 32, Signed: true, Name: "i32"}
	Int64   = &Schema{Kind: KindInt, Bits: 64, Signed: true, Name: "i64"}
	Uint8   = &Schema{Kind: KindInt, Bits: 8, Signed: false, Name: "u8"}
	Uint16  = &Schema{Kind: KindInt, Bits: 16, Signed: false, Name: "u16"}
	Uint32  = &Schema{Kind: KindInt, Bits: 32, Signed: false, Name: "u32"}
	Uint64  = &Schema{Kind: KindInt, Bits: 64, Signed: false, Name: "u64"}
	Usize   = &Schema{Kind: KindInt, Bits: 64, Signed: false, Name: "usize"} // widened to 64 bits per spec.md §4.1
	Float32 = &Schema{Kind: KindFloat, Bits: 32, Name: "f32"}
	Float64 = &Schema{Kind: KindFloat, Bits: 64, Name: "f64"}
	Bytes   = &Schema{Kind: KindSlice, Elem: Uint8, Name: "bytes"}
	String  = &Schema{Kind: KindSlice, Elem: Uint8, Name: "string"}
)

// Record builds a KindRecord schema from ordered fields.
func Record(name string, fields ...Field) *Schema {
	return &Schema{Kind: KindRecord, Fields: fields, Name: name}
}

// Array builds a fixed-size KindArray schema.
func Array(count int, elem *Schema) *Schema {
	return &Schema{Kind: KindArray, Count: count, Elem: elem}
}

// Slice builds a variable-length KindSlice schema.
func Slice(elem *Schema) *Schema {
	return &Schema{Kind: KindSlice, Elem: elem}
}

// Ref builds a single-owner KindRef schema.
func Ref(elem *Schema) *Schema {
	return &Schema{Kind: KindRef, Elem: elem}
}

func (s *Schema) String() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind {
	case KindArray:
		return fmt.Sprintf("[%d]%s", s.Count, s.Elem)
	case KindSlice:
		return fmt.Sprintf("[]%s", s.Elem)
	case KindRef:
		return fmt.Sprintf("*%s", s.Elem)
	case KindRecord:
		return fmt.Sprintf("record(%d fields)", len(s.Fields))
	default:
		return s.Kind.String()
	}
}
