package serializer

import (
	"encoding/binary"
	"fmt"
	"math"

	serr "github.com/govetachun/shimmer/internal/errors"
)

// Encode produces the wire bytes for v under schema. v's Go representation
// must match the shape grammar:
//
//	void    -> nil
//	bool    -> bool
//	int     -> any Go integer type (widened/narrowed to schema.Bits)
//	float   -> float32 or float64
//	array   -> []any of length schema.Count
//	slice   -> []byte when schema.Elem is u8, else []any
//	record  -> []any of length len(schema.Fields), in field order
//	ref     -> the referent's own representation (schema.Elem's shape)
func Encode(schema *Schema, v any) ([]byte, error) {
	var buf []byte
	if err := encodeInto(&buf, schema, v); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeInto(buf *[]byte, schema *Schema, v any) error {
	switch schema.Kind {
	case KindVoid:
		return nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return typeErr(schema, v)
		}
		if b {
			*buf = append(*buf, 1)
		} else {
			*buf = append(*buf, 0)
		}
		return nil

	case KindInt:
		u, signed, err := toUint64(v)
		if err != nil {
			return typeErr(schema, v)
		}
		_ = signed
		return appendIntBits(buf, u, schema.Bits)

	case KindFloat:
		f, err := toFloat64(v)
		if err != nil {
			return typeErr(schema, v)
		}
		return appendFloatBits(buf, f, schema.Bits)

	case KindArray:
		elems, err := toSlice(v)
		if err != nil {
			return typeErr(schema, v)
		}
		if len(elems) != schema.Count {
			return serr.New(serr.CodeInvalidSize,
				fmt.Sprintf("array schema expects %d elements, got %d", schema.Count, len(elems)))
		}
		for _, e := range elems {
			if err := encodeInto(buf, schema.Elem, e); err != nil {
				return err
			}
		}
		return nil

	case KindSlice:
		if isByteElem(schema.Elem) {
			b, err := toBytes(v)
			if err != nil {
				return typeErr(schema, v)
			}
			appendU64(buf, uint64(len(b)))
			*buf = append(*buf, b...)
			return nil
		}
		elems, err := toSlice(v)
		if err != nil {
			return typeErr(schema, v)
		}
		appendU64(buf, uint64(len(elems)))
		for _, e := range elems {
			if err := encodeInto(buf, schema.Elem, e); err != nil {
				return err
			}
		}
		return nil

	case KindRecord:
		elems, err := toSlice(v)
		if err != nil {
			return typeErr(schema, v)
		}
		if len(elems) != len(schema.Fields) {
			return serr.New(serr.CodeInvalidSize,
				fmt.Sprintf("record %s expects %d fields, got %d", schema, len(schema.Fields), len(elems)))
		}
		for i, f := range schema.Fields {
			if err := encodeInto(buf, f.Schema, elems[i]); err != nil {
				return err
			}
		}
		return nil

	case KindRef:
		return encodeInto(buf, schema.Elem, v)

	default:
		return serr.New(serr.CodeInvalidDataType, fmt.Sprintf("unsupported schema kind %v", schema.Kind))
	}
}

// Value is the result of a Decode call. Release is a no-op in Go (the
// runtime's GC reclaims the backing buffers once Value drops out of scope);
// it is kept to preserve the explicit-release contract of spec.md §3's
// "Serialized Value" owning semantics for callers migrating from manual
// memory management.
type Value struct {
	Schema *Schema
	Data   any
}

// Release is a no-op; present for API parity with spec.md's explicit-release
// ownership contract. Go's garbage collector owns the buffers instead.
func (Value) Release() {}

// Decode parses bytes under schema and returns the decoded value plus the
// number of bytes consumed (callers decoding a prefix of a larger buffer,
// e.g. record fields, need this; top-level callers can ignore it).
func Decode(schema *Schema, data []byte) (Value, int, error) {
	v, n, err := decodeAt(schema, data)
	if err != nil {
		return Value{}, 0, err
	}
	return Value{Schema: schema, Data: v}, n, nil
}

func decodeAt(schema *Schema, data []byte) (any, int, error) {
	switch schema.Kind {
	case KindVoid:
		return nil, 0, nil

	case KindBool:
		if len(data) < 1 {
			return nil, 0, shortRead(schema, 1, len(data))
		}
		return data[0] != 0, 1, nil

	case KindInt:
		n := schema.Bits / 8
		if len(data) < n {
			return nil, 0, shortRead(schema, n, len(data))
		}
		u := readIntBits(data[:n], schema.Bits)
		if schema.Signed {
			return signExtend(u, schema.Bits), n, nil
		}
		return u, n, nil

	case KindFloat:
		n := schema.Bits / 8
		if len(data) < n {
			return nil, 0, shortRead(schema, n, len(data))
		}
		f, err := readFloatBits(data[:n], schema.Bits)
		if err != nil {
			return nil, 0, err
		}
		return f, n, nil

	case KindArray:
		out := make([]any, 0, schema.Count)
		pos := 0
		for i := 0; i < schema.Count; i++ {
			v, n, err := decodeAt(schema.Elem, data[pos:])
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
			pos += n
		}
		return out, pos, nil

	case KindSlice:
		if len(data) < 8 {
			return nil, 0, shortRead(schema, 8, len(data))
		}
		length := binary.LittleEndian.Uint64(data[:8])
		pos := 8
		if isByteElem(schema.Elem) {
			end := pos + int(length)
			if len(data) < end {
				return nil, 0, shortRead(schema, end, len(data))
			}
			out := make([]byte, length)
			copy(out, data[pos:end])
			return out, end, nil
		}
		out := make([]any, 0, length)
		for i := uint64(0); i < length; i++ {
			v, n, err := decodeAt(schema.Elem, data[pos:])
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
			pos += n
		}
		return out, pos, nil

	case KindRecord:
		out := make([]any, 0, len(schema.Fields))
		pos := 0
		for _, f := range schema.Fields {
			v, n, err := decodeAt(f.Schema, data[pos:])
			if err != nil {
				return nil, 0, err
			}
			out = append(out, v)
			pos += n
		}
		return out, pos, nil

	case KindRef:
		return decodeAt(schema.Elem, data)

	default:
		return nil, 0, serr.New(serr.CodeInvalidDataType, fmt.Sprintf("unsupported schema kind %v", schema.Kind))
	}
}

func shortRead(schema *Schema, want, got int) error {
	return serr.New(serr.CodeInvalidSize,
		fmt.Sprintf("decoding %s: need %d bytes, have %d", schema, want, got))
}

func typeErr(schema *Schema, v any) error {
	return serr.New(serr.CodeInvalidDataType, fmt.Sprintf("value %v (%T) does not match schema %s", v, v, schema))
}

func isByteElem(elem *Schema) bool {
	return elem != nil && elem.Kind == KindInt && elem.Bits == 8 && !elem.Signed
}

// --- scalar bit-packing -------------------------------------------------

func appendIntBits(buf *[]byte, u uint64, bits int) error {
	switch bits {
	case 8:
		*buf = append(*buf, byte(u))
	case 16:
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(u))
		*buf = append(*buf, tmp[:]...)
	case 32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(u))
		*buf = append(*buf, tmp[:]...)
	case 64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], u)
		*buf = append(*buf, tmp[:]...)
	default:
		return serr.New(serr.CodeInvalidDataType, fmt.Sprintf("unsupported integer width %d", bits))
	}
	return nil
}

func readIntBits(data []byte, bits int) uint64 {
	switch bits {
	case 8:
		return uint64(data[0])
	case 16:
		return uint64(binary.LittleEndian.Uint16(data))
	case 32:
		return uint64(binary.LittleEndian.Uint32(data))
	case 64:
		return binary.LittleEndian.Uint64(data)
	default:
		return 0
	}
}

func signExtend(u uint64, bits int) int64 {
	shift := 64 - bits
	return int64(u<<shift) >> shift
}

// appendFloatBits writes the IEEE-754 bit pattern of f as an unsigned
// integer of the given width, little-endian, per spec.md §4.1. Go has no
// native 80/128-bit float type; those widths are carried as a 64-bit
// double's bit pattern zero-extended into the wider field (documented
// simplification — no example repo in this corpus produces real 80/128-bit
// floats either).
func appendFloatBits(buf *[]byte, f float64, bits int) error {
	switch bits {
	case 16:
		return appendIntBits(buf, uint64(float32ToFloat16(float32(f))), 16)
	case 32:
		return appendIntBits(buf, uint64(math.Float32bits(float32(f))), 32)
	case 64:
		return appendIntBits(buf, math.Float64bits(f), 64)
	case 80, 128:
		// zero-extend the 64-bit pattern into the wider field
		bits64 := math.Float64bits(f)
		n := bits / 8
		tmp := make([]byte, n)
		binary.LittleEndian.PutUint64(tmp[:8], bits64)
		*buf = append(*buf, tmp...)
		return nil
	default:
		return serr.New(serr.CodeInvalidDataType, fmt.Sprintf("unsupported float width %d", bits))
	}
}

func readFloatBits(data []byte, bits int) (float64, error) {
	switch bits {
	case 16:
		return float64(float16ToFloat32(uint16(readIntBits(data, 16)))), nil
	case 32:
		return float64(math.Float32frombits(uint32(readIntBits(data, 32)))), nil
	case 64:
		return math.Float64frombits(readIntBits(data, 64)), nil
	case 80, 128:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[:8])), nil
	default:
		return 0, serr.New(serr.CodeInvalidDataType, fmt.Sprintf("unsupported float width %d", bits))
	}
}

// float32ToFloat16/float16ToFloat32 implement IEEE 754 half precision
// conversion without assuming a stdlib helper is available.
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		return sign | uint16(exp)<<10 | uint16(mant>>13)
	}
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)
	switch {
	case exp == 0:
		return math.Float32frombits(sign)
	case exp == 0x1f:
		if mant != 0 {
			return math.Float32frombits(sign | 0x7f800000 | mant<<13)
		}
		return math.Float32frombits(sign | 0x7f800000)
	default:
		return math.Float32frombits(sign | (exp-15+127)<<23 | mant<<13)
	}
}

func appendU64(buf *[]byte, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	*buf = append(*buf, tmp[:]...)
}

// --- input coercion ------------------------------------------------------

func toUint64(v any) (uint64, bool, error) {
	switch x := v.(type) {
	case int:
		return uint64(x), true, nil
	case int8:
		return uint64(x), true, nil
	case int16:
		return uint64(x), true, nil
	case int32:
		return uint64(x), true, nil
	case int64:
		return uint64(x), true, nil
	case uint:
		return uint64(x), false, nil
	case uint8:
		return uint64(x), false, nil
	case uint16:
		return uint64(x), false, nil
	case uint32:
		return uint64(x), false, nil
	case uint64:
		return x, false, nil
	default:
		return 0, false, fmt.Errorf("not an integer: %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("not a float: %T", v)
	}
}

func toSlice(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []byte:
		out := make([]any, len(x))
		for i, b := range x {
			out[i] = b
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a sequence: %T", v)
	}
}

func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case []any:
		out := make([]byte, len(x))
		for i, e := range x {
			u, _, err := toUint64(e)
			if err != nil {
				return nil, err
			}
			out[i] = byte(u)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not bytes: %T", v)
	}
}
