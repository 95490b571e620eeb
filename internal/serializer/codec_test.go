package serializer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/govetachun/shimmer/internal/serializer"
)

func TestScalarRoundTrip(t *testing.T) {
	require.Equal(t, []byte{42, 0, 0, 0}, serializer.EncodeI32(42))

	got, err := serializer.DecodeI32(serializer.EncodeI32(-7))
	require.NoError(t, err)
	require.Equal(t, int32(-7), got)

	i64, err := serializer.DecodeI64(serializer.EncodeI64(1<<40 + 3))
	require.NoError(t, err)
	require.Equal(t, int64(1<<40+3), i64)

	f, err := serializer.DecodeF64(serializer.EncodeF64(3.14159))
	require.NoError(t, err)
	require.InDelta(t, 3.14159, f, 1e-12)

	b, err := serializer.DecodeBytes(serializer.EncodeBytes([]byte("hello")))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)
}

func TestBoolAndVoid(t *testing.T) {
	enc, err := serializer.Encode(serializer.Bool, true)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, enc)

	dec, _, err := serializer.Decode(serializer.Bool, enc)
	require.NoError(t, err)
	require.Equal(t, true, dec.Data)

	enc, err = serializer.Encode(serializer.Void, nil)
	require.NoError(t, err)
	require.Empty(t, enc)
}

func TestFixedArray(t *testing.T) {
	schema := serializer.Array(3, serializer.Int32)
	enc, err := serializer.Encode(schema, []any{int32(1), int32(2), int32(3)})
	require.NoError(t, err)
	require.Len(t, enc, 12)

	dec, n, err := serializer.Decode(schema, enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, dec.Data)
}

func TestArrayWrongLength(t *testing.T) {
	schema := serializer.Array(3, serializer.Int32)
	_, err := serializer.Encode(schema, []any{int32(1), int32(2)})
	require.Error(t, err)
}

func TestVariableSlice(t *testing.T) {
	schema := serializer.Slice(serializer.Int64)
	enc, err := serializer.Encode(schema, []any{int64(10), int64(20), int64(30)})
	require.NoError(t, err)

	dec, _, err := serializer.Decode(schema, enc)
	require.NoError(t, err)
	require.Equal(t, []any{int64(10), int64(20), int64(30)}, dec.Data)
}

func TestRecord(t *testing.T) {
	schema := serializer.Record("point",
		serializer.Field{Name: "x", Schema: serializer.Int32},
		serializer.Field{Name: "y", Schema: serializer.Int32},
		serializer.Field{Name: "label", Schema: serializer.Bytes},
	)
	enc, err := serializer.Encode(schema, []any{int32(3), int32(4), []byte("p")})
	require.NoError(t, err)

	dec, n, err := serializer.Decode(schema, enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	got := dec.Data.([]any)
	require.Equal(t, int64(3), got[0])
	require.Equal(t, int64(4), got[1])
	require.Equal(t, []byte("p"), got[2])
}

func TestDecodeWrongSchemaDoesNotCorruptMemory(t *testing.T) {
	// Encoding produced for one schema decoded under a structurally
	// incompatible schema must fail cleanly, never panic.
	enc := serializer.EncodeBytes([]byte("x"))
	_, _, err := serializer.Decode(serializer.Record("r",
		serializer.Field{Name: "a", Schema: serializer.Int64},
		serializer.Field{Name: "b", Schema: serializer.Int64},
		serializer.Field{Name: "c", Schema: serializer.Int64},
	), enc)
	require.Error(t, err)
}

func TestFloat32RoundTrip(t *testing.T) {
	enc, err := serializer.Encode(serializer.Float32, float32(1.5))
	require.NoError(t, err)
	dec, _, err := serializer.Decode(serializer.Float32, enc)
	require.NoError(t, err)
	require.InDelta(t, 1.5, dec.Data.(float64), 1e-6)
}

func TestValueReleaseIsNoop(t *testing.T) {
	dec, _, err := serializer.Decode(serializer.Bytes, serializer.EncodeBytes([]byte("owned")))
	require.NoError(t, err)
	dec.Release()
	require.Equal(t, []byte("owned"), dec.Data)
}
