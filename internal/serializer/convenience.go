package serializer

// Scalar convenience wrappers layered over the general schema-directed codec
// (SPEC_FULL.md §C.3). database.GetTyped/PutTyped do not use them; they call
// Decode/Encode with a schema directly.

func EncodeI32(v int32) []byte {
	b, _ := Encode(Int32, int64(v))
	return b
}

func DecodeI32(b []byte) (int32, error) {
	val, _, err := Decode(Int32, b)
	if err != nil {
		return 0, err
	}
	return int32(val.Data.(int64)), nil
}

func EncodeI64(v int64) []byte {
	b, _ := Encode(Int64, v)
	return b
}

func DecodeI64(b []byte) (int64, error) {
	val, _, err := Decode(Int64, b)
	if err != nil {
		return 0, err
	}
	return val.Data.(int64), nil
}

func EncodeF64(v float64) []byte {
	b, _ := Encode(Float64, v)
	return b
}

func DecodeF64(b []byte) (float64, error) {
	val, _, err := Decode(Float64, b)
	if err != nil {
		return 0, err
	}
	return val.Data.(float64), nil
}

func EncodeBytes(v []byte) []byte {
	b, _ := Encode(Bytes, v)
	return b
}

func DecodeBytes(b []byte) ([]byte, error) {
	val, _, err := Decode(Bytes, b)
	if err != nil {
		return nil, err
	}
	return val.Data.([]byte), nil
}
