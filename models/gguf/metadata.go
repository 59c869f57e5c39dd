package gguf

import "reflect"

// ggufValueType represents the type tag of a GGUF metadata value in the binary format.
type ggufValueType uint32

const (
	valueTypeUint8   ggufValueType = 0
	valueTypeInt8    ggufValueType = 1
	valueTypeUint16  ggufValueType = 2
	valueTypeInt16   ggufValueType = 3
	valueTypeUint32  ggufValueType = 4
	valueTypeInt32   ggufValueType = 5
	valueTypeFloat32 ggufValueType = 6
	valueTypeBool    ggufValueType = 7
	valueTypeString  ggufValueType = 8
	valueTypeArray   ggufValueType = 9
	valueTypeUint64  ggufValueType = 10
	valueTypeInt64   ggufValueType = 11
	valueTypeFloat64 ggufValueType = 12
)

// KeyValue represents a metadata key-value pair from a GGUF file.
type KeyValue struct {
	Key string
	Value
}

// Value wraps a GGUF metadata value with typed accessors.
// Accessors return zero values when the underlying type doesn't match,
// rather than returning errors.
type Value struct {
	data any
}

// Raw returns the underlying value without type conversion.
func (v Value) Raw() any {
	return v.data
}

// String returns the value as a string, or "" if it is not a string.
func (v Value) String() string {
	s, _ := v.data.(string)
	return s
}

// Strings returns the value as a string slice, or nil if it is not one.
func (v Value) Strings() []string {
	s, _ := v.data.([]string)
	return s
}

// Int returns the value as an int64, for any integer type, and whether it is an integer.
func (v Value) Int() (int64, bool) {
	return toInt64(reflect.ValueOf(v.data))
}

func toInt64(rv reflect.Value) (int64, bool) {
	switch {
	case !rv.IsValid():
		return 0, false
	case rv.CanInt():
		return rv.Int(), true
	case rv.CanUint():
		return int64(rv.Uint()), true
	}
	return 0, false
}

// Bool returns the value as a bool, and whether it is a bool.
func (v Value) Bool() (value, ok bool) {
	value, ok = v.data.(bool)
	return
}

// Floats returns the value as a float32 slice, or nil if it is not a float array.
func (v Value) Floats() []float32 {
	switch s := v.data.(type) {
	case []float32:
		return s
	case []float64:
		out := make([]float32, len(s))
		for i, f := range s {
			out[i] = float32(f)
		}
		return out
	}
	return nil
}

// Ints returns the value as an int64 slice, or nil if it is not an integer array.
func (v Value) Ints() []int64 {
	if s, ok := v.data.([]int64); ok {
		return s
	}
	rv := reflect.ValueOf(v.data)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil
	}
	out := make([]int64, rv.Len())
	for i := range out {
		n, ok := toInt64(rv.Index(i))
		if !ok {
			return nil
		}
		out[i] = n
	}
	return out
}

// Bytes returns the value as a byte slice, or nil if it is not a uint8 or int8 array.
func (v Value) Bytes() []byte {
	switch s := v.data.(type) {
	case []uint8:
		return s
	case []int8:
		out := make([]byte, len(s))
		for i, b := range s {
			out[i] = byte(b)
		}
		return out
	}
	return nil
}
