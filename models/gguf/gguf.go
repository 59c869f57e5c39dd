// Package gguf reads the metadata of GGUF model files, where llama.cpp stores the tokenizer of a
// model, and converts SentencePiece tokenizers found there into model descriptors.
//
// Only the header and the key-value section are read; tensor infos and tensor data are ignored.
package gguf

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	ggufMagic           = "GGUF"
	minSupportedVersion = 2

	// maxStringLen bounds a single metadata string.
	maxStringLen = 1 << 20

	// maxArrayLen bounds the number of elements of a metadata array.
	maxArrayLen = 1 << 24
)

// Metadata holds the key-value pairs of a GGUF file header. Create one with ReadMetadata or
// OpenMetadata.
type Metadata struct {
	// Version is the GGUF format version (2 or 3).
	Version uint32
	// KeyValues holds all metadata key-value pairs, in file order.
	KeyValues []KeyValue

	byKey map[string]int
}

// OpenMetadata reads the metadata of the GGUF file at path.
func OpenMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "gguf: can't open %q: %v", path, err)
	}
	defer f.Close()
	md, err := ReadMetadata(bufio.NewReader(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", path)
	}
	klog.V(1).Infof("Read GGUF v%d metadata from %q: %d keys", md.Version, path, len(md.KeyValues))
	return md, nil
}

// ReadMetadata reads a GGUF header and its key-value pairs from r, which is left positioned at
// the tensor infos. Malformed content is an api.ErrConfiguration.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	d := &decoder{r: r}
	var magic [4]byte
	d.read(&magic)
	if d.err == nil && string(magic[:]) != ggufMagic {
		return nil, errors.Wrapf(api.ErrConfiguration, "gguf: invalid magic %q, expected %q", magic[:], ggufMagic)
	}
	md := &Metadata{}
	d.read(&md.Version)
	if d.err == nil && md.Version < minSupportedVersion {
		return nil, errors.Wrapf(api.ErrConfiguration, "gguf: unsupported version %d (minimum %d)", md.Version, minSupportedVersion)
	}
	var tensorCount, kvCount uint64
	d.read(&tensorCount)
	d.read(&kvCount)
	if d.err != nil {
		return nil, d.wrap("header")
	}

	md.KeyValues = make([]KeyValue, 0, min(kvCount, 1024))
	md.byKey = make(map[string]int, min(kvCount, 1024))
	for i := range kvCount {
		key := d.string()
		var valueType uint32
		d.read(&valueType)
		value := d.value(ggufValueType(valueType))
		if d.err != nil {
			return nil, d.wrap("key-value pair %d/%d (%q)", i, kvCount, key)
		}
		md.byKey[key] = len(md.KeyValues)
		md.KeyValues = append(md.KeyValues, KeyValue{Key: key, Value: value})
	}
	return md, nil
}

// Get looks up a metadata value by its key.
func (md *Metadata) Get(key string) (Value, bool) {
	idx, found := md.byKey[key]
	if !found {
		return Value{}, false
	}
	return md.KeyValues[idx].Value, true
}

// Architecture returns the model architecture string (e.g., "llama", "gemma"),
// or "" if the metadata key "general.architecture" is not present.
func (md *Metadata) Architecture() string {
	v, _ := md.Get("general.architecture")
	return v.String()
}

// decoder reads little-endian GGUF values, keeping the first error.
type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) read(v any) {
	if d.err != nil {
		return
	}
	d.err = binary.Read(d.r, binary.LittleEndian, v)
}

func (d *decoder) wrap(format string, args ...any) error {
	return errors.Wrapf(api.ErrConfiguration, "gguf: reading "+format+": %v", append(args, d.err)...)
}

// string reads a GGUF string: uint64 length prefix followed by that many bytes.
func (d *decoder) string() string {
	var length uint64
	d.read(&length)
	if d.err != nil {
		return ""
	}
	if length > maxStringLen {
		d.err = errors.Errorf("string length %d exceeds %d bytes", length, maxStringLen)
		return ""
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.err = err
		return ""
	}
	return string(buf)
}

func readScalar[T any](d *decoder) Value {
	var v T
	d.read(&v)
	return Value{data: v}
}

func (d *decoder) value(valueType ggufValueType) Value {
	switch valueType {
	case valueTypeUint8:
		return readScalar[uint8](d)
	case valueTypeInt8:
		return readScalar[int8](d)
	case valueTypeUint16:
		return readScalar[uint16](d)
	case valueTypeInt16:
		return readScalar[int16](d)
	case valueTypeUint32:
		return readScalar[uint32](d)
	case valueTypeInt32:
		return readScalar[int32](d)
	case valueTypeUint64:
		return readScalar[uint64](d)
	case valueTypeInt64:
		return readScalar[int64](d)
	case valueTypeFloat32:
		return readScalar[float32](d)
	case valueTypeFloat64:
		return readScalar[float64](d)
	case valueTypeBool:
		var b uint8
		d.read(&b)
		return Value{data: b != 0}
	case valueTypeString:
		return Value{data: d.string()}
	case valueTypeArray:
		return d.array()
	}
	if d.err == nil {
		d.err = errors.Errorf("unknown value type %d", valueType)
	}
	return Value{}
}

func readSlice[T any](d *decoder, count uint64) Value {
	values := make([]T, count)
	d.read(values)
	return Value{data: values}
}

// array reads a GGUF typed array: uint32 element type, uint64 count, then elements.
func (d *decoder) array() Value {
	var elemType uint32
	var count uint64
	d.read(&elemType)
	d.read(&count)
	if d.err != nil {
		return Value{}
	}
	if count > maxArrayLen {
		d.err = errors.Errorf("array of %d elements exceeds %d", count, maxArrayLen)
		return Value{}
	}
	switch ggufValueType(elemType) {
	case valueTypeUint8:
		return readSlice[uint8](d, count)
	case valueTypeInt8:
		return readSlice[int8](d, count)
	case valueTypeUint16:
		return readSlice[uint16](d, count)
	case valueTypeInt16:
		return readSlice[int16](d, count)
	case valueTypeUint32:
		return readSlice[uint32](d, count)
	case valueTypeInt32:
		return readSlice[int32](d, count)
	case valueTypeUint64:
		return readSlice[uint64](d, count)
	case valueTypeInt64:
		return readSlice[int64](d, count)
	case valueTypeFloat32:
		return readSlice[float32](d, count)
	case valueTypeFloat64:
		return readSlice[float64](d, count)
	case valueTypeBool:
		raw := make([]uint8, count)
		d.read(raw)
		values := make([]bool, count)
		for i, b := range raw {
			values[i] = b != 0
		}
		return Value{data: values}
	case valueTypeString:
		values := make([]string, count)
		for i := range values {
			values[i] = d.string()
		}
		return Value{data: values}
	}
	d.err = errors.Errorf("unsupported array element type %d", elemType)
	return Value{}
}
