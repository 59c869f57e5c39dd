package gguf

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/spprocessor/internal/sptest"
	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ggufBuilder constructs a minimal valid GGUF binary for testing.
type ggufBuilder struct {
	buf     []byte
	kvCount int
}

func (b *ggufBuilder) writeUint8(v uint8)   { b.buf = append(b.buf, v) }
func (b *ggufBuilder) writeUint32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }
func (b *ggufBuilder) writeUint64(v uint64) { b.buf = binary.LittleEndian.AppendUint64(b.buf, v) }
func (b *ggufBuilder) writeInt32(v int32)   { b.writeUint32(uint32(v)) }
func (b *ggufBuilder) writeFloat32(v float32) {
	b.writeUint32(math.Float32bits(v))
}

func (b *ggufBuilder) writeString(s string) {
	b.writeUint64(uint64(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *ggufBuilder) key(key string, valueType ggufValueType) {
	b.kvCount++
	b.writeString(key)
	b.writeUint32(uint32(valueType))
}

func (b *ggufBuilder) kvString(key, value string) {
	b.key(key, valueTypeString)
	b.writeString(value)
}

func (b *ggufBuilder) kvUint32(key string, value uint32) {
	b.key(key, valueTypeUint32)
	b.writeUint32(value)
}

func (b *ggufBuilder) kvBool(key string, value bool) {
	b.key(key, valueTypeBool)
	if value {
		b.writeUint8(1)
	} else {
		b.writeUint8(0)
	}
}

func (b *ggufBuilder) arrayHeader(key string, elemType ggufValueType, count int) {
	b.key(key, valueTypeArray)
	b.writeUint32(uint32(elemType))
	b.writeUint64(uint64(count))
}

func (b *ggufBuilder) kvStringArray(key string, values []string) {
	b.arrayHeader(key, valueTypeString, len(values))
	for _, v := range values {
		b.writeString(v)
	}
}

func (b *ggufBuilder) kvInt32Array(key string, values []int32) {
	b.arrayHeader(key, valueTypeInt32, len(values))
	for _, v := range values {
		b.writeInt32(v)
	}
}

func (b *ggufBuilder) kvFloat32Array(key string, values []float32) {
	b.arrayHeader(key, valueTypeFloat32, len(values))
	for _, v := range values {
		b.writeFloat32(v)
	}
}

func (b *ggufBuilder) kvBytes(key string, values []byte) {
	b.arrayHeader(key, valueTypeUint8, len(values))
	b.buf = append(b.buf, values...)
}

// bytes returns the GGUF v3 file: header, the key-value pairs written so far and no tensors.
func (b *ggufBuilder) bytes() []byte {
	var out []byte
	out = append(out, ggufMagic...)
	out = binary.LittleEndian.AppendUint32(out, 3)
	out = binary.LittleEndian.AppendUint64(out, 0)
	out = binary.LittleEndian.AppendUint64(out, uint64(b.kvCount))
	return append(out, b.buf...)
}

func (b *ggufBuilder) writeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gguf")
	require.NoError(t, os.WriteFile(path, b.bytes(), 0644))
	return path
}

// tokenizerGGUF writes the pieces of m as a "llama" tokenizer.
func tokenizerGGUF(m *spmodel.Model) *ggufBuilder {
	b := &ggufBuilder{}
	b.kvString("general.architecture", "llama")
	b.kvString(KeyTokenizerModel, "llama")
	tokens := make([]string, len(m.Pieces))
	scores := make([]float32, len(m.Pieces))
	types := make([]int32, len(m.Pieces))
	for i, p := range m.Pieces {
		tokens[i], scores[i], types[i] = p.Piece, p.Score, int32(p.Type)
	}
	b.kvStringArray(KeyTokens, tokens)
	b.kvFloat32Array(KeyScores, scores)
	b.kvInt32Array(KeyTokenType, types)
	b.kvUint32(KeyUnkID, sptest.UnkID)
	b.kvUint32(KeyBosID, sptest.BosID)
	b.kvUint32(KeyEosID, sptest.EosID)
	b.kvBool(KeyAddSpacePrefix, false)
	return b
}

func TestReadMetadata(t *testing.T) {
	b := &ggufBuilder{}
	b.kvString("general.architecture", "gemma")
	b.kvUint32("general.alignment", 64)
	b.kvBool("some.flag", true)
	b.kvStringArray("some.list", []string{"a", "b"})
	b.kvBytes("some.bytes", []byte{1, 2, 3})

	md, err := ReadMetadata(bytes.NewReader(b.bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), md.Version)
	assert.Len(t, md.KeyValues, 5)
	assert.Equal(t, "gemma", md.Architecture())

	v, found := md.Get("general.alignment")
	require.True(t, found)
	n, ok := v.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(64), n)
	assert.Equal(t, "", v.String())

	v, _ = md.Get("some.flag")
	flag, ok := v.Bool()
	assert.True(t, ok && flag)
	v, _ = md.Get("some.list")
	assert.Equal(t, []string{"a", "b"}, v.Strings())
	v, _ = md.Get("some.bytes")
	assert.Equal(t, []byte{1, 2, 3}, v.Bytes())
	assert.Equal(t, []int64(nil), v.Ints())

	_, found = md.Get("missing")
	assert.False(t, found)
}

func TestReadMetadataErrors(t *testing.T) {
	valid := tokenizerGGUF(sptest.BPEModel()).bytes()
	badVersion := bytes.Clone(valid)
	binary.LittleEndian.PutUint32(badVersion[4:], 1)
	badType := &ggufBuilder{}
	badType.key("x", ggufValueType(99))

	tests := map[string][]byte{
		"empty":          nil,
		"bad magic":      append([]byte("GGUX"), valid[4:]...),
		"bad version":    badVersion,
		"truncated":      valid[:len(valid)/2],
		"bad value type": badType.bytes(),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadMetadata(bytes.NewReader(content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, api.ErrConfiguration), "got %v", err)
		})
	}

	_, err := OpenMetadata(filepath.Join(t.TempDir(), "missing.gguf"))
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestTokenizer(t *testing.T) {
	want := sptest.BPEModel()
	m, err := LoadModel(tokenizerGGUF(want).writeFile(t))
	require.NoError(t, err)
	assert.Equal(t, want.Pieces, m.Pieces)
	assert.Equal(t, spmodel.BPE, m.Trainer.ModelType)
	assert.True(t, m.Trainer.ByteFallback)
	assert.Equal(t, "<unk>", m.Trainer.UnkPiece)
	assert.Equal(t, "<s>", m.Trainer.BosPiece)
	assert.False(t, m.Normalizer.AddDummyPrefix)
	assert.False(t, m.Normalizer.RemoveExtraWhitespaces)
	assert.True(t, m.Normalizer.EscapeWhitespaces)

	proc, err := sentencepiece.New(m)
	require.NoError(t, err)
	res, err := proc.Encode("lower est")
	require.NoError(t, err)
	assert.Equal(t, []string{"lo", "w", "er", "▁", "est"}, res.PieceStrings())
	assert.Equal(t, sptest.BosID, proc.BosID())
}

func TestTokenizerT5(t *testing.T) {
	b := &ggufBuilder{}
	b.kvString(KeyTokenizerModel, "t5")
	b.kvStringArray(KeyTokens, []string{"<pad>", "</s>", "<unk>", "▁hello"})
	b.kvInt32Array(KeyTokenType, []int32{3, 3, 2, 1})
	b.kvUint32(KeyUnkID, 2)
	b.kvUint32(KeyPadID, 0)
	b.kvUint32(KeyBosID, 99)
	b.kvBytes(KeyPrecompiledCharsmap, []byte{0xAA})

	md, err := ReadMetadata(bytes.NewReader(b.bytes()))
	require.NoError(t, err)
	m, err := md.Tokenizer()
	require.NoError(t, err)
	assert.Equal(t, spmodel.Unigram, m.Trainer.ModelType)
	assert.Equal(t, "nmt_nfkc", m.Normalizer.Name)
	assert.True(t, m.Normalizer.AddDummyPrefix)
	assert.Equal(t, []byte{0xAA}, m.Normalizer.PrecompiledCharsmap)
	assert.False(t, m.Trainer.ByteFallback)
	assert.Equal(t, "<pad>", m.Trainer.PadPiece)
	assert.Equal(t, spmodel.DefaultBosPiece, m.Trainer.BosPiece, "out of range ids are ignored")

	proc, err := sentencepiece.New(m)
	require.NoError(t, err)
	assert.Equal(t, -1, proc.BosID())
	assert.Equal(t, 0, proc.PadID())
	pieces, err := proc.EncodePieces("hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁hello"}, pieces)
}

func TestTokenizerErrors(t *testing.T) {
	gpt2 := &ggufBuilder{}
	gpt2.kvString(KeyTokenizerModel, "gpt2")
	noTokens := &ggufBuilder{}
	noTokens.kvString(KeyTokenizerModel, "llama")
	mismatch := &ggufBuilder{}
	mismatch.kvString(KeyTokenizerModel, "llama")
	mismatch.kvStringArray(KeyTokens, []string{"<unk>", "a"})
	mismatch.kvFloat32Array(KeyScores, []float32{0})

	for name, b := range map[string]*ggufBuilder{"gpt2": gpt2, "no tokens": noTokens, "scores mismatch": mismatch} {
		t.Run(name, func(t *testing.T) {
			md, err := ReadMetadata(bytes.NewReader(b.bytes()))
			require.NoError(t, err)
			_, err = md.Tokenizer()
			assert.True(t, errors.Is(err, api.ErrConfiguration), "got %v", err)
		})
	}
}
