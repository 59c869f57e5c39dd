package sentencepiece

import (
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/spprocessor/internal/sptest"
	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/repeat"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(t *testing.T, m *spmodel.Model) *Processor {
	t.Helper()
	p, err := New(m)
	require.NoError(t, err)
	return p
}

func surfaces(res *Result) []string {
	var out []string
	for _, piece := range res.Pieces {
		out = append(out, piece.Surface)
	}
	return out
}

func TestEncodeSpans(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	res, err := p.Encode("the cat")
	require.NoError(t, err)
	assert.Equal(t, "the cat", res.Text)
	assert.Equal(t, []Piece{
		{Piece: "▁the", ID: p.PieceToID("▁the"), Surface: "the", Begin: 0, End: 3},
		{Piece: "▁cat", ID: p.PieceToID("▁cat"), Surface: " cat", Begin: 3, End: 7},
	}, res.Pieces)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 3}, {Start: 3, End: 7}}, res.Spans())

	// Extra white spaces are not part of any surface.
	res, err = p.Encode("  hello   world ")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁hello", "▁world"}, res.PieceStrings())
	assert.Equal(t, []string{"hello", "   world"}, surfaces(res))
	assert.Equal(t, []api.TokenSpan{{Start: 2, End: 7}, {Start: 7, End: 15}}, res.Spans())

	res, err = p.Encode("")
	require.NoError(t, err)
	assert.Empty(t, res.Pieces)
}

func TestEncodeByteFallback(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	res, err := p.Encode("a日")
	require.NoError(t, err)
	require.Len(t, res.Pieces, 4)
	assert.Equal(t, Piece{Piece: "▁a", ID: p.PieceToID("▁a"), Surface: "a", Begin: 0, End: 1}, res.Pieces[0])
	assert.Equal(t, Piece{Piece: "<0xE6>", ID: sptest.FirstByteID + 0xE6, Begin: 1, End: 1}, res.Pieces[1])
	assert.Equal(t, Piece{Piece: "<0x97>", ID: sptest.FirstByteID + 0x97, Begin: 1, End: 1}, res.Pieces[2])
	assert.Equal(t, Piece{Piece: "<0xA5>", ID: sptest.FirstByteID + 0xA5, Surface: "日", Begin: 1, End: 4}, res.Pieces[3])
	for _, piece := range res.Pieces {
		assert.True(t, p.IsByte(piece.ID) || piece.Piece == "▁a")
	}

	text, err := p.DecodeIDs(res.IDs())
	require.NoError(t, err)
	assert.Equal(t, "a日", text)

	decoded, err := p.DecodeIDsAsResult(res.IDs())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "", "日"}, surfaces(decoded))
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 1}, {Start: 1, End: 1}, {Start: 1, End: 1}, {Start: 1, End: 4}}, decoded.Spans())
}

func TestDecodeInvalidBytes(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	// A truncated 3 bytes character followed by a valid one.
	res, err := p.DecodeIDsAsResult([]int{sptest.FirstByteID + 0xE6, sptest.FirstByteID + 0x97, sptest.FirstByteID + 'x'})
	require.NoError(t, err)
	assert.Equal(t, "��x", res.Text)
	assert.Equal(t, []string{"�", "�", "x"}, surfaces(res))
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 3}, {Start: 3, End: 6}, {Start: 6, End: 7}}, res.Spans())
}

func TestUnknownMerging(t *testing.T) {
	m := sptest.UnigramModel()
	m.Trainer.ByteFallback = false
	p := newProcessor(t, m)
	res, err := p.Encode("aXY a")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁a", "XY", "▁a"}, res.PieceStrings())
	assert.Equal(t, []string{"a", "XY", " a"}, surfaces(res))
	assert.Equal(t, sptest.UnkID, res.Pieces[1].ID)
	assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, res.Spans()[1])

	// Unknown ids decode to the unknown surface, unknown pieces to themselves.
	text, err := p.DecodeIDs(res.IDs())
	require.NoError(t, err)
	assert.Equal(t, "a ⁇  a", text)
	text, err = p.DecodePieces(res.PieceStrings())
	require.NoError(t, err)
	assert.Equal(t, "aXY a", text)
}

func TestRoundTrip(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	for _, text := range []string{"hello world", "the cat sat, a hat!", "a日本語", "émigré"} {
		res, err := p.Encode(text)
		require.NoError(t, err)
		assert.Equal(t, text, strings.Join(surfaces(res), ""), "surfaces of %q", text)

		decoded, err := p.DecodeIDs(res.IDs())
		require.NoError(t, err)
		assert.Equal(t, text, decoded)

		pieces, err := p.EncodePieces(text)
		require.NoError(t, err)
		decoded, err = p.DecodePieces(pieces)
		require.NoError(t, err)
		assert.Equal(t, text, decoded)
	}
}

func TestRepeatCompression(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	assert.True(t, p.HasRepeatIDs())
	pieces, err := p.EncodePieces("aaaa")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁a", "a", repeat.StartMarker, "3", repeat.EndMarker}, pieces)

	ids, err := p.EncodeIDs("aaaa")
	require.NoError(t, err)
	a := p.PieceToID("a")
	assert.Equal(t, []int{p.PieceToID("▁a"), a, sptest.StartRepeatID, sptest.FirstDigitID + 3, sptest.EndRepeatID}, ids)

	text, err := p.DecodeIDs(ids)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", text)
	text, err = p.DecodePieces(pieces)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", text)

	// Twelve repetitions, two digits most significant first.
	ids, err = p.EncodeIDs("a" + strings.Repeat("a", 12))
	require.NoError(t, err)
	assert.Equal(t, []int{p.PieceToID("▁a"), a, sptest.StartRepeatID, sptest.FirstDigitID + 1, sptest.FirstDigitID + 2, sptest.EndRepeatID}, ids)

	_, err = p.DecodePieces([]string{"▁a", repeat.EndMarker})
	assert.True(t, errors.Is(err, api.ErrIntegrity))
	_, err = p.DecodeIDs([]int{a, sptest.StartRepeatID, sptest.FirstDigitID + 2})
	assert.True(t, errors.Is(err, api.ErrIntegrity))

	// Counts expanding past repeat.MaxExpandedLen are rejected before allocating.
	huge := append([]string{"a", repeat.StartMarker}, strings.Split(strings.Repeat("9", 12), "")...)
	_, err = p.DecodePieces(append(huge, repeat.EndMarker))
	assert.True(t, errors.Is(err, api.ErrIntegrity))
}

func TestRepeatWithoutMarkerPieces(t *testing.T) {
	m := sptest.UnigramModel()
	m.Pieces[sptest.StartRepeatID].Piece = "<start>"
	p := newProcessor(t, m)

	assert.False(t, p.HasRepeatIDs())
	_, err := p.EncodeIDs("aaaa")
	assert.True(t, errors.Is(err, api.ErrConfiguration))

	ids, err := p.EncodeIDs("a cat")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// Ids are decoded without expansion.
	a := p.PieceToID("a")
	text, err := p.DecodeIDs([]int{a, a})
	require.NoError(t, err)
	assert.Equal(t, "aa", text)

	// Pieces are always expanded.
	pieces, err := p.EncodePieces("aaaa")
	require.NoError(t, err)
	text, err = p.DecodePieces(pieces)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", text)
}

func TestExtraOptionString(t *testing.T) {
	assert.Equal(t, "bos", BOS.String())
	assert.Equal(t, "eos", EOS.String())
	assert.Equal(t, "reverse", Reverse.String())
	assert.Equal(t, "invalid", ExtraOption(7).String())
	assert.Equal(t, "invalid", ExtraOption(-1).String())
}

func TestExtraOptions(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	require.NoError(t, p.SetEncodeExtraOptions("bos:eos"))
	res, err := p.Encode("the cat")
	require.NoError(t, err)
	assert.Equal(t, []string{"<s>", "▁the", "▁cat", "</s>"}, res.PieceStrings())
	assert.Equal(t, Piece{Piece: "<s>", ID: sptest.BosID}, res.Pieces[0])
	assert.Equal(t, Piece{Piece: "</s>", ID: sptest.EosID, Begin: 7, End: 7}, res.Pieces[3])

	require.NoError(t, p.SetEncodeExtraOptions("reverse:bos"))
	res, err = p.Encode("the cat")
	require.NoError(t, err)
	assert.Equal(t, []string{"<s>", "▁cat", "▁the"}, res.PieceStrings())

	require.NoError(t, p.SetEncodeExtraOptions(""))
	require.NoError(t, p.SetDecodeExtraOptions("bos:eos"))
	decoded, err := p.DecodeIDsAsResult([]int{p.PieceToID("▁the"), p.PieceToID("▁cat")})
	require.NoError(t, err)
	assert.Equal(t, "the cat", decoded.Text)
	assert.Equal(t, []int{sptest.BosID, p.PieceToID("▁the"), p.PieceToID("▁cat"), sptest.EosID}, decoded.IDs())
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 0}, {Start: 0, End: 3}, {Start: 3, End: 7}, {Start: 7, End: 7}}, decoded.Spans())

	require.NoError(t, p.SetDecodeExtraOptions("reverse"))
	text, err := p.DecodeIDs([]int{p.PieceToID("▁cat"), p.PieceToID("▁the")})
	require.NoError(t, err)
	assert.Equal(t, "the cat", text)

	err = p.SetEncodeExtraOptions("bos:unknown_option")
	assert.True(t, errors.Is(err, api.ErrConfiguration))

	m := sptest.UnigramModel()
	m.Trainer.BosPiece = "<bos>"
	p = newProcessor(t, m)
	assert.Equal(t, -1, p.BosID())
	assert.True(t, errors.Is(p.SetEncodeExtraOptions("bos"), api.ErrConfiguration))
	assert.NoError(t, p.SetEncodeExtraOptions("eos"))
}

func TestSpecialIDs(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	assert.Equal(t, sptest.UnkID, p.UnkID())
	assert.Equal(t, sptest.BosID, p.BosID())
	assert.Equal(t, sptest.EosID, p.EosID())
	assert.Equal(t, sptest.PadID, p.PadID())
	assert.True(t, p.IsControl(sptest.PadID))
	assert.True(t, p.IsUnknown(sptest.UnkID))
	assert.False(t, p.IsUnused(sptest.UnkID))
	assert.Equal(t, len(sptest.UnigramModel().Pieces), p.PieceSize())
	assert.Equal(t, "▁cat", p.IDToPiece(p.PieceToID("▁cat")))
	assert.Equal(t, -1.5, p.Score(p.PieceToID("▁cat")))

	m := sptest.UnigramModel()
	m.Pieces[sptest.PadID].Type = spmodel.TypeUserDefined
	p = newProcessor(t, m)
	assert.Equal(t, -1, p.PadID(), "pad must be a control piece")
}

func TestDecodeErrors(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	_, err := p.DecodeIDs([]int{p.PieceSize()})
	assert.True(t, errors.Is(err, api.ErrEncoding))
	_, err = p.DecodeIDs([]int{-1})
	assert.True(t, errors.Is(err, api.ErrEncoding))

	var uninitialized Processor
	_, err = uninitialized.Encode("x")
	assert.True(t, errors.Is(err, api.ErrConfiguration))
	_, err = uninitialized.DecodeIDs([]int{1})
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestNBestEncode(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	results, err := p.NBestEncode("the", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"▁the"}, results[0].PieceStrings())
	assert.InDelta(t, -1.0, results[0].Score, 1e-6)
	assert.Equal(t, []string{"▁", "t", "he"}, results[1].PieceStrings())
	assert.Equal(t, []string{"", "t", "he"}, surfaces(results[1]))
	assert.InDelta(t, -10.0, results[1].Score, 1e-6)
	for _, res := range results {
		assert.Equal(t, "the", res.Text)
	}

	results, err = p.NBestEncode("the", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	m := sptest.UnigramModel()
	m.Trainer.ModelType = spmodel.Char
	_, err = newProcessor(t, m).NBestEncode("the", 2)
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestSampleEncode(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	_, err := p.SampleEncode("hello", 513, 0.1)
	assert.True(t, errors.Is(err, api.ErrConfiguration))

	best, err := p.Encode("hello")
	require.NoError(t, err)
	for _, nbest := range []int{0, 1} {
		res, err := p.SampleEncode("hello", nbest, 0.1)
		require.NoError(t, err)
		assert.Equal(t, best.Pieces, res.Pieces)
	}

	for _, nbest := range []int{-1, 10} {
		res, err := p.SampleEncode("hello", nbest, 0.5)
		require.NoError(t, err)
		assert.Equal(t, "hello", strings.Join(surfaces(res), ""))
	}

	// Same seed, same samples.
	sample := func(seed uint64) []string {
		rng := rand.New(rand.NewPCG(seed, seed))
		var all []string
		for range 10 {
			res, err := p.SampleEncodeWithRand("hello world", -1, 0.2, rng)
			require.NoError(t, err)
			all = append(all, strings.Join(res.PieceStrings(), " "))
		}
		return all
	}
	assert.Equal(t, sample(3), sample(3))

	p.SetRandomSeed(5)
	first, err := p.SampleEncode("hello world", 20, 0.2)
	require.NoError(t, err)
	p.SetRandomSeed(5)
	second, err := p.SampleEncode("hello world", 20, 0.2)
	require.NoError(t, err)
	assert.Equal(t, first.Pieces, second.Pieces)

	m := sptest.UnigramModel()
	m.Trainer.ModelType = spmodel.Word
	_, err = newProcessor(t, m).SampleEncode("hello", -1, 0.1)
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestBPEProcessor(t *testing.T) {
	p := newProcessor(t, sptest.BPEModel())
	res, err := p.Encode("lower est")
	require.NoError(t, err)
	assert.Equal(t, []string{"lo", "w", "er", "▁", "est"}, res.PieceStrings())
	text, err := p.DecodeIDs(res.IDs())
	require.NoError(t, err)
	assert.Equal(t, "lower est", text)

	res, err = p.Encode("lowÉ")
	require.NoError(t, err)
	assert.Equal(t, []string{"lo", "w", "<0xC3>", "<0x89>"}, res.PieceStrings())
	assert.Equal(t, "É", res.Pieces[3].Surface)

	_, err = p.NBestEncode("lower", 2)
	assert.True(t, errors.Is(err, api.ErrConfiguration))
	sampled, err := p.SampleEncode("lower est", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"lo", "w", "er", "▁", "est"}, sampled.PieceStrings())
}

func TestDenormalizer(t *testing.T) {
	m := sptest.UnigramModel()
	m.Denormalizer = &spmodel.NormalizerSpec{Name: "identity", NormalizationRuleTSV: "61\t41\n"}
	p := newProcessor(t, m)
	ids := []int{p.PieceToID("▁a"), p.PieceToID("▁cat")}
	res, err := p.DecodeIDsAsResult(ids)
	require.NoError(t, err)
	assert.Equal(t, "A cAt", res.Text)
	assert.Equal(t, []string{"A", " cAt"}, surfaces(res))
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 1}, {Start: 1, End: 5}}, res.Spans())

	// Rules that change the length of the text.
	m.Denormalizer = &spmodel.NormalizerSpec{Name: "identity", NormalizationRuleTSV: "61\t61 61\n"}
	p = newProcessor(t, m)
	res, err = p.DecodeIDsAsResult(ids)
	require.NoError(t, err)
	assert.Equal(t, "aa caat", res.Text)
	assert.Equal(t, []string{"aa", " caat"}, surfaces(res))
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 2}, {Start: 2, End: 7}}, res.Spans())
}

func TestSelfTest(t *testing.T) {
	m := sptest.UnigramModel()
	m.SelfTest = []spmodel.Sample{
		{Input: "the cat", Expected: "▁the ▁cat"},
		{Input: "aaa", Expected: "▁a a (#startrepeat) 2 (#endrepeat)"},
	}
	newProcessor(t, m)

	m.SelfTest = append(m.SelfTest, spmodel.Sample{Input: "hello", Expected: "▁he l l o"})
	_, err := New(m)
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestNewFromContent(t *testing.T) {
	p, err := NewFromContent(spmodel.Marshal(sptest.UnigramModel()))
	require.NoError(t, err)
	res, err := p.Encode("the cat")
	require.NoError(t, err)
	assert.Equal(t, []string{"▁the", "▁cat"}, res.PieceStrings())

	_, err = NewFromContent([]byte{0xff, 0xff})
	assert.True(t, errors.Is(err, api.ErrConfiguration))

	_, err = NewFromFile(sptest.WriteModel(t, sptest.UnigramModel()))
	require.NoError(t, err)

	m := sptest.UnigramModel()
	m.Normalizer.Name = "not_a_normalization"
	_, err = New(m)
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestConcurrentEncode(t *testing.T) {
	p := newProcessor(t, sptest.UnigramModel())
	texts := []string{"hello world", "the cat", "a日本", "aaaa bbb"}
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				text := texts[i%len(texts)]
				pieces, err := p.EncodePieces(text)
				if !assert.NoError(t, err) {
					return
				}
				decoded, err := p.DecodePieces(pieces)
				assert.NoError(t, err)
				assert.Equal(t, text, decoded)
				_, err = p.SampleEncode(text, -1, 0.3)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
