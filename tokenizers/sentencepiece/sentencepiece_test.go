package sentencepiece

import (
	"testing"

	"github.com/gomlx/spprocessor/internal/sptest"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer(sptest.WriteModel(t, sptest.UnigramModel()))
	require.NoError(t, err)
	return tok
}

// TestEncodeWithSpans_MatchesEncode verifies that EncodeWithSpans produces the same IDs as Encode.
func TestEncodeWithSpans_MatchesEncode(t *testing.T) {
	tok := newTestTokenizer(t)
	inputs := []string{
		"hello",
		"hello world",
		"the quick brown fox jumps over the lazy dog.",
		"Testing tokenization with offsets.",
		"Multiple  spaces   here",
		"aaaa",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			ids := tok.Encode(input)
			result := tok.EncodeWithSpans(input)
			assert.Equal(t, ids, result.IDs)
			assert.Len(t, result.Spans, len(result.IDs))
		})
	}
}

// TestEncodeWithSpans_ValidSpans verifies that spans are within bounds, ordered, and that they
// cover the text.
func TestEncodeWithSpans_ValidSpans(t *testing.T) {
	tok := newTestTokenizer(t)
	inputs := []string{
		"hello world",
		"The quick brown fox.",
		"Testing 123 numbers!",
		"naïve café",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			result := tok.EncodeWithSpans(input)
			prevEnd := 0
			for i, span := range result.Spans {
				assert.GreaterOrEqual(t, span.Start, 0, "token %d", i)
				assert.GreaterOrEqual(t, span.Len(), 0, "token %d", i)
				assert.LessOrEqual(t, span.End, len(input), "token %d", i)
				assert.Equal(t, prevEnd, span.Start, "token %d must start where the previous ended", i)
				prevEnd = span.End
			}
			assert.Equal(t, len(input), prevEnd)
		})
	}
}

func TestEncodeWithSpans_Text(t *testing.T) {
	tok := newTestTokenizer(t)
	input := "hello world"
	result := tok.EncodeWithSpans(input)
	require.Len(t, result.Spans, 2)
	assert.Equal(t, "hello", input[result.Spans[0].Start:result.Spans[0].End])
	assert.Equal(t, " world", input[result.Spans[1].Start:result.Spans[1].End])
}

func TestTokenizerDecode(t *testing.T) {
	tok := newTestTokenizer(t)
	for _, input := range []string{"hello world", "The Cafe, 123!", "aaaa"} {
		assert.Equal(t, input, tok.Decode(tok.Encode(input)))
	}
	assert.Equal(t, "", tok.Decode([]int{-5}))

	// Marker pieces typed in the text are not expanded back.
	const withMarker = "a(#startrepeat)9"
	ids := tok.Encode(withMarker)
	assert.Contains(t, ids, sptest.StartRepeatID)
	assert.Equal(t, withMarker, tok.Decode(ids))
}

func TestSpecialTokenID(t *testing.T) {
	tok := newTestTokenizer(t)
	tests := map[api.SpecialToken]int{
		api.TokUnknown:             sptest.UnkID,
		api.TokBeginningOfSentence: sptest.BosID,
		api.TokEndOfSentence:       sptest.EosID,
		api.TokPad:                 sptest.PadID,
	}
	for token, want := range tests {
		got, err := tok.SpecialTokenID(token)
		require.NoError(t, err, token.String())
		assert.Equal(t, want, got, token.String())
	}
	_, err := tok.SpecialTokenID(api.TokMask)
	assert.Error(t, err)
}

func TestNewTokenizerMissingFile(t *testing.T) {
	_, err := NewTokenizer(t.TempDir() + "/missing.model")
	assert.Error(t, err)
}
