// Package api defines the Tokenizer API shared by the tokenizer packages, and the error kinds
// they report.
package api

import "fmt"

// TokenSpan is the byte range [Start, End) of a token in the text it was encoded from.
//
// Control tokens (e.g. a beginning of sentence token added on encoding) have an empty span,
// Start == End, placed where they were inserted.
type TokenSpan struct {
	Start, End int
}

// Len returns the number of bytes of text covered by the span.
func (s TokenSpan) Len() int { return s.End - s.Start }

// EncodingResult holds the ids of an encoding and, for each id, its span in the encoded text.
type EncodingResult struct {
	IDs   []int
	Spans []TokenSpan
}

// Tokenizer converts text to a sequence of token ids and back.
//
// Special tokens, like padding, have the same meaning across tokenizers but a different id in
// each: SpecialTokenID resolves them.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string

	// SpecialTokenID returns the id of token, or an error if the tokenizer doesn't define it.
	SpecialTokenID(token SpecialToken) (int, error)
}

// TokenizerWithSpans is a Tokenizer that also reports where each token comes from in the text,
// e.g. to map token-level predictions back onto the input.
type TokenizerWithSpans interface {
	Tokenizer

	// EncodeWithSpans returns the same ids as Encode along with their spans.
	EncodeWithSpans(text string) EncodingResult
}

// SpecialToken enumerates the special tokens a Tokenizer may define.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{
	TokBeginningOfSentence: "beginning_of_sentence",
	TokEndOfSentence:       "end_of_sentence",
	TokUnknown:             "unknown",
	TokPad:                 "pad",
	TokMask:                "mask",
	TokClassification:      "classification",
}

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	if t >= 0 && int(t) < len(specialTokenNames) {
		return specialTokenNames[t]
	}
	return fmt.Sprintf("SpecialToken(%d)", int(t))
}
