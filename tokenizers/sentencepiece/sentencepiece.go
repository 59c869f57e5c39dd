// Package sentencepiece implements the SentencePiece processor: encoding text into pieces
// annotated with their exact byte spans in the input, decoding pieces and ids back to text, and
// the repeat-marker compression of plain token streams.
//
// Tokenizer adapts a Processor to the api.Tokenizer interface.
package sentencepiece

import (
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NewTokenizer creates a Tokenizer from the "tokenizer.model" file at path.
func NewTokenizer(path string) (*Tokenizer, error) {
	proc, err := NewFromFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "can't create sentencepiece tokenizer from %q", path)
	}
	return &Tokenizer{Processor: proc}, nil
}

// Tokenizer implements tokenizers.Tokenizer interface based on a SentencePiece Processor.
//
// Its ids are the plain segmentation ids, without repeat compression, so they align with the
// spans of EncodeWithSpans. Decode doesn't expand repeat markers either: a marker piece in the
// ids is decoded as its text.
type Tokenizer struct {
	*Processor
}

// Compile time assert that sentencepiece.Tokenizer implements tokenizers.Tokenizer interface.
var _ api.Tokenizer = &Tokenizer{}

// Compile time assert that sentencepiece.Tokenizer implements tokenizers.TokenizerWithSpans interface.
var _ api.TokenizerWithSpans = &Tokenizer{}

// Encode returns the text encoded into a sequence of ids.
// Errors are logged and yield an empty sequence.
func (t *Tokenizer) Encode(text string) []int {
	res, err := t.Processor.Encode(text)
	if err != nil {
		klog.Errorf("sentencepiece: failed to encode %q: %+v", text, err)
		return nil
	}
	return res.IDs()
}

// EncodeWithSpans returns the text encoded into a sequence of ids along with their byte spans.
// It implements api.TokenizerWithSpans.
func (t *Tokenizer) EncodeWithSpans(text string) api.EncodingResult {
	res, err := t.Processor.Encode(text)
	if err != nil {
		klog.Errorf("sentencepiece: failed to encode %q: %+v", text, err)
		return api.EncodingResult{}
	}
	return api.EncodingResult{
		IDs:   res.IDs(),
		Spans: res.Spans(),
	}
}

// Decode returns the text from a sequence of ids.
// Errors are logged and yield an empty text.
func (t *Tokenizer) Decode(ids []int) string {
	res, err := t.Processor.decodeIDs(ids, false)
	if err != nil {
		klog.Errorf("sentencepiece: failed to decode %v: %+v", ids, err)
		return ""
	}
	return res.Text
}

// SpecialTokenID returns the token for the given symbol, or an error if not known.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var id int
	switch token {
	case api.TokUnknown:
		id = t.UnkID()
	case api.TokPad:
		id = t.PadID()
	case api.TokBeginningOfSentence:
		id = t.BosID()
	case api.TokEndOfSentence:
		id = t.EosID()
	default:
		return 0, errors.Errorf("unknown special token: %s (%d)", token, int(token))
	}
	if id < 0 {
		return 0, errors.Errorf("special token %s is not defined in the model", token)
	}
	return id, nil
}
