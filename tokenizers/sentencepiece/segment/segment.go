// Package segment implements the segmentation models of SentencePiece: given a normalized text,
// they split it into vocabulary pieces.
//
// The pieces returned by every model concatenate exactly to the normalized input. Runes not
// covered by the vocabulary are returned as pieces with the unknown id; the caller is
// responsible for the byte-fallback decomposition.
package segment

import (
	"math/rand/v2"
	"strings"

	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
)

// Encoded is one piece of a segmentation.
type Encoded struct {
	Piece string
	ID    int
}

// Scored is a segmentation with its score, as returned by NBestEncode.
type Scored struct {
	Pieces []Encoded
	Score  float64
}

// Model is a segmentation model.
type Model interface {
	// Vocab returns the vocabulary of the model.
	Vocab() *Vocab

	// Encode returns the best segmentation of normalized.
	Encode(normalized string) []Encoded

	// NBestEncode returns up to n segmentations, best first.
	// It returns nil if IsNBestEncodeAvailable is false.
	NBestEncode(normalized string, n int) []Scored

	// SampleEncode returns one segmentation sampled with the smoothing parameter alpha.
	// It returns nil if IsSampleEncodeAvailable is false.
	SampleEncode(normalized string, alpha float64, rng *rand.Rand) []Encoded

	IsNBestEncodeAvailable() bool
	IsSampleEncodeAvailable() bool

	// VerifyOutputsEquivalent reports whether two space-joined segmentations are equally good.
	VerifyOutputsEquivalent(expected, actual string) bool
}

// New creates the segmentation model selected by the descriptor's trainer spec.
func New(m *spmodel.Model) (Model, error) {
	if m == nil {
		return nil, errors.Wrap(api.ErrConfiguration, "model descriptor is nil")
	}
	vocab, err := NewVocab(m)
	if err != nil {
		return nil, err
	}
	switch m.Trainer.ModelType {
	case spmodel.Unigram:
		return newUnigram(vocab), nil
	case spmodel.BPE:
		return newBPE(m, vocab), nil
	case spmodel.Word:
		return &WordModel{vocab: vocab, suffix: m.Trainer.TreatWhitespaceAsSuffix}, nil
	case spmodel.Char:
		return &CharModel{vocab: vocab}, nil
	}
	return nil, errors.Wrapf(api.ErrConfiguration, "unsupported model type %s", m.Trainer.ModelType)
}

// exactMatch is the VerifyOutputsEquivalent of models without scores.
func exactMatch(expected, actual string) bool {
	return expected == actual
}

// splitWords splits normalized at the whitespace symbol. In prefix mode the symbol starts a
// word, in suffix mode it ends one.
func splitWords(normalized string, suffix bool) []string {
	const space = "▁"
	var words []string
	start := 0
	for i := 0; i < len(normalized); {
		if !strings.HasPrefix(normalized[i:], space) {
			i++
			continue
		}
		if suffix {
			i += len(space)
			words = append(words, normalized[start:i])
			start = i
			continue
		}
		if i > start {
			words = append(words, normalized[start:i])
			start = i
		}
		i += len(space)
	}
	if start < len(normalized) {
		words = append(words, normalized[start:])
	}
	return words
}
