package segment

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/spprocessor/models/spmodel"
	"k8s.io/klog/v2"
)

// BPEModel segments by byte-pair-encoding merges: adjacent symbols are merged, highest scoring
// merge first, while the merged symbol is in the vocabulary.
//
// When the descriptor is supported by github.com/eliben/go-sentencepiece, its processor does
// the merging; otherwise a native implementation is used.
type BPEModel struct {
	vocab   *Vocab
	backend *esentencepiece.Processor
}

func newBPE(m *spmodel.Model, vocab *Vocab) *BPEModel {
	b := &BPEModel{vocab: vocab}
	if !m.Normalizer.AddDummyPrefix && !m.Normalizer.RemoveExtraWhitespaces && m.Normalizer.EscapeWhitespaces {
		proc, err := esentencepiece.NewProcessor(bytes.NewReader(spmodel.Marshal(m)))
		if err != nil {
			klog.V(1).Infof("BPE backend rejected the model, using native merging: %v", err)
		} else {
			b.backend = proc
		}
	}
	return b
}

// Vocab implements Model.
func (b *BPEModel) Vocab() *Vocab { return b.vocab }

// IsNBestEncodeAvailable implements Model: BPE has no n-best segmentation.
func (b *BPEModel) IsNBestEncodeAvailable() bool { return false }

// IsSampleEncodeAvailable implements Model: sampling is BPE-dropout.
func (b *BPEModel) IsSampleEncodeAvailable() bool { return true }

// NBestEncode implements Model.
func (b *BPEModel) NBestEncode(string, int) []Scored { return nil }

// VerifyOutputsEquivalent implements Model.
func (b *BPEModel) VerifyOutputsEquivalent(expected, actual string) bool {
	return exactMatch(expected, actual)
}

// Encode implements Model.
func (b *BPEModel) Encode(normalized string) []Encoded {
	if normalized == "" {
		return nil
	}
	if b.backend != nil {
		if pieces, ok := b.fromBackend(normalized); ok {
			return pieces
		}
		klog.V(1).Infof("BPE backend output doesn't align with %q, using native merging", normalized)
	}
	return b.merge(normalized, 0, nil)
}

// fromBackend converts the backend tokens to pieces of normalized. Runs of byte tokens are
// folded back into one unknown piece holding the raw bytes.
func (b *BPEModel) fromBackend(normalized string) ([]Encoded, bool) {
	v := b.vocab
	tokens := b.backend.Encode(normalized)
	pieces := make([]Encoded, 0, len(tokens))
	cursor := 0
	var pendingBytes []byte
	flush := func() bool {
		if len(pendingBytes) == 0 {
			return true
		}
		raw := string(pendingBytes)
		pendingBytes = pendingBytes[:0]
		if !strings.HasPrefix(normalized[cursor:], raw) {
			return false
		}
		pieces = append(pieces, Encoded{Piece: raw, ID: v.unkID})
		cursor += len(raw)
		return true
	}
	for _, tok := range tokens {
		if v.IsByte(tok.ID) {
			if c, ok := PieceToByte(v.IDToPiece(tok.ID)); ok {
				pendingBytes = append(pendingBytes, c)
				continue
			}
		}
		if !flush() || cursor >= len(normalized) {
			return nil, false
		}
		piece := tok.Text
		if tok.ID == v.unkID {
			_, size := utf8.DecodeRuneInString(normalized[cursor:])
			piece = normalized[cursor : cursor+size]
		}
		if piece == "" || !strings.HasPrefix(normalized[cursor:], piece) {
			return nil, false
		}
		pieces = append(pieces, Encoded{Piece: piece, ID: tok.ID})
		cursor += len(piece)
	}
	if !flush() || cursor != len(normalized) {
		return nil, false
	}
	return pieces, true
}

// SampleEncode implements Model with BPE-dropout: each candidate merge is skipped with
// probability alpha.
func (b *BPEModel) SampleEncode(normalized string, alpha float64, rng *rand.Rand) []Encoded {
	if normalized == "" {
		return nil
	}
	return b.merge(normalized, alpha, rng)
}

type symbol struct {
	begin, end int
	atomic     bool
}

type mergeKey struct{ begin, mid, end int }

// merge is the native BPE. With dropout > 0 each merge candidate is dropped with that
// probability, and dropped candidates stay dropped until one of their symbols changes.
func (b *BPEModel) merge(normalized string, dropout float64, rng *rand.Rand) []Encoded {
	v := b.vocab
	symbols := b.initialSymbols(normalized)
	dropped := make(map[mergeKey]bool)
	for {
		bestIdx, bestScore := -1, 0.0
		for i := 0; i+1 < len(symbols); i++ {
			left, right := symbols[i], symbols[i+1]
			if left.atomic || right.atomic {
				continue
			}
			id, found := v.Lookup(normalized[left.begin:right.end])
			if !found || !v.IsNormal(id) {
				continue
			}
			if dropped[mergeKey{left.begin, left.end, right.end}] {
				continue
			}
			if score := v.Score(id); bestIdx < 0 || score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		if bestIdx < 0 {
			break
		}
		left, right := symbols[bestIdx], symbols[bestIdx+1]
		if dropout > 0 && rng.Float64() < dropout {
			dropped[mergeKey{left.begin, left.end, right.end}] = true
			continue
		}
		symbols[bestIdx] = symbol{begin: left.begin, end: right.end}
		symbols = append(symbols[:bestIdx+1], symbols[bestIdx+2:]...)
	}

	pieces := make([]Encoded, len(symbols))
	for i, s := range symbols {
		piece := normalized[s.begin:s.end]
		pieces[i] = Encoded{Piece: piece, ID: v.PieceToID(piece)}
	}
	return pieces
}

// initialSymbols splits normalized into user-defined symbols, which are never merged, and runes.
func (b *BPEModel) initialSymbols(normalized string) []symbol {
	userDefined := b.vocab.UserDefinedSymbols()
	symbols := make([]symbol, 0, len(normalized))
	for pos := 0; pos < len(normalized); {
		matched := 0
		for _, ud := range userDefined {
			if len(ud) > matched && strings.HasPrefix(normalized[pos:], ud) {
				matched = len(ud)
			}
		}
		if matched > 0 {
			symbols = append(symbols, symbol{begin: pos, end: pos + matched, atomic: true})
			pos += matched
			continue
		}
		_, size := utf8.DecodeRuneInString(normalized[pos:])
		symbols = append(symbols, symbol{begin: pos, end: pos + size})
		pos += size
	}
	return symbols
}
