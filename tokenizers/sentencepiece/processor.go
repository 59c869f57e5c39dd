package sentencepiece

import (
	"math/rand/v2"
	"sync"

	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/normalizer"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/repeat"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/segment"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Processor encodes text to annotated pieces and decodes pieces back to text, for one loaded
// model descriptor.
//
// Once configured (SetEncodeExtraOptions, SetDecodeExtraOptions, SetRandomSeed), a Processor is
// read-only and its Encode, Decode and NBestEncode methods are safe for concurrent use.
type Processor struct {
	model        *spmodel.Model
	segmenter    segment.Model
	vocab        *segment.Vocab
	normalizer   *normalizer.Normalizer
	denormalizer *normalizer.Normalizer

	encodeExtraOptions, decodeExtraOptions []ExtraOption

	// idScheme is nil if the repeat markers or digits are not in the vocabulary.
	idScheme *repeat.Scheme[int]

	muRand sync.Mutex
	rng    *rand.Rand
}

// NewFromFile loads the model descriptor ("tokenizer.model") at path and creates a Processor.
func NewFromFile(path string) (*Processor, error) {
	m, err := spmodel.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(m)
}

// NewFromContent creates a Processor from the serialized model descriptor.
func NewFromContent(content []byte) (*Processor, error) {
	m, err := spmodel.Unmarshal(content)
	if err != nil {
		return nil, err
	}
	return New(m)
}

// New creates a Processor for the model descriptor m, which must not be changed afterwards.
//
// If the descriptor carries self-test samples they are encoded, and any mismatch fails with
// api.ErrConfiguration.
func New(m *spmodel.Model) (*Processor, error) {
	segmenter, err := segment.New(m)
	if err != nil {
		return nil, err
	}
	p := &Processor{
		model:     m,
		segmenter: segmenter,
		vocab:     segmenter.Vocab(),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	p.normalizer, err = normalizer.New(m.Normalizer,
		normalizer.WhitespaceAsSuffix(m.Trainer.TreatWhitespaceAsSuffix),
		normalizer.UserDefinedSymbols(p.vocab.UserDefinedSymbols()))
	if err != nil {
		return nil, errors.WithMessage(err, "normalizer")
	}
	if m.Denormalizer != nil {
		p.denormalizer, err = normalizer.New(*m.Denormalizer)
		if err != nil {
			return nil, errors.WithMessage(err, "denormalizer")
		}
	}
	p.idScheme = newIDScheme(p.vocab)
	if err := p.selfTest(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("SentencePiece processor ready: %d pieces, %s model, byte fallback %v",
		p.vocab.Size(), m.Trainer.ModelType, p.vocab.ByteFallback())
	return p, nil
}

// newIDScheme returns the repeat scheme over ids, or nil if any of the marker and digit pieces
// is not in the vocabulary.
func newIDScheme(v *segment.Vocab) *repeat.Scheme[int] {
	known := func(piece string) (int, bool) {
		id := v.PieceToID(piece)
		return id, !v.IsUnknown(id)
	}
	start, ok := known(repeat.StartMarker)
	if !ok {
		return nil
	}
	end, ok := known(repeat.EndMarker)
	if !ok {
		return nil
	}
	var digits [10]int
	values := make(map[int]int, 10)
	pieces := repeat.Pieces()
	for d := range digits {
		id, ok := known(pieces.Digit(d))
		if !ok {
			return nil
		}
		digits[d] = id
		values[id] = d
	}
	return &repeat.Scheme[int]{
		Start: start,
		End:   end,
		Digit: func(d int) int { return digits[d] },
		Value: func(id int) (int, bool) {
			d, ok := values[id]
			return d, ok
		},
	}
}

// Model returns the model descriptor of the processor.
func (p *Processor) Model() *spmodel.Model { return p.model }

// PieceSize returns the number of pieces in the vocabulary.
func (p *Processor) PieceSize() int { return p.vocab.Size() }

// PieceToID returns the id of piece, or the unknown id if it is not in the vocabulary.
func (p *Processor) PieceToID(piece string) int { return p.vocab.PieceToID(piece) }

// IDToPiece returns the piece of id, or "" if id is out of range.
func (p *Processor) IDToPiece(id int) string { return p.vocab.IDToPiece(id) }

// Score returns the score of id.
func (p *Processor) Score(id int) float64 { return p.vocab.Score(id) }

// IsControl, IsUnknown, IsUnused and IsByte report the type of the piece id.
func (p *Processor) IsControl(id int) bool { return p.vocab.IsControl(id) }
func (p *Processor) IsUnknown(id int) bool { return p.vocab.IsUnknown(id) }
func (p *Processor) IsUnused(id int) bool { return p.vocab.IsUnused(id) }
func (p *Processor) IsByte(id int) bool { return p.vocab.IsByte(id) }

// HasRepeatIDs reports whether the vocabulary has the repeat marker and digit pieces, that is
// whether EncodeIDs can compress runs and DecodeIDs expands them.
func (p *Processor) HasRepeatIDs() bool { return p.idScheme != nil }

// UnkID returns the id of the unknown piece, or -1.
func (p *Processor) UnkID() int {
	return p.specialID(p.model.Trainer.UnkPiece, p.vocab.IsUnknown)
}

// BosID returns the id of the beginning of sentence piece, or -1 if it is not a control piece.
func (p *Processor) BosID() int {
	return p.specialID(p.model.Trainer.BosPiece, p.vocab.IsControl)
}

// EosID returns the id of the end of sentence piece, or -1 if it is not a control piece.
func (p *Processor) EosID() int {
	return p.specialID(p.model.Trainer.EosPiece, p.vocab.IsControl)
}

// PadID returns the id of the padding piece, or -1 if it is not a control piece.
func (p *Processor) PadID() int {
	return p.specialID(p.model.Trainer.PadPiece, p.vocab.IsControl)
}

func (p *Processor) specialID(piece string, hasType func(id int) bool) int {
	id, found := p.vocab.Lookup(piece)
	if !found || !hasType(id) {
		return -1
	}
	return id
}

// SetRandomSeed resets the generator used by SampleEncode.
func (p *Processor) SetRandomSeed(seed uint64) {
	p.muRand.Lock()
	defer p.muRand.Unlock()
	p.rng = rand.New(rand.NewPCG(seed, seed))
}

func (p *Processor) checkInitialized() error {
	if p == nil || p.segmenter == nil || p.normalizer == nil {
		return errors.Wrap(api.ErrConfiguration, "processor is not initialized")
	}
	return nil
}
