package sentencepiece

import (
	"slices"
	"strings"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/segment"
	"github.com/pkg/errors"
)

// ExtraOption is a transformation applied to the pieces after encoding or before decoding.
type ExtraOption int

const (
	// BOS prepends the beginning of sentence piece.
	BOS ExtraOption = iota
	// EOS appends the end of sentence piece.
	EOS
	// Reverse reverses the order of the pieces.
	Reverse
)

var extraOptionNames = [...]string{
	BOS:     "bos",
	EOS:     "eos",
	Reverse: "reverse",
}

// String returns the name of the option, as accepted by SetEncodeExtraOptions.
func (o ExtraOption) String() string {
	if o >= 0 && int(o) < len(extraOptionNames) {
		return extraOptionNames[o]
	}
	return "invalid"
}

// SetEncodeExtraOptions sets the options applied after encoding, as a colon separated list
// applied in order, e.g. "bos:eos" or "reverse:bos". An empty list clears them.
func (p *Processor) SetEncodeExtraOptions(options string) error {
	parsed, err := p.parseExtraOptions(options)
	if err != nil {
		return err
	}
	p.encodeExtraOptions = parsed
	return nil
}

// SetDecodeExtraOptions sets the options applied before decoding, in the same format as
// SetEncodeExtraOptions.
func (p *Processor) SetDecodeExtraOptions(options string) error {
	parsed, err := p.parseExtraOptions(options)
	if err != nil {
		return err
	}
	p.decodeExtraOptions = parsed
	return nil
}

func (p *Processor) parseExtraOptions(options string) ([]ExtraOption, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}
	var parsed []ExtraOption
	for _, name := range strings.Split(options, ":") {
		if name == "" {
			continue
		}
		index := slices.Index(extraOptionNames[:], name)
		if index < 0 {
			return nil, errors.Wrapf(api.ErrConfiguration, "option %q is not available", name)
		}
		option := ExtraOption(index)
		switch option {
		case BOS:
			if err := p.checkControlPiece(p.model.Trainer.BosPiece); err != nil {
				return nil, err
			}
		case EOS:
			if err := p.checkControlPiece(p.model.Trainer.EosPiece); err != nil {
				return nil, err
			}
		}
		parsed = append(parsed, option)
	}
	return parsed, nil
}

func (p *Processor) checkControlPiece(piece string) error {
	if p.vocab.IsUnknown(p.vocab.PieceToID(piece)) {
		return errors.Wrapf(api.ErrConfiguration, "id for %q is not defined", piece)
	}
	return nil
}

// applyEncodeExtraOptions transforms an annotated encoding of text. Inserted pieces are placed
// at the start (BOS) or end (EOS) of text.
func (p *Processor) applyEncodeExtraOptions(text string, pieces []Piece) []Piece {
	trainer := &p.model.Trainer
	for _, option := range p.encodeExtraOptions {
		switch option {
		case Reverse:
			slices.Reverse(pieces)
		case EOS:
			pieces = append(pieces, Piece{
				Piece: trainer.EosPiece,
				ID:    p.vocab.PieceToID(trainer.EosPiece),
				Begin: len(text),
				End:   len(text),
			})
		case BOS:
			pieces = slices.Insert(pieces, 0, Piece{
				Piece: trainer.BosPiece,
				ID:    p.vocab.PieceToID(trainer.BosPiece),
			})
		}
	}
	return pieces
}

// applyDecodeExtraOptions transforms the pieces to decode; offsets are computed afterwards.
func (p *Processor) applyDecodeExtraOptions(pieces []segment.Encoded) []segment.Encoded {
	trainer := &p.model.Trainer
	for _, option := range p.decodeExtraOptions {
		switch option {
		case Reverse:
			slices.Reverse(pieces)
		case EOS:
			pieces = append(pieces, segment.Encoded{Piece: trainer.EosPiece, ID: p.vocab.PieceToID(trainer.EosPiece)})
		case BOS:
			pieces = slices.Insert(pieces, 0, segment.Encoded{Piece: trainer.BosPiece, ID: p.vocab.PieceToID(trainer.BosPiece)})
		}
	}
	return pieces
}
