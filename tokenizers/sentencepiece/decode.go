package sentencepiece

import (
	"strings"
	"unicode/utf8"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/normalizer"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/repeat"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/segment"
	"github.com/pkg/errors"
)

const replacementChar = "�"

// DecodePieces expands repeat markers and returns the text of the pieces.
func (p *Processor) DecodePieces(pieces []string) (string, error) {
	res, err := p.DecodePiecesAsResult(pieces)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// DecodeIDs expands repeat markers and returns the text of the ids.
// An id out of range fails with api.ErrEncoding.
func (p *Processor) DecodeIDs(ids []int) (string, error) {
	res, err := p.DecodeIDsAsResult(ids)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// DecodePiecesAsResult is DecodePieces returning each piece annotated with its surface and its
// byte span in the decoded text.
func (p *Processor) DecodePiecesAsResult(pieces []string) (*Result, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}
	expanded, err := repeat.Pieces().Expand(pieces)
	if err != nil {
		return nil, err
	}
	encoded := make([]segment.Encoded, len(expanded))
	for i, piece := range expanded {
		encoded[i] = segment.Encoded{Piece: piece, ID: p.vocab.PieceToID(piece)}
	}
	return p.decode(encoded)
}

// DecodeIDsAsResult is DecodeIDs returning each piece annotated with its surface and its byte
// span in the decoded text.
//
// Repeat markers are only expanded if the vocabulary has the marker and digit pieces.
func (p *Processor) DecodeIDsAsResult(ids []int) (*Result, error) {
	return p.decodeIDs(ids, true)
}

// decodeIDs decodes ids, expanding repeat markers only if expand is set.
func (p *Processor) decodeIDs(ids []int, expand bool) (*Result, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}
	if expand && p.idScheme != nil {
		var err error
		ids, err = p.idScheme.Expand(ids)
		if err != nil {
			return nil, err
		}
	}
	encoded := make([]segment.Encoded, len(ids))
	for i, id := range ids {
		if !p.vocab.Valid(id) {
			return nil, errors.Wrapf(api.ErrEncoding, "id %d at position %d is out of range [0, %d)", id, i, p.vocab.Size())
		}
		encoded[i] = segment.Encoded{Piece: p.vocab.IDToPiece(id), ID: id}
	}
	return p.decode(encoded)
}

// decode builds the text of the pieces. Byte pieces are grouped and decoded as UTF-8.
func (p *Processor) decode(encoded []segment.Encoded) (*Result, error) {
	encoded = p.applyDecodeExtraOptions(encoded)
	res := &Result{Pieces: make([]Piece, len(encoded))}
	for i, e := range encoded {
		res.Pieces[i] = Piece{Piece: e.Piece, ID: e.ID}
	}

	var text strings.Builder
	setSurface := func(i int, surface string) {
		record := &res.Pieces[i]
		record.Surface = surface
		record.Begin = text.Len()
		record.End = record.Begin + len(surface)
		text.WriteString(surface)
	}

	byteStart := 0
	for i, e := range encoded {
		if p.vocab.IsByte(e.ID) {
			continue
		}
		if err := p.decodeBytePieces(res.Pieces, byteStart, i, setSurface); err != nil {
			return nil, err
		}
		byteStart = i + 1
		setSurface(i, p.pieceSurface(e, text.Len() == 0, i == len(encoded)-1))
	}
	if err := p.decodeBytePieces(res.Pieces, byteStart, len(encoded), setSurface); err != nil {
		return nil, err
	}
	res.Text = text.String()

	if p.denormalizer != nil {
		if err := p.denormalize(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// pieceSurface returns the decoded text of a non-byte piece. isFirst tells whether nothing was
// decoded yet, isLast whether it is the last piece.
func (p *Processor) pieceSurface(e segment.Encoded, isFirst, isLast bool) string {
	v := p.vocab
	switch {
	case v.IsControl(e.ID):
		return ""
	case v.IsUnknown(e.ID):
		if e.Piece == v.IDToPiece(e.ID) {
			return p.model.Trainer.UnkSurface
		}
		return e.Piece
	}

	piece := e.Piece
	spec := &p.model.Normalizer
	if spec.AddDummyPrefix || spec.RemoveExtraWhitespaces {
		if p.model.Trainer.TreatWhitespaceAsSuffix {
			if isLast {
				piece = strings.TrimSuffix(piece, normalizer.SpaceSymbol)
			}
		} else if isFirst {
			piece = strings.TrimPrefix(piece, normalizer.SpaceSymbol)
		}
	}
	return strings.ReplaceAll(piece, normalizer.SpaceSymbol, " ")
}

// decodeBytePieces sets the surfaces of the byte pieces records[begin:end]: their bytes are
// decoded as UTF-8, the last byte of each character carries the character and invalid bytes
// become U+FFFD.
func (p *Processor) decodeBytePieces(records []Piece, begin, end int, setSurface func(i int, surface string)) error {
	if begin >= end {
		return nil
	}
	bytes := make([]byte, 0, end-begin)
	for _, record := range records[begin:end] {
		b, ok := segment.PieceToByte(p.vocab.IDToPiece(record.ID))
		if !ok {
			return errors.Wrapf(api.ErrIntegrity, "byte piece %q (id %d) doesn't represent a byte", record.Piece, record.ID)
		}
		bytes = append(bytes, b)
	}
	for offset := 0; offset < len(bytes); {
		r, size := utf8.DecodeRune(bytes[offset:])
		index := begin + offset
		if r == utf8.RuneError && size <= 1 {
			setSurface(index, replacementChar)
			offset++
			continue
		}
		for j := range size {
			surface := ""
			if j == size-1 {
				surface = string(bytes[offset : offset+size])
			}
			setSurface(index+j, surface)
		}
		offset += size
	}
	return nil
}

// denormalize rewrites the decoded text with the denormalizer and remaps every piece surface
// and span onto the denormalized text.
func (p *Processor) denormalize(res *Result) error {
	denormalized, normToOrig, err := p.denormalizer.Normalize(res.Text)
	if err != nil {
		return err
	}
	// First denormalized position of every decoded text position.
	origToNorm := make([]int, len(res.Text)+1)
	for i := range origToNorm {
		origToNorm[i] = -1
	}
	for i, orig := range normToOrig {
		if orig < len(origToNorm) && origToNorm[orig] < 0 {
			origToNorm[orig] = i
		}
	}

	textPos, denormPos := 0, 0
	lastConsumed := -1
	for i := range res.Pieces {
		record := &res.Pieces[i]
		var surface strings.Builder
		for j := textPos; j < textPos+len(record.Surface); j++ {
			normIndex := origToNorm[j+1]
			if normIndex < 0 {
				continue
			}
			if lastConsumed+1 < normIndex {
				surface.WriteString(denormalized[lastConsumed+1 : normIndex])
			}
			lastConsumed = normIndex - 1
		}
		textPos += len(record.Surface)
		record.Surface = surface.String()
		record.Begin = denormPos
		denormPos += len(record.Surface)
		record.End = denormPos
	}
	res.Text = denormalized
	return nil
}
